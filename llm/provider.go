// Package llm provides unified LLM provider abstraction and routing.
package llm

import (
	"context"
	"time"

	"github.com/driftforge/llmgateway/types"
)

// Re-export types for backward compatibility during migration.
// These will be removed after full migration.
type (
	Message      = types.Message
	Role         = types.Role
	ToolCall     = types.ToolCall
	ToolSchema   = types.ToolSchema
	ToolResult   = types.ToolResult
	TokenUsage   = types.TokenUsage
	Error        = types.Error
	ErrorCode    = types.ErrorCode
	ImageContent = types.ImageContent
)

// Re-export constants.
const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Re-export error codes.
const (
	ErrInvalidRequest      = types.ErrInvalidRequest
	ErrAuthentication      = types.ErrAuthentication
	ErrUnauthorized        = types.ErrUnauthorized
	ErrForbidden           = types.ErrForbidden
	ErrRateLimit           = types.ErrRateLimit
	ErrRateLimited         = types.ErrRateLimited
	ErrQuotaExceeded       = types.ErrQuotaExceeded
	ErrModelNotFound       = types.ErrModelNotFound
	ErrModelOverloaded     = types.ErrModelOverloaded
	ErrContextTooLong      = types.ErrContextTooLong
	ErrContentFiltered     = types.ErrContentFiltered
	ErrUpstreamError       = types.ErrUpstreamError
	ErrUpstreamTimeout     = types.ErrUpstreamTimeout
	ErrTimeout             = types.ErrTimeout
	ErrInternalError       = types.ErrInternalError
	ErrServiceUnavailable  = types.ErrServiceUnavailable
	ErrProviderUnavailable = types.ErrProviderUnavailable
)

// Provider is the realized adapter for one vendor family. An Adapter
// instance (AdapterFactory's unit of caching) wraps one of these bound to a
// single SubProvider's decrypted credentials. Capability-unsupported methods
// must return an *Error with Code = types.ErrNotSupported rather than panic;
// Capabilities() lets callers gate without invoking the method at all.
type Provider interface {
	// Completion sends a synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream sends a streaming chat request.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// CreateEmbeddings computes embedding vectors for the given inputs.
	CreateEmbeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// GenerateImages creates one or more images from a text prompt.
	GenerateImages(ctx context.Context, req *ImageRequest) (*ImageResponse, error)

	// EditImages edits an existing image per a text prompt and optional mask.
	EditImages(ctx context.Context, req *ImageRequest) (*ImageResponse, error)

	// TextToSpeech synthesizes audio for the given text.
	TextToSpeech(ctx context.Context, req *SpeechRequest) ([]byte, error)

	// AudioTranscription transcribes (or translates, per req.Translate) audio to text.
	AudioTranscription(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResponse, error)

	// ModerateContent screens content for policy violations.
	ModerateContent(ctx context.Context, req *ModerationRequest) (*ModerationResponse, error)

	// HealthCheck performs a lightweight health check.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier.
	Name() string

	// SupportsNativeFunctionCalling returns whether native function calling is supported.
	SupportsNativeFunctionCalling() bool

	// Capabilities reports which of the above operations are implemented.
	Capabilities() Capabilities

	// ListModels returns the list of available models from the provider.
	// Returns nil if the provider doesn't support model listing.
	ListModels(ctx context.Context) ([]Model, error)
}

// Capabilities is the static capability-gating table §9 recommends: a
// struct of booleans per adapter, checked before dispatch so unsupported
// operations fail fast with a sentinel error instead of reaching the wire.
type Capabilities struct {
	Chat        bool
	Streaming   bool
	Embeddings  bool
	Images      bool
	Audio       bool
	Moderation  bool
	FunctionCalling bool
}

// ErrNotSupported builds the sentinel error a capability-gated method
// returns when the underlying adapter does not implement the operation.
func ErrNotSupported(provider, operation string) *Error {
	return &Error{
		Code:       types.ErrNotSupported,
		Message:    operation + " is not supported by " + provider,
		HTTPStatus: 400,
		Provider:   provider,
	}
}

// HealthStatus represents provider health check result.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	TraceID     string            `json:"trace_id"`
	TenantID    string            `json:"tenant_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Temperature      float32           `json:"temperature,omitempty"`
	TopP             float32           `json:"top_p,omitempty"`
	PresencePenalty  float32           `json:"presence_penalty,omitempty"`
	FrequencyPenalty float32           `json:"frequency_penalty,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tags        []string          `json:"tags,omitempty"`

	Stream            bool   `json:"stream,omitempty"`
	ParallelToolCalls *bool  `json:"parallel_tool_calls,omitempty"`
	ResponseFormat    string `json:"response_format,omitempty"`
	ReasoningEffort   string `json:"reasoning_effort,omitempty"` // low|medium|high

	// Extended fields
	ReasoningMode      string   `json:"reasoning_mode,omitempty"`
	PreviousResponseID string   `json:"previous_response_id,omitempty"`
	ThoughtSignatures  []string `json:"thought_signatures,omitempty"`
}

// EmbeddingRequest mirrors POST /v1/embeddings.
type EmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// EmbeddingResponse mirrors OpenAI's embeddings response shape.
type EmbeddingResponse struct {
	Model string           `json:"model"`
	Data  []EmbeddingDatum `json:"data"`
	Usage ChatUsage        `json:"usage"`
}

// EmbeddingDatum is one vector in an EmbeddingResponse.
type EmbeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// ImageRequest mirrors POST /v1/images/{generations,edits}.
type ImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
	Image  []byte `json:"-"` // source image for edits
	Mask   []byte `json:"-"`
}

// ImageResponse mirrors OpenAI's images response shape.
type ImageResponse struct {
	CreatedAt time.Time    `json:"created"`
	Data      []ImageDatum `json:"data"`
}

// ImageDatum is one generated image, either a URL or inline base64.
type ImageDatum struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// SpeechRequest mirrors POST /v1/audio/speech.
type SpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
	Format string `json:"response_format,omitempty"`
}

// TranscriptionRequest mirrors POST /v1/audio/{transcriptions,translations}.
type TranscriptionRequest struct {
	Model     string `json:"model"`
	Audio     []byte `json:"-"`
	Filename  string `json:"-"`
	Language  string `json:"language,omitempty"`
	Translate bool   `json:"-"`
}

// TranscriptionResponse mirrors OpenAI's transcription response shape.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// ModerationRequest mirrors POST /v1/moderations, and is also the shape the
// ModerationPreCheck collaborator consumes.
type ModerationRequest struct {
	Model  string   `json:"model,omitempty"`
	Input  []string `json:"input"`
	Images []string `json:"images,omitempty"` // base64
}

// ModerationResponse mirrors OpenAI's moderation response shape.
type ModerationResponse struct {
	Provider  string             `json:"-"`
	Model     string             `json:"model"`
	Results   []ModerationResult `json:"results"`
	CreatedAt time.Time          `json:"-"`
}

// ModerationResult is one verdict in a ModerationResponse.
type ModerationResult struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"category_scores"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	ID                string       `json:"id,omitempty"`
	Provider          string       `json:"provider,omitempty"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	Usage             ChatUsage    `json:"usage"`
	CreatedAt         time.Time    `json:"created_at"`
	ThoughtSignatures []string     `json:"thought_signatures,omitempty"`
}

// ChatChoice represents a single choice in the response.
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatUsage represents token usage in a response.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a streaming response chunk.
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// Model represents a model available from a provider.
type Model struct {
	ID          string    `json:"id"`           // 模型 ID（API 调用时使用）
	Object      string    `json:"object"`       // 对象类型（通常是 "model"）
	Created     int64     `json:"created"`      // 创建时间戳
	OwnedBy     string    `json:"owned_by"`     // 所属组织
	Permissions []string  `json:"permissions"`  // 权限列表
	Root        string    `json:"root"`         // 根模型
	Parent      string    `json:"parent"`       // 父模型
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
