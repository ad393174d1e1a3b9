// Package bedrock adapts Anthropic Claude models served through Amazon
// Bedrock Runtime's InvokeModel / InvokeModelWithResponseStream APIs. The
// wire body is the same Anthropic Messages shape the direct anthropic
// adapter sends (minus the top-level "model" field, which Bedrock encodes
// in the URL path instead), but transport, auth (AWS SigV4 instead of
// x-api-key), and streaming framing (AWS EventStream instead of plain SSE)
// are entirely different, so this is its own adapter rather than a thin
// wrapper over the anthropic package.
package bedrock

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/middleware"
	"github.com/driftforge/llmgateway/llm/providers"
	"go.uber.org/zap"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockProvider implements the llm.Provider interface for Claude models
// fronted by Amazon Bedrock.
type BedrockProvider struct {
	llm.BaseAdapter
	cfg           providers.BedrockConfig
	client        *http.Client
	logger        *zap.Logger
	rewriterChain *middleware.RewriterChain
}

// NewBedrockProvider constructs a Bedrock Runtime adapter.
func NewBedrockProvider(cfg providers.BedrockConfig, logger *zap.Logger) *BedrockProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Region)
	}

	return &BedrockProvider{
		BaseAdapter: llm.NewBaseAdapter("bedrock", cfg.BaseURL, timeout, llm.Capabilities{
			Chat:            true,
			Streaming:       true,
			FunctionCalling: true,
		}, logger),
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		rewriterChain: middleware.NewRewriterChain(
			middleware.NewEmptyToolsCleaner(),
		),
	}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *BedrockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	// Bedrock Runtime has no lightweight ping endpoint; a minimal
	// one-token completion against the configured model is the cheapest
	// reachability probe available.
	start := time.Now()
	_, err := p.Completion(ctx, &llm.ChatRequest{
		Model:     p.modelID(""),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type bedrockTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type bedrockInvokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float32          `json:"temperature,omitempty"`
	TopP             float32          `json:"top_p,omitempty"`
	StopSequences    []string         `json:"stop_sequences,omitempty"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type bedrockInvokeResponse struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    []bedrockContent `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      *bedrockUsage    `json:"usage,omitempty"`
}

// bedrockStreamEvent mirrors the direct Anthropic streaming event shapes;
// Bedrock forwards them unmodified inside each EventStream chunk's "bytes"
// field.
type bedrockStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index,omitempty"`
	Delta        *bedrockStreamDelta    `json:"delta,omitempty"`
	ContentBlock *bedrockContent        `json:"content_block,omitempty"`
	Message      *bedrockInvokeResponse `json:"message,omitempty"`
	Usage        *bedrockUsage          `json:"usage,omitempty"`
}

type bedrockStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// modelID resolves the request model, falling back to the configured model
// or a Claude-on-Bedrock default.
func (p *BedrockProvider) modelID(requested string) string {
	if requested != "" {
		return requested
	}
	if p.cfg.Model != "" {
		return p.cfg.Model
	}
	return "anthropic.claude-3-5-sonnet-20241022-v2:0"
}

func convertToBedrockMessages(msgs []llm.Message) (string, []bedrockMessage) {
	var system string
	var out []bedrockMessage
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		if m.Role == llm.RoleTool {
			out = append(out, bedrockMessage{
				Role: "user",
				Content: []bedrockContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
			continue
		}
		bm := bedrockMessage{Role: string(m.Role)}
		if m.Content != "" {
			bm.Content = append(bm.Content, bedrockContent{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			bm.Content = append(bm.Content, bedrockContent{
				Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
			})
		}
		if len(bm.Content) > 0 {
			out = append(out, bm)
		}
	}
	return system, out
}

func convertToBedrockTools(tools []llm.ToolSchema) []bedrockTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]bedrockTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, bedrockTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func (p *BedrockProvider) invokeURL(model string, stream bool) string {
	action := "invoke"
	if stream {
		action = "invoke-with-response-stream"
	}
	return fmt.Sprintf("%s/model/%s/%s", strings.TrimRight(p.cfg.BaseURL, "/"), model, action)
}

func (p *BedrockProvider) signedRequest(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	signRequest(httpReq, payload, p.cfg.Region, p.cfg.AccessKeyID, p.cfg.SecretAccessKey, p.cfg.SessionToken, time.Now())
	return p.client.Do(httpReq)
}

func (p *BedrockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	rewrittenReq, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err),
			HTTPStatus: http.StatusBadRequest, Provider: p.Name(),
		}
	}
	req = rewrittenReq

	model := p.modelID(req.Model)
	system, messages := convertToBedrockMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := bedrockInvokeRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		Messages:         messages,
		System:           system,
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
		Tools:            convertToBedrockTools(req.Tools),
	}
	payload, _ := json.Marshal(body)

	resp, err := p.signedRequest(ctx, p.invokeURL(model, false), payload)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var invokeResp bedrockInvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&invokeResp); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	return toBedrockChatResponse(invokeResp, model, p.Name()), nil
}

func toBedrockChatResponse(r bedrockInvokeResponse, model, provider string) *llm.ChatResponse {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			msg.Content += c.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input})
		}
	}
	resp := &llm.ChatResponse{
		ID:       r.ID,
		Provider: provider,
		Model:    model,
		Choices:  []llm.ChatChoice{{Index: 0, FinishReason: r.StopReason, Message: msg}},
	}
	if r.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		}
	}
	return resp
}

func (p *BedrockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	rewrittenReq, err := p.rewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err),
			HTTPStatus: http.StatusBadRequest, Provider: p.Name(),
		}
	}
	req = rewrittenReq

	model := p.modelID(req.Model)
	system, messages := convertToBedrockMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := bedrockInvokeRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		Messages:         messages,
		System:           system,
		MaxTokens:        maxTokens,
		Tools:            convertToBedrockTools(req.Tools),
	}
	payload, _ := json.Marshal(body)

	resp, err := p.signedRequest(ctx, p.invokeURL(model, true), payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		var currentID, currentModel string
		toolCalls := make(map[int]*llm.ToolCall)

		decodeErr := decodeEventStream(resp.Body, func(msg eventStreamMessage) error {
			var envelope struct {
				Bytes string `json:"bytes"`
			}
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				return err
			}
			raw, err := base64.StdEncoding.DecodeString(envelope.Bytes)
			if err != nil {
				return err
			}
			var event bedrockStreamEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				return err
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					currentID = event.Message.ID
					currentModel = model
				}
			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					toolCalls[event.Index] = &llm.ToolCall{
						ID: event.ContentBlock.ID, Name: event.ContentBlock.Name, Arguments: json.RawMessage("{}"),
					}
				}
			case "content_block_delta":
				if event.Delta == nil {
					return nil
				}
				chunk := llm.StreamChunk{
					ID: currentID, Provider: p.Name(), Model: currentModel, Index: event.Index,
					Delta: llm.Message{Role: llm.RoleAssistant},
				}
				if event.Delta.Type == "text_delta" {
					chunk.Delta.Content = event.Delta.Text
				} else if event.Delta.Type == "input_json_delta" {
					if tc, ok := toolCalls[event.Index]; ok {
						tc.Arguments = append(tc.Arguments, []byte(event.Delta.PartialJSON)...)
					}
					return nil
				}
				ch <- chunk
			case "content_block_stop":
				if tc, ok := toolCalls[event.Index]; ok {
					ch <- llm.StreamChunk{
						ID: currentID, Provider: p.Name(), Model: currentModel, Index: event.Index,
						Delta: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{*tc}},
					}
					delete(toolCalls, event.Index)
				}
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					ch <- llm.StreamChunk{ID: currentID, Provider: p.Name(), Model: currentModel, FinishReason: event.Delta.StopReason}
				}
			case "message_stop":
				if event.Usage != nil {
					ch <- llm.StreamChunk{
						ID: currentID, Provider: p.Name(), Model: currentModel,
						Usage: &llm.ChatUsage{
							PromptTokens:     event.Usage.InputTokens,
							CompletionTokens: event.Usage.OutputTokens,
							TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
						},
					}
				}
			}
			return nil
		})
		if decodeErr != nil {
			ch <- llm.StreamChunk{Err: &llm.Error{
				Code: llm.ErrUpstreamError, Message: decodeErr.Error(),
				HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
			}}
		}
	}()

	return ch, nil
}
