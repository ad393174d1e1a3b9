package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BaseAdapter carries the fields and default behavior §4.6 assigns to every
// adapter: identity, transport config, capability table, and uniform
// start/success/error logging. Vendor adapters embed this and override only
// the methods their capability table marks true; the rest inherit the
// ErrNotSupported stubs below.
type BaseAdapter struct {
	ProviderName    string
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RateLimitPerMin int
	SupportedModels []string
	Caps            Capabilities
	Logger          *zap.Logger
}

// NewBaseAdapter validates the minimal configuration §4.6 requires at
// construction (name and baseURL non-empty) and fills in the 30s default
// timeout §5 specifies.
func NewBaseAdapter(name, baseURL string, timeout time.Duration, caps Capabilities, logger *zap.Logger) BaseAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseAdapter{
		ProviderName: name,
		BaseURL:      baseURL,
		Timeout:      timeout,
		Caps:         caps,
		Logger:       logger.With(zap.String("provider", name)),
	}
}

func (b BaseAdapter) Name() string                            { return b.ProviderName }
func (b BaseAdapter) Capabilities() Capabilities               { return b.Caps }
func (b BaseAdapter) SupportsNativeFunctionCalling() bool       { return b.Caps.FunctionCalling }

func (b BaseAdapter) LogStart(op string, fields ...zap.Field) {
	b.Logger.Debug("adapter call start", append([]zap.Field{zap.String("op", op)}, fields...)...)
}

func (b BaseAdapter) LogSuccess(op string, elapsed time.Duration, fields ...zap.Field) {
	b.Logger.Info("adapter call success", append([]zap.Field{
		zap.String("op", op), zap.Duration("elapsed", elapsed),
	}, fields...)...)
}

func (b BaseAdapter) LogError(op string, elapsed time.Duration, err error, fields ...zap.Field) {
	b.Logger.Warn("adapter call failed", append([]zap.Field{
		zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err),
	}, fields...)...)
}

// The following give every adapter a default "not supported" body for
// capabilities it doesn't implement; vendors that do support an operation
// shadow it with their own method of the same name on the embedding struct.

func (b BaseAdapter) CreateEmbeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, ErrNotSupported(b.ProviderName, "embeddings")
}

func (b BaseAdapter) GenerateImages(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	return nil, ErrNotSupported(b.ProviderName, "image generation")
}

func (b BaseAdapter) EditImages(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	return nil, ErrNotSupported(b.ProviderName, "image editing")
}

func (b BaseAdapter) TextToSpeech(ctx context.Context, req *SpeechRequest) ([]byte, error) {
	return nil, ErrNotSupported(b.ProviderName, "text to speech")
}

func (b BaseAdapter) AudioTranscription(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResponse, error) {
	return nil, ErrNotSupported(b.ProviderName, "audio transcription")
}

func (b BaseAdapter) ModerateContent(ctx context.Context, req *ModerationRequest) (*ModerationResponse, error) {
	return nil, ErrNotSupported(b.ProviderName, "moderation")
}

func (b BaseAdapter) ListModels(ctx context.Context) ([]Model, error) {
	models := make([]Model, 0, len(b.SupportedModels))
	for _, id := range b.SupportedModels {
		models = append(models, Model{ID: id, Object: "model", OwnedBy: b.ProviderName})
	}
	return models, nil
}
