// Package xai adapts xAI's Grok models, which speak an OpenAI-compatible
// chat/completions format with one notable exception: the endpoint rejects
// requests carrying presence_penalty or frequency_penalty, so this package
// strips both before the request leaves the process.
package xai

import (
	"context"
	"fmt"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/providers"
	"github.com/driftforge/llmgateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// XAIProvider implements the Grok adapter on top of the shared
// OpenAI-compatible base.
type XAIProvider struct {
	*openaicompat.Provider
	cfg providers.XAIConfig
}

// NewXAIProvider constructs a Grok provider.
func NewXAIProvider(cfg providers.XAIConfig, logger *zap.Logger) *XAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai"
	}

	p := &XAIProvider{
		cfg: cfg,
	}
	p.Provider = openaicompat.New(openaicompat.Config{
		ProviderName:  "xai",
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		DefaultModel:  cfg.Model,
		FallbackModel: "grok-4",
		Timeout:       cfg.Timeout,
		RequestHook: func(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
			body.PresencePenalty = 0
			body.FrequencyPenalty = 0
		},
	}, logger)
	return p
}

func (p *XAIProvider) Name() string { return "xai" }

func (p *XAIProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	status, err := p.Provider.HealthCheck(ctx)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, fmt.Errorf("xai health check failed: %w", err)
	}
	return status, nil
}

func (p *XAIProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *XAIProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.Provider.Completion(ctx, req)
	if err != nil {
		return nil, retagProvider(err, p.Name())
	}
	resp.Provider = p.Name()
	return resp, nil
}

func (p *XAIProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch, err := p.Provider.Stream(ctx, req)
	if err != nil {
		return nil, retagProvider(err, p.Name())
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range ch {
			chunk.Provider = p.Name()
			if chunk.Err != nil {
				chunk.Err.Provider = p.Name()
			}
			out <- chunk
		}
	}()
	return out, nil
}

func retagProvider(err error, name string) error {
	if llmErr, ok := err.(*llm.Error); ok {
		llmErr.Provider = name
		return llmErr
	}
	return err
}
