// Package perplexity adapts Perplexity's pplx-api, which is a plain
// OpenAI-compatible chat/completions endpoint with no request-shape quirks.
package perplexity

import (
	"context"
	"fmt"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/providers"
	"github.com/driftforge/llmgateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// PerplexityProvider implements the Perplexity adapter on top of the shared
// OpenAI-compatible base.
type PerplexityProvider struct {
	*openaicompat.Provider
	cfg providers.PerplexityConfig
}

// NewPerplexityProvider constructs a Perplexity provider.
func NewPerplexityProvider(cfg providers.PerplexityConfig, logger *zap.Logger) *PerplexityProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}

	p := &PerplexityProvider{cfg: cfg}
	p.Provider = openaicompat.New(openaicompat.Config{
		ProviderName:  "perplexity",
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		DefaultModel:  cfg.Model,
		FallbackModel: "sonar-pro",
		Timeout:       cfg.Timeout,
	}, logger)
	return p
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

func (p *PerplexityProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	status, err := p.Provider.HealthCheck(ctx)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, fmt.Errorf("perplexity health check failed: %w", err)
	}
	return status, nil
}

func (p *PerplexityProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.Provider.Completion(ctx, req)
	if err != nil {
		return nil, retagProvider(err, p.Name())
	}
	resp.Provider = p.Name()
	return resp, nil
}

func (p *PerplexityProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
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
