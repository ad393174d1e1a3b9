// Package openrouter adapts OpenRouter, an OpenAI-compatible aggregator that
// routes by a "<vendor>/<model>" id. Requests whose model id carries no
// vendor segment get DefaultVendor prepended before they leave the process;
// OpenRouter also reads HTTP-Referer/X-Title for its public leaderboard
// attribution, which this package sets from config when present.
package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/providers"
	"github.com/driftforge/llmgateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// OpenRouterProvider implements the OpenRouter adapter on top of the shared
// OpenAI-compatible base.
type OpenRouterProvider struct {
	*openaicompat.Provider
	cfg providers.OpenRouterConfig
}

// NewOpenRouterProvider constructs an OpenRouter provider.
func NewOpenRouterProvider(cfg providers.OpenRouterConfig, logger *zap.Logger) *OpenRouterProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	p := &OpenRouterProvider{cfg: cfg}
	p.Provider = openaicompat.New(openaicompat.Config{
		ProviderName: "openrouter",
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
		RequestHook: func(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
			body.Model = withVendorPrefix(body.Model, cfg.DefaultVendor)
		},
		BuildHeaders: func(httpReq *http.Request, apiKey string) {
			httpReq.Header.Set("Authorization", "Bearer "+apiKey)
			httpReq.Header.Set("Content-Type", "application/json")
			if cfg.SiteURL != "" {
				httpReq.Header.Set("HTTP-Referer", cfg.SiteURL)
			}
			if cfg.AppName != "" {
				httpReq.Header.Set("X-Title", cfg.AppName)
			}
		},
	}, logger)
	return p
}

// withVendorPrefix prepends defaultVendor to model when model carries no
// "<vendor>/" segment of its own.
func withVendorPrefix(model, defaultVendor string) string {
	if model == "" || defaultVendor == "" || strings.Contains(model, "/") {
		return model
	}
	return defaultVendor + "/" + model
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

func (p *OpenRouterProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	status, err := p.Provider.HealthCheck(ctx)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: time.Since(start)}, fmt.Errorf("openrouter health check failed: %w", err)
	}
	return status, nil
}

func (p *OpenRouterProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.Provider.Completion(ctx, req)
	if err != nil {
		return nil, retagProvider(err, p.Name())
	}
	resp.Provider = p.Name()
	return resp, nil
}

func (p *OpenRouterProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
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
