// Package gateway wires the core §4 collaborators — LoadBalancer,
// RetryDispatcher, AdapterFactory, StreamMachine — into the single entry
// point the HTTP handler layer calls for both synchronous and streaming
// chat completions. It is the concrete composition root factory.go,
// adapterfactory.go, retrydispatcher.go, and streammachine.go all leave
// abstract: where the realized Provider comes from, where counters persist,
// and how the accounting ledger gets its terminal write.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/driftforge/llmgateway/internal/cache"
	"github.com/driftforge/llmgateway/internal/ctxkeys"
	"github.com/driftforge/llmgateway/internal/pool"
	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/factory"
	"github.com/driftforge/llmgateway/llm/retry"
	"github.com/driftforge/llmgateway/llm/tokenizer"
	"github.com/driftforge/llmgateway/store"
	"github.com/driftforge/llmgateway/tools/openapi"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Gateway is the façade the HTTP layer depends on instead of a bare
// llm.Provider: every request it serves goes through the full
// select→reserve→invoke→record pipeline rather than a single fixed adapter.
type Gateway struct {
	lb         *llm.LoadBalancer
	gates      llm.GateRegistry
	dispatcher *llm.RetryDispatcher
	factory    *llm.AdapterFactory
	accounting *store.AccountingStore
	logger     *zap.Logger

	// bgPool offloads accounting writes and cache fills off the request hot
	// path: neither needs to finish before the caller gets its response, and
	// a burst of concurrent completions shouldn't serialize on gorm/redis
	// round-trips.
	bgPool *pool.GoroutinePool

	// cache is an optional completion-response cache (§6 doesn't require
	// one, but a repeated identical prompt — common in eval harnesses and
	// retry-from-client scenarios — shouldn't re-spend a provider attempt
	// budget). nil when Config.Cache is nil or Redis was unreachable at
	// startup; callers degrade to always-dispatch.
	cache *cache.Manager

	// extraTools holds tool schemas loaded from Config.ToolSources at
	// startup (OpenAPI specs turned into callable tools via tools/openapi).
	// Merged into a request's Tools when the caller didn't specify any of
	// its own, so a deployment can expose a fixed set of HTTP-backed tools
	// without every client having to declare them.
	extraTools []llm.ToolSchema
}

// Config collects the pieces New needs to assemble the gateway.
type Config struct {
	DB                  *gorm.DB
	MasterEncryptionKey string
	Logger              *zap.Logger

	// Cache, when non-nil, enables a Redis-backed completion-response cache.
	// Construction failure (Redis unreachable) is logged and treated as
	// "cache disabled" rather than a fatal New error, matching the rest of
	// the gateway's best-effort accounting posture.
	Cache *cache.Config

	// ToolSources lists OpenAPI spec URLs to load as callable tools at
	// startup. A source that fails to load is logged and skipped; it never
	// fails gateway construction.
	ToolSources []string
}

// New builds a Gateway backed by the gorm store package for persistence and
// factory.NewProviderFromConfig for realizing adapters (§4.5's AdapterBuilder
// is exactly this closure — llm/adapterfactory.go documents the import-cycle
// reason it can't call the factory package directly).
func New(cfg Config) (*Gateway, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("gateway: nil database connection")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := store.NewProviderStore(cfg.DB)
	subProviders := store.NewSubProviderStore(cfg.DB)
	gates := llm.NewInMemoryGateRegistry()
	breakers := llm.NewInMemoryBreakerRegistry(logger)

	lb := llm.NewLoadBalancer(providers, subProviders, gates, breakers, logger)

	build := func(code string, bc llm.AdapterBuilderConfig) (llm.Provider, error) {
		return factory.NewProviderFromConfig(code, factory.ProviderConfig{
			APIKey:  bc.APIKey,
			APIKeys: bc.APIKeys,
			BaseURL: bc.BaseURL,
			Model:   bc.Model,
			Timeout: bc.Timeout,
			Extra:   bc.Extra,
		}, logger)
	}

	af, err := llm.NewAdapterFactory(cfg.MasterEncryptionKey, build, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	dispatcher := llm.NewRetryDispatcher(lb, gates, af, logger)

	bgPool := pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig())

	var cacheMgr *cache.Manager
	if cfg.Cache != nil {
		m, err := cache.NewManager(*cfg.Cache, logger)
		if err != nil {
			logger.Warn("completion cache disabled: redis unreachable", zap.Error(err))
		} else {
			cacheMgr = m
		}
	}

	var extraTools []llm.ToolSchema
	if len(cfg.ToolSources) > 0 {
		extraTools = loadToolSources(cfg.ToolSources, logger)
	}

	return &Gateway{
		lb:         lb,
		gates:      gates,
		dispatcher: dispatcher,
		factory:    af,
		accounting: store.NewAccountingStore(cfg.DB),
		logger:     logger,
		bgPool:     bgPool,
		cache:      cacheMgr,
		extraTools: extraTools,
	}, nil
}

// loadToolSources turns a list of OpenAPI spec URLs into tool schemas via
// tools/openapi.Generator. Fetching a spec is a one-shot HTTP call at startup
// against a third party, so each source gets a few retry attempts through
// retry.DoWithResultTyped before being logged and skipped — a transient DNS
// or connection hiccup shouldn't permanently disable a configured tool source
// for the process's whole lifetime.
func loadToolSources(sources []string, logger *zap.Logger) []llm.ToolSchema {
	gen := openapi.NewGenerator(openapi.GeneratorConfig{}, logger)
	ctx := context.Background()
	specRetryer := retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, logger)

	var schemas []llm.ToolSchema
	for _, src := range sources {
		source := src
		spec, err := retry.DoWithResultTyped[*openapi.OpenAPISpec](specRetryer, ctx, func() (*openapi.OpenAPISpec, error) {
			return gen.LoadSpec(ctx, source)
		})
		if err != nil {
			logger.Warn("failed to load openapi tool source", zap.String("source", src), zap.Error(err))
			continue
		}
		tools, err := gen.GenerateTools(spec, openapi.GenerateOptions{})
		if err != nil {
			logger.Warn("failed to generate tools from openapi source", zap.String("source", src), zap.Error(err))
			continue
		}
		for _, t := range tools {
			schemas = append(schemas, t.Schema)
		}
	}
	return schemas
}

// withExtraTools merges the gateway's OpenAPI-derived tools into req when
// the caller didn't specify any of its own; an explicit Tools list always
// wins so a client that knows exactly what it wants isn't surprised by
// extra tool schemas appearing in the request it sent upstream.
func (g *Gateway) withExtraTools(req *llm.ChatRequest) *llm.ChatRequest {
	if len(g.extraTools) == 0 || len(req.Tools) > 0 {
		return req
	}
	merged := *req
	merged.Tools = g.extraTools
	return &merged
}

// Close releases the adapter factory's background sweeper, drains the
// background task pool, and closes the cache connection if one is open.
func (g *Gateway) Close() {
	g.factory.Close()
	g.bgPool.Close()
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			g.logger.Warn("error closing completion cache", zap.Error(err))
		}
	}
}

// cacheKey derives a stable completion-cache key from the request fields
// that determine its output: model, messages, and sampling parameters.
// TraceID/UserID are deliberately excluded so two identical prompts from
// different callers share a cache entry.
func cacheKey(req *llm.ChatRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%f|%f", req.Model, req.Messages, req.Temperature, req.TopP)
	return "completion:" + hex.EncodeToString(h.Sum(nil))
}

// maxAttemptsFor implements §4.7's per-operation attempt budget: audio
// operations get 5, everything else (chat/embeddings/images) gets 10. The
// gateway only serves chat today, so this always resolves to the default —
// kept as a function rather than a constant so an audio entry point can
// reuse it without duplicating the table.
func maxAttemptsFor(op string) int {
	if op == "audio" {
		return llm.MaxAttemptsAudio
	}
	return llm.MaxAttemptsDefault
}

// estimateTokens approximates the prompt token count tiktoken's cl100k_base
// encoding would report, without paying for a full tokenizer load per
// request — the LoadBalancer/CapacityGate only need this to size a
// reservation window, not to bill a customer.
func estimateTokens(req *llm.ChatRequest) int {
	enc, err := tokenizer.NewTiktokenTokenizer(req.Model)
	if err != nil {
		return roughTokens(req)
	}
	msgs := make([]tokenizer.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	n, err := enc.CountMessages(msgs)
	if err != nil {
		return roughTokens(req)
	}
	return n
}

// roughTokens is tiktoken's fallback: ceil(len(text)/4), the same heuristic
// StreamMachine uses for the completion-side estimate (§4.8).
func roughTokens(req *llm.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return int(math.Ceil(float64(total) / 4.0))
}

// Completion runs a non-streaming chat request through the full retry
// pipeline (§4.7) and records the outcome in the accounting ledger (§6).
func (g *Gateway) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	requestID := req.TraceID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = ctxkeys.WithTraceID(ctx, requestID)
	ctx = ctxkeys.WithLLMModel(ctx, req.Model)
	req = g.withExtraTools(req)
	estTokens := estimateTokens(req)

	key := cacheKey(req)
	if g.cache != nil {
		var cached llm.ChatResponse
		if err := g.cache.GetJSON(ctx, key, &cached); err == nil {
			g.logger.Debug("completion cache hit", zap.String("trace_id", requestID))
			return &cached, nil
		} else if !cache.IsCacheMiss(err) {
			g.logger.Warn("completion cache read failed", zap.Error(err))
		}
	}

	record := &llm.ApiRequest{
		ID:     requestID,
		UserID: req.UserID,
		Model:  req.Model,
		Status: llm.ApiRequestPending,
	}
	if err := g.accounting.Create(ctx, record); err != nil {
		g.logger.Warn("failed to create accounting record", zap.Error(err))
	}

	resp, err := llm.Dispatch(ctx, g.dispatcher, req.Model, estTokens, maxAttemptsFor("chat"),
		func(ctx context.Context, adapter llm.Provider) (*llm.ChatResponse, error) {
			return adapter.Completion(ctx, req)
		},
		func(resp *llm.ChatResponse) int {
			if resp == nil {
				return 0
			}
			return resp.Usage.TotalTokens
		},
	)

	if err != nil {
		g.completeAccountingAsync(requestID, llm.ApiRequestFailed, 0, err)
		return nil, err
	}

	g.completeAccountingAsync(requestID, llm.ApiRequestCompleted, resp.Usage.TotalTokens, nil)
	if g.cache != nil {
		respCopy := *resp
		g.submitBackground(func(ctx context.Context) error {
			return g.cache.SetJSON(ctx, key, &respCopy, 0)
		})
	}
	return resp, nil
}

// completeAccountingAsync offloads the terminal accounting write onto bgPool
// so the caller's response isn't held up by a gorm round-trip; a fresh
// background context is used since the request context may already be
// cancelled (the client has its response) by the time the task runs.
func (g *Gateway) completeAccountingAsync(requestID string, status llm.ApiRequestStatus, tokensUsed int, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	g.submitBackground(func(ctx context.Context) error {
		return g.accounting.Complete(ctx, requestID, status, tokensUsed, 0, msg)
	})
}

// submitBackground runs task on the pool, falling back to a detached
// goroutine if the pool rejects it (full queue under extreme burst) rather
// than dropping the write silently.
func (g *Gateway) submitBackground(task pool.Task) {
	ctx := context.Background()
	if err := g.bgPool.Submit(ctx, task); err != nil {
		g.logger.Warn("background pool rejected task, running detached", zap.Error(err))
		go func() {
			if err := task(ctx); err != nil {
				g.logger.Warn("background task failed", zap.Error(err))
			}
		}()
	}
}

// Stream builds a StreamMachine for one logical streaming request (§4.8).
// The caller drives it with Next(ctx) until ok=false; finalization (and the
// accounting write) happens exactly once, inside the machine itself, via the
// finalizer this method installs.
func (g *Gateway) Stream(ctx context.Context, req *llm.ChatRequest) (llm.StreamIterator, error) {
	requestID := req.TraceID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = ctxkeys.WithTraceID(ctx, requestID)
	ctx = ctxkeys.WithLLMModel(ctx, req.Model)
	req = g.withExtraTools(req)
	estTokens := estimateTokens(req)

	record := &llm.ApiRequest{
		ID:     requestID,
		UserID: req.UserID,
		Model:  req.Model,
		Status: llm.ApiRequestPending,
	}
	if err := g.accounting.Create(ctx, record); err != nil {
		g.logger.Warn("failed to create accounting record", zap.Error(err))
	}

	finalizer := func(_ context.Context, outcome llm.StreamFinalizeOutcome) {
		status := llm.ApiRequestCompleted
		if !outcome.Success {
			status = llm.ApiRequestFailed
		}
		g.completeAccountingAsync(requestID, status, outcome.TotalTokens, outcome.Err)
	}

	sm := llm.NewStreamMachine(g.lb, g.gates, g.factory, req, req.Model, estTokens, estTokens,
		maxAttemptsFor("chat"), requestID, finalizer, g.logger)
	return sm, nil
}
