package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/driftforge/llmgateway/llm/retry"
	"github.com/driftforge/llmgateway/types"
	"go.uber.org/zap"
)

// Default attempt budgets per §4.7: chat/embeddings/images get 10 provider
// attempts before giving up; audio (transcription/speech) gets 5.
const (
	MaxAttemptsDefault = 10
	MaxAttemptsAudio   = 5
)

// AdapterResolver is AdapterFactory's surface as the dispatcher needs it:
// resolve a realized Provider for a selection, and bracket its use so the
// factory's idle-eviction sweeper can see active requests (§4.5).
type AdapterResolver interface {
	GetOrCreate(ctx context.Context, sel *Selection) (Provider, error)
	TrackRequest(subProviderID string)
	ReleaseRequest(subProviderID string)
}

// RetryDispatcher implements §4.7: select → reserve → invoke → record,
// excluding a failed provider (by provider id, not sub-provider id) for the
// remainder of the request on a retryable error, and always releasing the
// capacity reservation on every exit path.
type RetryDispatcher struct {
	lb      *LoadBalancer
	gates   GateRegistry
	factory AdapterResolver
	logger  *zap.Logger

	// retryer paces the wait between excluding a failed provider and
	// selecting the next one, so a burst of requests hitting a struggling
	// sub-provider doesn't immediately hammer every remaining candidate in
	// lockstep (§4.7 names the exclusion behavior but not an inter-attempt
	// delay; this closes that gap with the same exponential-backoff+jitter
	// policy the rest of the gateway's retry tooling uses).
	retryer retry.Retryer
}

func NewRetryDispatcher(lb *LoadBalancer, gates GateRegistry, factory AdapterResolver, logger *zap.Logger) *RetryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryDispatcher{
		lb:      lb,
		gates:   gates,
		factory: factory,
		logger:  logger,
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   MaxAttemptsDefault,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
	}
}

// WithRetryer overrides the inter-attempt backoff policy (tests use this to
// swap in a zero-delay retryer so failover assertions don't sleep).
func (d *RetryDispatcher) WithRetryer(r retry.Retryer) *RetryDispatcher {
	d.retryer = r
	return d
}

// Dispatch runs invoke against successive selections until one succeeds or
// maxAttempts is exhausted, implementing §4.7's pseudocode exactly:
// select, skip excluded providers, reserve capacity, invoke, record, and on
// a retryable error exclude that provider id and try again. tokensUsed
// extracts the actual token count from a successful result for
// LoadBalancer.recordSuccess's bookkeeping (§4.3's capacityScore and
// §4.4's fresh-snapshot scoring both read it back from the store).
func Dispatch[T any](ctx context.Context, d *RetryDispatcher, model string, estTokens int, maxAttempts int, invoke func(ctx context.Context, adapter Provider) (T, error), tokensUsed func(T) int) (T, error) {
	var zero T
	excluded := make(map[string]bool)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sel, err := d.lb.Select(ctx, model, estTokens)
		if err != nil {
			return zero, err
		}
		if excluded[sel.Provider.ID] {
			continue
		}

		reserved := true
		if sel.SubProvider != nil {
			reserved = d.gates.Gate(sel.SubProvider).Reserve(estTokens)
		}
		if !reserved {
			d.lb.RecordError(ctx, sel, Classification{Class: ClassRetryable})
			lastErr = types.NewGatewayError(types.ErrUpstreamTransient, 503, "sub-provider at capacity", true)
			continue
		}

		result, invokeErr := dispatchOne(ctx, d, sel, invoke, tokensUsed)

		if sel.SubProvider != nil {
			d.gates.Gate(sel.SubProvider).Release()
		}

		if invokeErr == nil {
			return result, nil
		}

		lastErr = invokeErr
		class := Classify(invokeErr)
		d.lb.RecordError(ctx, sel, class)

		if class.IsRetryable() && attempt < maxAttempts {
			excluded[sel.Provider.ID] = true
			if d.retryer != nil {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(d.retryer.NextDelay(attempt)):
				}
			}
			continue
		}
		return zero, invokeErr
	}

	if lastErr != nil {
		return zero, fmt.Errorf("all %d provider attempts failed: %w", maxAttempts, lastErr)
	}
	return zero, types.NewGatewayError(types.ErrAllAttemptsFailed, 503, "all provider attempts failed", false)
}

// dispatchOne resolves the adapter, brackets it against the factory's
// active-request gauge (released on every exit path via defer), invokes,
// and on success records the measured latency and extracted token usage
// back through the LoadBalancer.
func dispatchOne[T any](ctx context.Context, d *RetryDispatcher, sel *Selection, invoke func(ctx context.Context, adapter Provider) (T, error), tokensUsed func(T) int) (T, error) {
	var zero T
	adapter, err := d.factory.GetOrCreate(ctx, sel)
	if err != nil {
		return zero, err
	}

	if sel.SubProvider != nil {
		d.factory.TrackRequest(sel.SubProvider.ID)
		defer d.factory.ReleaseRequest(sel.SubProvider.ID)
	}

	start := time.Now()
	result, err := invoke(ctx, adapter)
	latencyMillis := float64(time.Since(start).Milliseconds())
	if err != nil {
		return zero, err
	}

	used := 0
	if tokensUsed != nil {
		used = tokensUsed(result)
	}
	d.lb.RecordSuccess(ctx, sel, latencyMillis, used)
	return result, nil
}
