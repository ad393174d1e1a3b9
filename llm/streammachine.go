package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftforge/llmgateway/llm/retry"
	"github.com/driftforge/llmgateway/llm/streaming"
	"github.com/driftforge/llmgateway/types"
	"go.uber.org/zap"
)

// StreamFinalizeOutcome carries the bookkeeping StreamMachine.Next's caller
// needs once finalization has run exactly once (§4.8 "Finalization").
type StreamFinalizeOutcome struct {
	Success       bool
	Err           error
	PromptTokens  int
	CompletionTok int // ceil(len(accumulatedText)/4), the completion estimate
	TotalTokens   int
	Attempts      int
}

// StreamFinalizer is invoked exactly once per StreamMachine, carrying the
// terminal outcome to the accounting collaborator (§6 AccountingStore,
// out of core scope — the gateway's HTTP layer supplies this callback).
type StreamFinalizer func(ctx context.Context, outcome StreamFinalizeOutcome)

// StreamIterator is StreamMachine's caller-facing surface. HTTP handlers
// depend on this instead of *StreamMachine so tests can drive a fake
// iterator without assembling a real LoadBalancer/AdapterFactory.
type StreamIterator interface {
	Next(ctx context.Context) (chunk StreamChunk, ok bool, err error)
}

// StreamMachine implements §4.8: a caller-pull iterator over a single
// logical stream that transparently re-selects the upstream provider on
// mid-stream failure, accumulates usage for a completion-token estimate,
// and runs finalization exactly once regardless of which exit path ends
// the stream (clean end-of-stream, exhausted retries, or cancellation).
type StreamMachine struct {
	lb          *LoadBalancer
	gates       GateRegistry
	factory     AdapterResolver
	req         *ChatRequest
	model       string
	estTokens   int
	maxAttempts int
	requestID   string
	promptTok   int
	logger      *zap.Logger

	mu              sync.Mutex
	currentUpstream <-chan StreamChunk
	currentBP       *streaming.BackpressureStream[StreamChunk]
	currentSel      *Selection
	attemptStart    time.Time
	excluded        map[string]bool
	attempt         int
	accumulated     strings.Builder
	finalized       bool
	postTasks       chan struct{}
	finalizer       StreamFinalizer
	retryer         retry.Retryer
}

// NewStreamMachine constructs a machine for one logical request. estTokens
// is the prompt token estimate the LoadBalancer/CapacityGate reserve
// against; promptTokens seeds the final usage total alongside the
// completion estimate computed from accumulated delta text.
func NewStreamMachine(lb *LoadBalancer, gates GateRegistry, factory AdapterResolver, req *ChatRequest, model string, estTokens, promptTokens, maxAttempts int, requestID string, finalizer StreamFinalizer, logger *zap.Logger) *StreamMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = MaxAttemptsDefault
	}
	return &StreamMachine{
		lb:          lb,
		gates:       gates,
		factory:     factory,
		req:         req,
		model:       model,
		estTokens:   estTokens,
		promptTok:   promptTokens,
		maxAttempts: maxAttempts,
		requestID:   requestID,
		logger:      logger,
		excluded:    make(map[string]bool),
		postTasks:   make(chan struct{}),
		finalizer:   finalizer,
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   maxAttempts,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
	}
}

// Done returns a channel that closes once finalization has run, so callers
// can await the post-response accounting task (§4.8 "postTasks handle").
func (m *StreamMachine) Done() <-chan struct{} {
	return m.postTasks
}

// Next pulls the next unified chunk, transparently re-selecting the
// upstream on a mid-stream error. ok=false means the logical stream is
// over (either cleanly or because finalization already ran); callers
// should stop iterating once ok is false, checking err for the terminal
// failure if any.
func (m *StreamMachine) Next(ctx context.Context) (chunk StreamChunk, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return StreamChunk{}, false, nil
	}

	for {
		if m.currentUpstream == nil {
			if selErr := m.selectUpstreamLocked(ctx); selErr != nil {
				m.finalizeLocked(false, selErr)
				return StreamChunk{}, false, selErr
			}
		}

		select {
		case <-ctx.Done():
			// Cancellation propagates inward; capacity is released and
			// finalization runs with the cancellation as the terminal error
			// (§5 "The finalization task must run even on cancel").
			m.releaseCurrentLocked()
			m.finalizeLocked(false, ctx.Err())
			return StreamChunk{}, false, ctx.Err()

		case c, open := <-m.currentUpstream:
			if !open {
				// Clean end-of-stream: the adapter's SSE/event-stream decoder
				// closed the channel without a final error chunk.
				m.recordCurrentOutcomeLocked(true, nil)
				m.currentUpstream = nil
				m.finalizeLocked(true, nil)
				return StreamChunk{}, false, nil
			}

			if c.Err != nil {
				m.logger.Warn("stream upstream error mid-stream",
					zap.String("provider", m.currentSel.Provider.Code),
					zap.Error(c.Err))
				m.recordCurrentOutcomeLocked(false, c.Err)
				m.currentUpstream = nil
				m.excluded[m.currentSel.Provider.ID] = true

				class := Classify(c.Err)
				if !class.IsRetryable() || m.attempt >= m.maxAttempts {
					m.finalizeLocked(false, c.Err)
					return StreamChunk{}, false, c.Err
				}
				continue
			}

			c.ID = m.requestID
			if c.Delta.Content != "" {
				m.accumulated.WriteString(c.Delta.Content)
			}
			return c, true, nil
		}
	}
}

// selectUpstreamLocked implements §4.8 step 1: loop through LoadBalancer +
// reserve + adapter.Stream until a streaming iterator is obtained or
// attempts are exhausted. Mirrors RetryDispatcher.Dispatch's selection
// loop but keeps the reservation open for the stream's lifetime instead of
// releasing it immediately, since a streaming request's capacity footprint
// lasts as long as the stream itself.
func (m *StreamMachine) selectUpstreamLocked(ctx context.Context) error {
	for m.attempt < m.maxAttempts {
		m.attempt++

		sel, err := m.lb.Select(ctx, m.model, m.estTokens)
		if err != nil {
			return err
		}
		if m.excluded[sel.Provider.ID] {
			continue
		}

		reserved := true
		if sel.SubProvider != nil {
			reserved = m.gates.Gate(sel.SubProvider).Reserve(m.estTokens)
		}
		if !reserved {
			m.lb.RecordError(ctx, sel, Classification{Class: ClassRetryable})
			continue
		}

		adapter, err := m.factory.GetOrCreate(ctx, sel)
		if err != nil {
			if sel.SubProvider != nil {
				m.gates.Gate(sel.SubProvider).Release()
			}
			m.lb.RecordError(ctx, sel, Classification{Class: ClassRetryable})
			continue
		}
		if sel.SubProvider != nil {
			m.factory.TrackRequest(sel.SubProvider.ID)
		}

		ch, err := adapter.Stream(ctx, m.req)
		if err != nil {
			if sel.SubProvider != nil {
				m.factory.ReleaseRequest(sel.SubProvider.ID)
				m.gates.Gate(sel.SubProvider).Release()
			}
			class := Classify(err)
			m.lb.RecordError(ctx, sel, class)
			if class.IsRetryable() {
				m.excluded[sel.Provider.ID] = true
				if waitErr := m.backoffLocked(ctx); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		bp := streaming.NewBackpressureStream[StreamChunk](streaming.DefaultBackpressureConfig())
		go pumpUpstream(ch, bp)

		m.currentUpstream = bp.ReadChan()
		m.currentBP = bp
		m.currentSel = sel
		m.attemptStart = time.Now()
		return nil
	}
	return types.NewGatewayError(types.ErrAllAttemptsFailed, 503, fmt.Sprintf("all %d provider attempts failed", m.maxAttempts), false)
}

// pumpUpstream relays the adapter's raw stream channel into the
// backpressure buffer, decoupling the adapter's own producer goroutine
// from however slowly Next's caller drains chunks downstream (e.g. a
// congested HTTP response writer). Uses a background context for the
// buffer write so a single slow Next(ctx) call's deadline can't wedge the
// adapter's producer.
func pumpUpstream(ch <-chan StreamChunk, bp *streaming.BackpressureStream[StreamChunk]) {
	defer bp.Close()
	for c := range ch {
		if err := bp.Write(context.Background(), c); err != nil {
			return
		}
	}
}

// backoffLocked waits out the retryer's inter-attempt delay before the next
// provider selection, same policy as RetryDispatcher.Dispatch, mirroring
// §4.7's exclusion semantics into the stream's own selection loop.
func (m *StreamMachine) backoffLocked(ctx context.Context) error {
	if m.retryer == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.retryer.NextDelay(m.attempt)):
		return nil
	}
}

// recordCurrentOutcomeLocked releases the current selection's capacity
// reservation and active-request tracking and records the outcome back
// through the LoadBalancer, exactly once per selected upstream.
func (m *StreamMachine) recordCurrentOutcomeLocked(success bool, streamErr error) {
	if m.currentSel == nil {
		return
	}
	ctx := context.Background()
	if m.currentSel.SubProvider != nil {
		m.factory.ReleaseRequest(m.currentSel.SubProvider.ID)
		m.gates.Gate(m.currentSel.SubProvider).Release()
	}
	latency := float64(time.Since(m.attemptStart).Milliseconds())
	if success {
		m.lb.RecordSuccess(ctx, m.currentSel, latency, m.completionTokensLocked())
	} else {
		m.lb.RecordError(ctx, m.currentSel, Classify(streamErr))
	}
	if m.currentBP != nil {
		m.currentBP.Close()
		m.currentBP = nil
	}
}

// releaseCurrentLocked releases an in-flight selection's reservation
// without recording a success/error outcome — used on cancellation, where
// neither classification applies cleanly.
func (m *StreamMachine) releaseCurrentLocked() {
	if m.currentBP != nil {
		m.currentBP.Close()
		m.currentBP = nil
	}
	if m.currentSel == nil {
		return
	}
	if m.currentSel.SubProvider != nil {
		m.factory.ReleaseRequest(m.currentSel.SubProvider.ID)
		m.gates.Gate(m.currentSel.SubProvider).Release()
	}
}

// completionTokensLocked is the §4.8 finalization estimate:
// ceil(len(accumulatedText)/4).
func (m *StreamMachine) completionTokensLocked() int {
	n := m.accumulated.Len()
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// finalizeLocked runs the finalizer exactly once (guarded by m.finalized)
// and closes postTasks so Done() callers unblock.
func (m *StreamMachine) finalizeLocked(success bool, err error) {
	if m.finalized {
		return
	}
	m.finalized = true

	completion := m.completionTokensLocked()
	outcome := StreamFinalizeOutcome{
		Success:       success,
		Err:           err,
		PromptTokens:  m.promptTok,
		CompletionTok: completion,
		TotalTokens:   m.promptTok + completion,
		Attempts:      m.attempt,
	}

	go func() {
		if m.finalizer != nil {
			m.finalizer(context.Background(), outcome)
		}
		close(m.postTasks)
	}()
}
