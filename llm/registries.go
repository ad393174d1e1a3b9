package llm

import (
	"sync"

	"github.com/driftforge/llmgateway/llm/circuitbreaker"
	"go.uber.org/zap"
)

// InMemoryGateRegistry lazily creates and caches one CapacityGate per
// sub-provider id, sized from that sub-provider's configured limits the
// first time it is seen (§4.2). Gates are never resized after creation —
// an admin changing MaxRPM/MaxTPM/MaxConcurrentRequests on an existing
// sub-provider takes effect on the next process restart, matching how the
// teacher's own config hot-reload marks storage-backed limits as
// requires-restart rather than rewiring live structures.
type InMemoryGateRegistry struct {
	mu    sync.Mutex
	gates map[string]*CapacityGate
}

// NewInMemoryGateRegistry constructs an empty registry.
func NewInMemoryGateRegistry() *InMemoryGateRegistry {
	return &InMemoryGateRegistry{gates: make(map[string]*CapacityGate)}
}

// Gate implements GateRegistry.
func (r *InMemoryGateRegistry) Gate(sp *SubProvider) *CapacityGate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[sp.ID]; ok {
		return g
	}
	g := NewCapacityGate(sp.MaxRPM, sp.MaxTPM, sp.MaxConcurrentRequests)
	r.gates[sp.ID] = g
	return g
}

// InMemoryBreakerRegistry lazily creates and caches one circuit breaker per
// sub-provider id, using the package-wide default thresholds (§4.3). Like
// InMemoryGateRegistry, breaker state lives only in process memory — a
// restart resets every sub-provider to closed, which is the safe default
// for a circuit breaker (never start a fleet assuming upstream is broken).
type InMemoryBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewInMemoryBreakerRegistry constructs an empty registry.
func NewInMemoryBreakerRegistry(logger *zap.Logger) *InMemoryBreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryBreakerRegistry{breakers: make(map[string]circuitbreaker.CircuitBreaker), logger: logger}
}

func (r *InMemoryBreakerRegistry) breakerFor(subProviderID string) circuitbreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[subProviderID]; ok {
		return b
	}
	b := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), r.logger.With(zap.String("sub_provider_id", subProviderID)))
	r.breakers[subProviderID] = b
	return b
}

// Breaker implements BreakerRegistry.
func (r *InMemoryBreakerRegistry) Breaker(subProviderID string) CircuitBreakerLike {
	return r.breakerFor(subProviderID)
}

// RecordSuccess implements BreakerRegistry.
func (r *InMemoryBreakerRegistry) RecordSuccess(subProviderID string) {
	r.breakerFor(subProviderID).RecordSuccess()
}

// RecordFailure implements BreakerRegistry.
func (r *InMemoryBreakerRegistry) RecordFailure(subProviderID string) {
	r.breakerFor(subProviderID).RecordFailure()
}
