package llm

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/driftforge/llmgateway/types"
	"go.uber.org/zap"
)

// ProviderStore and SubProviderStore are the persistence collaborators the
// LoadBalancer reads and writes against (§6); the core only ever reads
// through these interfaces, never the concrete store package, to keep the
// balancer storage-agnostic. RecordSuccess/RecordError persist the
// per-entity counters §5 requires to survive process restarts; the
// selection path itself stays stateless (fresh snapshots every call).
type ProviderStore interface {
	ListActive(ctx context.Context) ([]*Provider, error)
	RecordSuccess(ctx context.Context, providerID string, latencyMillis float64) error
	RecordError(ctx context.Context, providerID string) error
}

type SubProviderStore interface {
	ListByProvider(ctx context.Context, providerID string) ([]*SubProvider, error)
	RecordSuccess(ctx context.Context, subProviderID string, latencyMillis float64, tokensUsed int) error
	RecordError(ctx context.Context, subProviderID string, countsAgainstHealth bool) error
}

// GateRegistry resolves the live CapacityGate for a sub-provider id,
// creating one on first use. One gate per sub-provider, shared across
// selections and requests, so window state actually accumulates.
type GateRegistry interface {
	Gate(sp *SubProvider) *CapacityGate
}

// BreakerRegistry resolves the live circuit breaker for a sub-provider id.
type BreakerRegistry interface {
	Breaker(subProviderID string) CircuitBreakerLike
	RecordSuccess(subProviderID string)
	RecordFailure(subProviderID string)
}

// CircuitBreakerLike is the subset of circuitbreaker.CircuitBreaker the load
// balancer needs; declared locally so llm's public surface doesn't import
// the circuitbreaker package's concrete type, just this shape.
type CircuitBreakerLike interface {
	IsAvailable(enabled bool, healthScore float64) bool
}

// Selection is the result of LoadBalancer.Select: a Provider, and — when the
// provider fans out over API-key slots — the chosen SubProvider.
type Selection struct {
	Provider    *Provider
	SubProvider *SubProvider // nil when Provider.NeedsSubProviders is false
}

// LoadBalancer implements §4.4's select(model, estTokens) algorithm.
type LoadBalancer struct {
	providers    ProviderStore
	subProviders SubProviderStore
	gates        GateRegistry
	breakers     BreakerRegistry
	logger       *zap.Logger
}

func NewLoadBalancer(providers ProviderStore, subProviders SubProviderStore, gates GateRegistry, breakers BreakerRegistry, logger *zap.Logger) *LoadBalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoadBalancer{providers: providers, subProviders: subProviders, gates: gates, breakers: breakers, logger: logger}
}

type scoredProvider struct {
	p     *Provider
	score float64
}

type scoredSubProvider struct {
	s     *SubProvider
	score float64
}

// Select implements the 6-step algorithm from §4.4.
func (lb *LoadBalancer) Select(ctx context.Context, model string, estTokens int) (*Selection, error) {
	all, err := lb.providers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	// Step 1: active, supports model, reporting healthy.
	candidates := make([]*Provider, 0, len(all))
	for _, p := range all {
		if p.Enabled() && p.SupportsModel(model) && p.Metrics.Health != HealthUnhealthy {
			candidates = append(candidates, p)
		}
	}

	// Step 2.
	if len(candidates) == 0 {
		return nil, errNoProvidersAvailable()
	}

	// Step 3: provider pick — score, keep top 30% (>=1), weighted-random among them.
	scoredProviders := make([]scoredProvider, 0, len(candidates))
	for _, p := range candidates {
		util := providerUtilization(p)
		scoredProviders = append(scoredProviders, scoredProvider{p: p, score: ProviderScore(p.Metrics, util)})
	}
	sort.Slice(scoredProviders, func(i, j int) bool { return scoredProviders[i].score > scoredProviders[j].score })

	pool := scoredProviders[:topFraction(len(scoredProviders), 0.30)]
	chosenProvider := weightedPickProvider(pool)

	// Step 4: providers without sub-providers resolve directly.
	if !chosenProvider.NeedsSubProviders {
		return &Selection{Provider: chosenProvider}, nil
	}

	subs, err := lb.subProviders.ListByProvider(ctx, chosenProvider.ID)
	if err != nil {
		return nil, err
	}

	filtered := make([]scoredSubProvider, 0, len(subs))
	for _, sp := range subs {
		gate := lb.gates.Gate(sp)
		breaker := lb.breakers.Breaker(sp.ID)
		available := breaker.IsAvailable(sp.Enabled, sp.Metrics.HealthScore)
		if !available {
			continue
		}
		if !gate.CanHandle(estTokens) {
			continue
		}
		if !sp.SupportsModel(model) {
			continue
		}
		util := Utilization(sp, gate, estTokens)
		filtered = append(filtered, scoredSubProvider{s: sp, score: SubProviderScore(sp.Metrics, available, util)})
	}

	// Step 5.
	if len(filtered) == 0 {
		return nil, errNoSubProvidersAvailable()
	}

	// Step 6: sub-provider pick — weighted-random over the entire filtered set.
	chosenSub := weightedPickSubProvider(filtered)

	return &Selection{Provider: chosenProvider, SubProvider: chosenSub}, nil
}

// RecordSuccess persists a successful attempt's latency against both the
// provider and (when present) the sub-provider, and closes the
// sub-provider's circuit breaker trial if it was half-open.
func (lb *LoadBalancer) RecordSuccess(ctx context.Context, sel *Selection, latencyMillis float64, tokensUsed int) {
	if err := lb.providers.RecordSuccess(ctx, sel.Provider.ID, latencyMillis); err != nil {
		lb.logger.Warn("failed to record provider success", zap.Error(err))
	}
	if sel.SubProvider == nil {
		return
	}
	if err := lb.subProviders.RecordSuccess(ctx, sel.SubProvider.ID, latencyMillis, tokensUsed); err != nil {
		lb.logger.Warn("failed to record sub-provider success", zap.Error(err))
	}
	lb.breakers.RecordSuccess(sel.SubProvider.ID)
}

// RecordError persists a failed attempt per its classification: excluded
// failures never count against health (§3 invariant), everything else
// increments consecutiveErrors and may trip the breaker.
func (lb *LoadBalancer) RecordError(ctx context.Context, sel *Selection, class Classification) {
	if class.ShouldRecordFailure() {
		if err := lb.providers.RecordError(ctx, sel.Provider.ID); err != nil {
			lb.logger.Warn("failed to record provider error", zap.Error(err))
		}
	}
	if sel.SubProvider == nil {
		return
	}
	if err := lb.subProviders.RecordError(ctx, sel.SubProvider.ID, class.ShouldRecordFailure()); err != nil {
		lb.logger.Warn("failed to record sub-provider error", zap.Error(err))
	}
	if class.ShouldRecordFailure() {
		lb.breakers.RecordFailure(sel.SubProvider.ID)
	}
}

// SupportsModel always defers to the parent Provider's model list: the
// mapping table only renames incoming model ids to upstream ones, it does
// not further restrict which models a sub-provider accepts.
func (s *SubProvider) SupportsModel(model string) bool {
	return true
}

func providerUtilization(p *Provider) float64 {
	if p.RateLimitRPM <= 0 {
		return 0
	}
	return clamp01(float64(p.Metrics.ConcurrentRequests) / float64(p.RateLimitRPM))
}

func topFraction(n int, frac float64) int {
	k := int(float64(n) * frac)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// weightedPickProvider implements §4.4's weighted-random draw over scored
// providers: total = Σw; draw r ∈ [0,total); iterate in order subtracting w
// until r < 0. total=0 picks the first candidate.
func weightedPickProvider(items []scoredProvider) *Provider {
	total := 0.0
	for _, it := range items {
		total += it.score
	}
	if total <= 0 {
		return items[0].p
	}
	r := rand.Float64() * total
	for _, it := range items {
		r -= it.score
		if r < 0 {
			return it.p
		}
	}
	return items[len(items)-1].p
}

func weightedPickSubProvider(items []scoredSubProvider) *SubProvider {
	total := 0.0
	for _, it := range items {
		total += it.score
	}
	if total <= 0 {
		return items[0].s
	}
	r := rand.Float64() * total
	for _, it := range items {
		r -= it.score
		if r < 0 {
			return it.s
		}
	}
	return items[len(items)-1].s
}

func errNoProvidersAvailable() *types.Error {
	return types.NewGatewayError(types.ErrNoProvidersAvailable, 503, "no providers available for the requested model", true)
}

func errNoSubProvidersAvailable() *types.Error {
	return types.NewGatewayError(types.ErrNoSubProvidersAvailable, 503, "no sub-providers available for the requested model", true)
}
