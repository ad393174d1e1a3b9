package llm

import "time"

// ============================================================
// Provider & SubProvider data model (§3)
// ============================================================

// ProviderStatus is the administrative status of a Provider.
type ProviderStatus int16

const (
	ProviderStatusInactive ProviderStatus = 0
	ProviderStatusActive   ProviderStatus = 1
	ProviderStatusDisabled ProviderStatus = 2
)

// HealthState is the coarse health bucket the HealthScorer feeds from.
type HealthState int16

const (
	HealthHealthy   HealthState = 0
	HealthDegraded  HealthState = 1
	HealthUnhealthy HealthState = 2
)

// ProviderMetrics is the aggregate counters a Provider carries: running
// success/error counts, rolling latency percentiles, and a live
// concurrent-request gauge, per §3.
type ProviderMetrics struct {
	SuccessCount        int64       `bson:"success_count" json:"success_count"`
	ErrorCount           int64       `bson:"error_count" json:"error_count"`
	LatencyP50Millis    float64     `bson:"latency_p50_ms" json:"latency_p50_ms"`
	LatencyP95Millis    float64     `bson:"latency_p95_ms" json:"latency_p95_ms"`
	LatencyP99Millis    float64     `bson:"latency_p99_ms" json:"latency_p99_ms"`
	AvgLatencyMillis    float64     `bson:"avg_latency_ms" json:"avg_latency_ms"`
	Health               HealthState `bson:"health" json:"health"`
	RequestsPerSecond    float64     `bson:"rps" json:"rps"`
	ConcurrentRequests   int32       `bson:"concurrent_requests" json:"concurrent_requests"`
	UptimeRatio          float64     `bson:"uptime_ratio" json:"uptime_ratio"`
}

// Provider is a vendor family: identity, base URL, supported model list,
// capability set, rate limits, feature flags, and aggregate metrics (§3).
type Provider struct {
	ID                 string         `bson:"_id" json:"id"`
	Code               string         `bson:"code" json:"code"` // "openai", "anthropic", "bedrock", ...
	Name               string         `bson:"name" json:"name"`
	BaseURL            string         `bson:"base_url" json:"base_url"`
	Status             ProviderStatus `bson:"status" json:"status"`
	SupportedModels    []string       `bson:"supported_models" json:"supported_models"`
	Capabilities       Capabilities   `bson:"capabilities" json:"capabilities"`
	NeedsSubProviders  bool           `bson:"needs_sub_providers" json:"needs_sub_providers"`
	RateLimitRPM       int            `bson:"rate_limit_rpm" json:"rate_limit_rpm"`
	Metrics            ProviderMetrics `bson:"metrics" json:"metrics"`
	CreatedAt          time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `bson:"updated_at" json:"updated_at"`
}

// Enabled reports whether the provider may be selected at all.
func (p *Provider) Enabled() bool {
	return p.Status == ProviderStatusActive
}

// SupportsModel reports whether the provider's static model list contains model,
// or the provider advertises no restriction (empty list ⇒ any model).
func (p *Provider) SupportsModel(model string) bool {
	if len(p.SupportedModels) == 0 {
		return true
	}
	for _, m := range p.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// SubProviderMetrics carries the per-key counters §3 assigns: successCount,
// errorCount, consecutiveErrors, avgLatency, healthScore, and circuit state.
type SubProviderMetrics struct {
	SuccessCount      int64   `bson:"success_count" json:"success_count"`
	ErrorCount        int64   `bson:"error_count" json:"error_count"`
	ConsecutiveErrors int32   `bson:"consecutive_errors" json:"consecutive_errors"`
	AvgLatencyMillis  float64 `bson:"avg_latency_ms" json:"avg_latency_ms"`
	HealthScore       float64 `bson:"health_score" json:"health_score"` // ∈[0,1]
}

// SubProvider is a concrete API-key slot bound to one Provider (§3).
// EncryptedAPIKey is the AES-256-CBC ciphertext; AdapterFactory is the only
// component that ever decrypts it.
type SubProvider struct {
	ID                      string            `bson:"_id" json:"id"`
	ProviderID              string            `bson:"provider_id" json:"provider_id"`
	Label                   string            `bson:"label" json:"label"`
	EncryptedAPIKey         string            `bson:"encrypted_api_key" json:"-"`
	EncryptionIV            string            `bson:"encryption_iv" json:"-"`
	Priority                int               `bson:"priority" json:"priority"`
	Weight                  float64           `bson:"weight" json:"weight"`
	ModelMapping            map[string]string `bson:"model_mapping" json:"model_mapping"` // incoming → upstream model
	Enabled                 bool              `bson:"enabled" json:"enabled"`
	MaxRPM                  int               `bson:"max_rpm" json:"max_rpm"`
	MaxRPH                  int               `bson:"max_rph" json:"max_rph"`
	MaxTPM                  int               `bson:"max_tpm" json:"max_tpm"`
	MaxConcurrentRequests   int               `bson:"max_concurrent_requests" json:"max_concurrent_requests"`
	CircuitBreakerState     string            `bson:"circuit_breaker_state" json:"circuit_breaker_state"` // closed|open|half-open
	Metrics                 SubProviderMetrics `bson:"metrics" json:"metrics"`
	CreatedAt               time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time         `bson:"updated_at" json:"updated_at"`
}

// UpstreamModel resolves the incoming model name to the upstream-specific
// one via the sub-provider's mapping table, falling back to the identity.
func (s *SubProvider) UpstreamModel(incoming string) string {
	if s.ModelMapping == nil {
		return incoming
	}
	if mapped, ok := s.ModelMapping[incoming]; ok {
		return mapped
	}
	return incoming
}

// TotalRequests is successCount + errorCount, excluding excluded-classified
// failures per the §3 invariant.
func (m SubProviderMetrics) TotalRequests() int64 {
	return m.SuccessCount + m.ErrorCount
}

// ============================================================
// ApiRequest accounting record (§3, §6)
// ============================================================

// ApiRequestStatus is the lifecycle state of an ApiRequest.
type ApiRequestStatus string

const (
	ApiRequestPending    ApiRequestStatus = "pending"
	ApiRequestProcessing ApiRequestStatus = "processing"
	ApiRequestCompleted  ApiRequestStatus = "completed"
	ApiRequestFailed     ApiRequestStatus = "failed"
	ApiRequestTimeout    ApiRequestStatus = "timeout"
)

// ApiRequest is created at accept-time and transitions exactly once to a
// terminal state (completed|failed|timeout), idempotent on its ID (§3).
type ApiRequest struct {
	ID            string           `bson:"_id" json:"id"`
	UserID        string           `bson:"user_id" json:"user_id"`
	Model         string           `bson:"model" json:"model"`
	Endpoint      string           `bson:"endpoint" json:"endpoint"`
	Method        string           `bson:"method" json:"method"`
	Status        ApiRequestStatus `bson:"status" json:"status"`
	TokensUsed    int              `bson:"tokens_used" json:"tokens_used"`
	CreditsUsed   float64          `bson:"credits_used" json:"credits_used"`
	LatencyMillis int64            `bson:"latency_ms" json:"latency_ms"`
	RequestBytes  int64            `bson:"request_bytes" json:"request_bytes"`
	ResponseBytes int64            `bson:"response_bytes" json:"response_bytes"`
	StatusCode    int              `bson:"status_code" json:"status_code"`
	ErrorMessage  string           `bson:"error_message,omitempty" json:"error_message,omitempty"`
	RetryCount    int              `bson:"retry_count" json:"retry_count"`
	CreatedAt     time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `bson:"updated_at" json:"updated_at"`
}
