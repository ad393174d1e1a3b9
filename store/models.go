// Package store provides the gorm-backed persistence layer for the gateway's
// Provider/SubProvider/ApiRequest domain model (§3, §6). It is the only
// package that imports gorm for this data; llm stays storage-agnostic and
// only ever sees the llm.ProviderStore/llm.SubProviderStore interfaces this
// package implements.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/driftforge/llmgateway/llm"
)

// stringSlice and stringMap adapt []string/map[string]string to a single
// JSON text column, the way the teacher's own models store free-form
// structured fields without a dedicated join table.
type stringSlice []string

func (s stringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]string(s))
}

func (s *stringSlice) Scan(value any) error {
	return scanJSON(value, s)
}

type stringMap map[string]string

func (m stringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(map[string]string(m))
}

func (m *stringMap) Scan(value any) error {
	return scanJSON(value, m)
}

func scanJSON(value any, dst any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("store: unsupported JSON column type")
	}
}

// ProviderModel is the gorm row for a Provider (§3). Capabilities and
// metrics are flattened into columns rather than nested JSON so
// RecordSuccess/RecordError can update single counters with a targeted
// UPDATE instead of a read-modify-write JSON round trip.
type ProviderModel struct {
	ID                string      `gorm:"primaryKey;type:varchar(64)"`
	Code              string      `gorm:"uniqueIndex;type:varchar(64)"`
	Name              string      `gorm:"type:varchar(128)"`
	BaseURL           string      `gorm:"type:varchar(512)"`
	Status            int16       `gorm:"index"`
	SupportedModels   stringSlice `gorm:"type:text"`
	CapChat           bool
	CapStreaming      bool
	CapEmbeddings     bool
	CapImages         bool
	CapAudio          bool
	CapModeration     bool
	CapFunctionCalling bool
	NeedsSubProviders bool
	RateLimitRPM      int

	MetricSuccessCount      int64
	MetricErrorCount        int64
	MetricLatencyP50Millis  float64
	MetricLatencyP95Millis  float64
	MetricLatencyP99Millis  float64
	MetricAvgLatencyMillis  float64
	MetricHealth            int16
	MetricRequestsPerSecond float64
	MetricConcurrentRequests int32
	MetricUptimeRatio       float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProviderModel) TableName() string { return "providers" }

// toDomain converts a persisted row to the llm package's Provider shape.
func (m *ProviderModel) toDomain() *llm.Provider {
	return &llm.Provider{
		ID:                m.ID,
		Code:              m.Code,
		Name:              m.Name,
		BaseURL:           m.BaseURL,
		Status:            llm.ProviderStatus(m.Status),
		SupportedModels:   []string(m.SupportedModels),
		NeedsSubProviders: m.NeedsSubProviders,
		RateLimitRPM:      m.RateLimitRPM,
		Capabilities: llm.Capabilities{
			Chat:            m.CapChat,
			Streaming:       m.CapStreaming,
			Embeddings:      m.CapEmbeddings,
			Images:          m.CapImages,
			Audio:           m.CapAudio,
			Moderation:      m.CapModeration,
			FunctionCalling: m.CapFunctionCalling,
		},
		Metrics: llm.ProviderMetrics{
			SuccessCount:       m.MetricSuccessCount,
			ErrorCount:         m.MetricErrorCount,
			LatencyP50Millis:   m.MetricLatencyP50Millis,
			LatencyP95Millis:   m.MetricLatencyP95Millis,
			LatencyP99Millis:   m.MetricLatencyP99Millis,
			AvgLatencyMillis:   m.MetricAvgLatencyMillis,
			Health:             llm.HealthState(m.MetricHealth),
			RequestsPerSecond:  m.MetricRequestsPerSecond,
			ConcurrentRequests: m.MetricConcurrentRequests,
			UptimeRatio:        m.MetricUptimeRatio,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func providerModelFromDomain(p *llm.Provider) *ProviderModel {
	return &ProviderModel{
		ID:                 p.ID,
		Code:                p.Code,
		Name:                p.Name,
		BaseURL:             p.BaseURL,
		Status:              int16(p.Status),
		SupportedModels:     stringSlice(p.SupportedModels),
		CapChat:             p.Capabilities.Chat,
		CapStreaming:        p.Capabilities.Streaming,
		CapEmbeddings:       p.Capabilities.Embeddings,
		CapImages:           p.Capabilities.Images,
		CapAudio:            p.Capabilities.Audio,
		CapModeration:       p.Capabilities.Moderation,
		CapFunctionCalling:  p.Capabilities.FunctionCalling,
		NeedsSubProviders:   p.NeedsSubProviders,
		RateLimitRPM:        p.RateLimitRPM,
		MetricHealth:        int16(p.Metrics.Health),
		MetricUptimeRatio:   p.Metrics.UptimeRatio,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// SubProviderModel is the gorm row for a SubProvider (§3). EncryptedAPIKey
// and EncryptionIV are stored verbatim — already ciphertext/IV by the time
// they reach this layer, since AdapterFactory is the only component
// permitted to see plaintext.
type SubProviderModel struct {
	ID                    string    `gorm:"primaryKey;type:varchar(64)"`
	ProviderID            string    `gorm:"index;type:varchar(64)"`
	Label                 string    `gorm:"type:varchar(128)"`
	EncryptedAPIKey       string    `gorm:"type:text"`
	EncryptionIV          string    `gorm:"type:varchar(64)"`
	Priority              int
	Weight                float64
	ModelMapping          stringMap `gorm:"type:text"`
	Enabled               bool      `gorm:"index"`
	MaxRPM                int
	MaxRPH                int
	MaxTPM                int
	MaxConcurrentRequests int
	CircuitBreakerState   string `gorm:"type:varchar(16)"`

	MetricSuccessCount      int64
	MetricErrorCount        int64
	MetricConsecutiveErrors int32
	MetricAvgLatencyMillis  float64
	MetricHealthScore       float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SubProviderModel) TableName() string { return "sub_providers" }

func (m *SubProviderModel) toDomain() *llm.SubProvider {
	return &llm.SubProvider{
		ID:                    m.ID,
		ProviderID:            m.ProviderID,
		Label:                 m.Label,
		EncryptedAPIKey:       m.EncryptedAPIKey,
		EncryptionIV:          m.EncryptionIV,
		Priority:              m.Priority,
		Weight:                m.Weight,
		ModelMapping:          map[string]string(m.ModelMapping),
		Enabled:               m.Enabled,
		MaxRPM:                m.MaxRPM,
		MaxRPH:                m.MaxRPH,
		MaxTPM:                m.MaxTPM,
		MaxConcurrentRequests: m.MaxConcurrentRequests,
		CircuitBreakerState:   m.CircuitBreakerState,
		Metrics: llm.SubProviderMetrics{
			SuccessCount:      m.MetricSuccessCount,
			ErrorCount:        m.MetricErrorCount,
			ConsecutiveErrors: m.MetricConsecutiveErrors,
			AvgLatencyMillis:  m.MetricAvgLatencyMillis,
			HealthScore:       m.MetricHealthScore,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func subProviderModelFromDomain(s *llm.SubProvider) *SubProviderModel {
	return &SubProviderModel{
		ID:                    s.ID,
		ProviderID:            s.ProviderID,
		Label:                 s.Label,
		EncryptedAPIKey:       s.EncryptedAPIKey,
		EncryptionIV:          s.EncryptionIV,
		Priority:              s.Priority,
		Weight:                s.Weight,
		ModelMapping:          stringMap(s.ModelMapping),
		Enabled:               s.Enabled,
		MaxRPM:                s.MaxRPM,
		MaxRPH:                s.MaxRPH,
		MaxTPM:                s.MaxTPM,
		MaxConcurrentRequests: s.MaxConcurrentRequests,
		CircuitBreakerState:   s.CircuitBreakerState,
		MetricHealthScore:     s.Metrics.HealthScore,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

// ApiRequestModel is the gorm row for an ApiRequest accounting record (§3, §6).
type ApiRequestModel struct {
	ID            string `gorm:"primaryKey;type:varchar(64)"`
	UserID        string `gorm:"index;type:varchar(64)"`
	Model         string `gorm:"type:varchar(128)"`
	Endpoint      string `gorm:"type:varchar(256)"`
	Method        string `gorm:"type:varchar(16)"`
	Status        string `gorm:"index;type:varchar(16)"`
	TokensUsed    int
	CreditsUsed   float64
	LatencyMillis int64
	RequestBytes  int64
	ResponseBytes int64
	StatusCode    int
	ErrorMessage  string `gorm:"type:text"`
	RetryCount    int

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (ApiRequestModel) TableName() string { return "api_requests" }

func (m *ApiRequestModel) toDomain() *llm.ApiRequest {
	return &llm.ApiRequest{
		ID:            m.ID,
		UserID:        m.UserID,
		Model:         m.Model,
		Endpoint:      m.Endpoint,
		Method:        m.Method,
		Status:        llm.ApiRequestStatus(m.Status),
		TokensUsed:    m.TokensUsed,
		CreditsUsed:   m.CreditsUsed,
		LatencyMillis: m.LatencyMillis,
		RequestBytes:  m.RequestBytes,
		ResponseBytes: m.ResponseBytes,
		StatusCode:    m.StatusCode,
		ErrorMessage:  m.ErrorMessage,
		RetryCount:    m.RetryCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func apiRequestModelFromDomain(r *llm.ApiRequest) *ApiRequestModel {
	return &ApiRequestModel{
		ID:            r.ID,
		UserID:        r.UserID,
		Model:         r.Model,
		Endpoint:      r.Endpoint,
		Method:        r.Method,
		Status:        string(r.Status),
		TokensUsed:    r.TokensUsed,
		CreditsUsed:   r.CreditsUsed,
		LatencyMillis: r.LatencyMillis,
		RequestBytes:  r.RequestBytes,
		ResponseBytes: r.ResponseBytes,
		StatusCode:    r.StatusCode,
		ErrorMessage:  r.ErrorMessage,
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
