package store

import (
	"context"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"gorm.io/gorm"
)

// ProviderStore is a gorm-backed llm.ProviderStore (§3, §6). The load
// balancer reads a fresh snapshot on every Select call, so ListActive
// intentionally returns every row regardless of Status — LoadBalancer's own
// Enabled()/SupportsModel() filter decides eligibility, not the query.
type ProviderStore struct {
	db *gorm.DB
}

// NewProviderStore wraps a *gorm.DB connection already migrated via Migrate.
func NewProviderStore(db *gorm.DB) *ProviderStore {
	return &ProviderStore{db: db}
}

// ListActive returns every registered provider.
func (s *ProviderStore) ListActive(ctx context.Context) ([]*llm.Provider, error) {
	var rows []ProviderModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*llm.Provider, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// RecordSuccess updates the rolling success counter, average latency (a
// simple exponential moving average, same smoothing factor the teacher's
// own health-scoring helpers use), and bumps UpdatedAt.
func (s *ProviderStore) RecordSuccess(ctx context.Context, providerID string, latencyMillis float64) error {
	var m ProviderModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", providerID).Error; err != nil {
		return err
	}
	const alpha = 0.2
	newAvg := latencyMillis
	if m.MetricSuccessCount+m.MetricErrorCount > 0 {
		newAvg = alpha*latencyMillis + (1-alpha)*m.MetricAvgLatencyMillis
	}
	return s.db.WithContext(ctx).Model(&ProviderModel{}).Where("id = ?", providerID).Updates(map[string]any{
		"metric_success_count":     gorm.Expr("metric_success_count + 1"),
		"metric_avg_latency_millis": newAvg,
		"updated_at":               time.Now(),
	}).Error
}

// RecordError bumps the rolling error counter.
func (s *ProviderStore) RecordError(ctx context.Context, providerID string) error {
	return s.db.WithContext(ctx).Model(&ProviderModel{}).Where("id = ?", providerID).Updates(map[string]any{
		"metric_error_count": gorm.Expr("metric_error_count + 1"),
		"updated_at":         time.Now(),
	}).Error
}

// Upsert inserts or replaces a provider row wholesale, used by the config
// seed path and any future admin API for managing the provider roster.
func (s *ProviderStore) Upsert(ctx context.Context, p *llm.Provider) error {
	return s.db.WithContext(ctx).Save(providerModelFromDomain(p)).Error
}

// Get fetches a single provider by id, used by admin tooling outside the
// LoadBalancer's hot path.
func (s *ProviderStore) Get(ctx context.Context, id string) (*llm.Provider, error) {
	var m ProviderModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}
