package store

import (
	"context"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"gorm.io/gorm"
)

// SubProviderStore is a gorm-backed llm.SubProviderStore (§3, §6).
type SubProviderStore struct {
	db *gorm.DB
}

// NewSubProviderStore wraps a *gorm.DB connection already migrated via Migrate.
func NewSubProviderStore(db *gorm.DB) *SubProviderStore {
	return &SubProviderStore{db: db}
}

// ListByProvider returns every sub-provider configured under providerID,
// including disabled ones — LoadBalancer.Select filters eligibility itself.
func (s *SubProviderStore) ListByProvider(ctx context.Context, providerID string) ([]*llm.SubProvider, error) {
	var rows []SubProviderModel
	if err := s.db.WithContext(ctx).Where("provider_id = ?", providerID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*llm.SubProvider, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// RecordSuccess updates the success counter, resets the consecutive-error
// streak (§4.3 requires a clean success to zero it, not merely decay it),
// and folds latency/tokensUsed into the rolling average.
func (s *SubProviderStore) RecordSuccess(ctx context.Context, subProviderID string, latencyMillis float64, tokensUsed int) error {
	var m SubProviderModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", subProviderID).Error; err != nil {
		return err
	}
	const alpha = 0.2
	newAvg := latencyMillis
	if m.MetricSuccessCount+m.MetricErrorCount > 0 {
		newAvg = alpha*latencyMillis + (1-alpha)*m.MetricAvgLatencyMillis
	}
	return s.db.WithContext(ctx).Model(&SubProviderModel{}).Where("id = ?", subProviderID).Updates(map[string]any{
		"metric_success_count":      gorm.Expr("metric_success_count + 1"),
		"metric_consecutive_errors": 0,
		"metric_avg_latency_millis": newAvg,
		"updated_at":                time.Now(),
	}).Error
}

// RecordError bumps the error counter and, when countsAgainstHealth is true
// (the classifier did not mark this outcome "excluded"), the consecutive
// streak the circuit breaker and health scorer read back (§4.1, §4.3).
func (s *SubProviderStore) RecordError(ctx context.Context, subProviderID string, countsAgainstHealth bool) error {
	updates := map[string]any{
		"metric_error_count": gorm.Expr("metric_error_count + 1"),
		"updated_at":         time.Now(),
	}
	if countsAgainstHealth {
		updates["metric_consecutive_errors"] = gorm.Expr("metric_consecutive_errors + 1")
	}
	return s.db.WithContext(ctx).Model(&SubProviderModel{}).Where("id = ?", subProviderID).Updates(updates).Error
}

// Upsert inserts or replaces a sub-provider row wholesale.
func (s *SubProviderStore) Upsert(ctx context.Context, sp *llm.SubProvider) error {
	return s.db.WithContext(ctx).Save(subProviderModelFromDomain(sp)).Error
}

// Get fetches a single sub-provider by id.
func (s *SubProviderStore) Get(ctx context.Context, id string) (*llm.SubProvider, error) {
	var m SubProviderModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}
