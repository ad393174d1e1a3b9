package store

import (
	"context"

	"github.com/driftforge/llmgateway/llm"
	"gorm.io/gorm"
)

// AccountingStore persists ApiRequest lifecycle records (§3, §6): created at
// accept-time as pending, transitioned exactly once to a terminal state by
// the gateway's finalization path (RetryDispatcher's synchronous return or
// StreamMachine's finalizer).
type AccountingStore struct {
	db *gorm.DB
}

// NewAccountingStore wraps a *gorm.DB connection already migrated via Migrate.
func NewAccountingStore(db *gorm.DB) *AccountingStore {
	return &AccountingStore{db: db}
}

// Create inserts a new ApiRequest, normally in ApiRequestPending status.
func (s *AccountingStore) Create(ctx context.Context, r *llm.ApiRequest) error {
	return s.db.WithContext(ctx).Create(apiRequestModelFromDomain(r)).Error
}

// Complete transitions a request to a terminal state with its final usage
// figures. Idempotent on id: a second call with the same id simply
// overwrites the same terminal row, matching the §3 "idempotent on its ID"
// invariant rather than rejecting the repeat write.
func (s *AccountingStore) Complete(ctx context.Context, id string, status llm.ApiRequestStatus, tokensUsed int, latencyMillis int64, errMessage string) error {
	return s.db.WithContext(ctx).Model(&ApiRequestModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":         string(status),
		"tokens_used":    tokensUsed,
		"latency_millis": latencyMillis,
		"error_message":  errMessage,
	}).Error
}

// Get fetches a single accounting record, used by usage-reporting endpoints.
func (s *AccountingStore) Get(ctx context.Context, id string) (*llm.ApiRequest, error) {
	var m ApiRequestModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

// ListByUser returns the most recent requests for a user, newest first,
// capped at limit.
func (s *AccountingStore) ListByUser(ctx context.Context, userID string, limit int) ([]*llm.ApiRequest, error) {
	var rows []ApiRequestModel
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*llm.ApiRequest, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
