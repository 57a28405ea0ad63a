package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
)

// Outcome is the result of one record in a bulk operation.
type Outcome struct {
	ID     string              `json:"id"`
	Status domain.ReviewStatus `json:"status"`
	Error  string              `json:"error,omitempty"`

	Err error `json:"-"`
}

// Service applies reviewer decisions through a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a review service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Approve moves a pending or modified record to approved.
func (s *Service) Approve(ctx context.Context, id, reviewer string) (*domain.PendingTransaction, error) {
	return s.apply(ctx, id, ActionApprove, reviewer, nil)
}

// Reject moves a pending or modified record to rejected.
func (s *Service) Reject(ctx context.Context, id, reviewer string) (*domain.PendingTransaction, error) {
	return s.apply(ctx, id, ActionReject, reviewer, nil)
}

// Modify applies reviewer corrections to a pending record.
func (s *Service) Modify(ctx context.Context, id, reviewer string, o domain.Overrides) (*domain.PendingTransaction, error) {
	if err := ValidateOverrides(o); err != nil {
		return nil, fmt.Errorf("Modify: %s: %w", id, err)
	}
	return s.apply(ctx, id, ActionModify, reviewer, &o)
}

// BulkApprove approves every record of a batch. Each record is handled on
// its own: one conflict does not stop the others.
func (s *Service) BulkApprove(ctx context.Context, batchID, reviewer string) ([]Outcome, error) {
	log := logger.FromContext(ctx)

	txs, err := s.store.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("BulkApprove: listing batch %s: %w", batchID, err)
	}

	outcomes := make([]Outcome, 0, len(txs))
	approved := 0
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("BulkApprove: %w", err)
		}
		o := Outcome{ID: tx.ID, Status: tx.Status}
		updated, err := s.apply(ctx, tx.ID, ActionApprove, reviewer, nil)
		if err != nil {
			o.Err, o.Error = err, err.Error()
		} else {
			o.Status = updated.Status
			approved++
		}
		outcomes = append(outcomes, o)
	}

	log.Info().
		Str("batch_id", batchID).
		Str("reviewer", reviewer).
		Int("approved", approved).
		Int("total", len(txs)).
		Msg("Bulk approve finished")
	return outcomes, nil
}

func (s *Service) apply(ctx context.Context, id string, action Action, reviewer string, o *domain.Overrides) (*domain.PendingTransaction, error) {
	log := logger.FromContext(ctx)
	if reviewer == "" {
		return nil, fmt.Errorf("%s: reviewer is required", action)
	}

	at := s.now()
	updated, err := s.store.Transition(ctx, id, func(cur *domain.PendingTransaction) (*domain.PendingTransaction, error) {
		return Apply(cur, action, reviewer, at, o)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflictingReview) {
			log.Warn().Err(err).Str("transaction_id", id).Str("action", string(action)).Msg("Review conflict")
		}
		return nil, err
	}

	log.Info().
		Str("transaction_id", id).
		Str("action", string(action)).
		Str("status", string(updated.Status)).
		Str("reviewer", reviewer).
		Msg("Transaction reviewed")
	return updated, nil
}
