package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/review"
)

// Store is an in-memory implementation of review.Store.
// It is safe for concurrent use. Data is lost on restart; use the Postgres
// store for persistence.
type Store struct {
	mu  sync.RWMutex
	txs map[string]*domain.PendingTransaction
}

// NewStore creates an empty in-memory review store.
func NewStore() *Store {
	return &Store{txs: make(map[string]*domain.PendingTransaction)}
}

// StageBatch implements review.Store.
func (s *Store) StageBatch(ctx context.Context, batchID string, txs []*domain.PendingTransaction) error {
	if batchID == "" {
		return fmt.Errorf("StageBatch: batch ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching the map.
	incoming := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("StageBatch: transaction ID is required")
		}
		if tx.UploadBatchID != batchID {
			return fmt.Errorf("StageBatch: %s belongs to batch %q, not %q", tx.ID, tx.UploadBatchID, batchID)
		}
		if cur, ok := s.txs[tx.ID]; ok && cur.Status != domain.StatusPending {
			return fmt.Errorf("StageBatch: %s is already %s: %w", tx.ID, cur.Status, domain.ErrConflictingReview)
		}
		incoming[tx.ID] = struct{}{}
	}

	for id, cur := range s.txs {
		if cur.UploadBatchID != batchID || cur.Status != domain.StatusPending {
			continue
		}
		if _, ok := incoming[id]; !ok {
			delete(s.txs, id)
		}
	}
	for _, tx := range txs {
		s.txs[tx.ID] = tx.Clone()
	}
	return nil
}

// Get implements review.Store.
func (s *Store) Get(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("Get: transaction %s: %w", id, domain.ErrNotFound)
	}
	return tx.Clone(), nil
}

// ListByBatch implements review.Store.
func (s *Store) ListByBatch(ctx context.Context, batchID string) ([]*domain.PendingTransaction, error) {
	return s.list(func(tx *domain.PendingTransaction) bool {
		return tx.UploadBatchID == batchID
	}), nil
}

// ListByUser implements review.Store.
func (s *Store) ListByUser(ctx context.Context, userID string, status domain.ReviewStatus) ([]*domain.PendingTransaction, error) {
	return s.list(func(tx *domain.PendingTransaction) bool {
		return tx.UserID == userID && (status == "" || tx.Status == status)
	}), nil
}

func (s *Store) list(keep func(*domain.PendingTransaction) bool) []*domain.PendingTransaction {
	s.mu.RLock()
	var out []*domain.PendingTransaction
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	s.mu.RUnlock()

	review.SortBySource(out)
	return out
}

// Transition implements review.Store. A single write lock covers the read,
// fn and the write, so transitions never interleave.
func (s *Store) Transition(ctx context.Context, id string, fn review.TransitionFunc) (*domain.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("Transition: transaction %s: %w", id, domain.ErrNotFound)
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	s.txs[id] = next.Clone()
	return next, nil
}

// Ensure Store implements review.Store.
var _ review.Store = (*Store)(nil)
