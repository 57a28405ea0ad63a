package review

import (
	"context"
	"sort"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// TransitionFunc computes the new state of a record from its current state.
// Returning an error leaves the stored record unchanged.
type TransitionFunc func(current *domain.PendingTransaction) (*domain.PendingTransaction, error)

// Store persists staged transactions.
type Store interface {
	// StageBatch saves all records of one upload batch. Either every record
	// is stored or none is. Staging a record ID that already exists replaces
	// it only while it is still pending. Pending records of the batch that
	// are not in txs are removed; reviewed ones are kept.
	StageBatch(ctx context.Context, batchID string, txs []*domain.PendingTransaction) error

	// Get returns one record or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.PendingTransaction, error)

	// ListByBatch returns the records of an upload in source order.
	ListByBatch(ctx context.Context, batchID string) ([]*domain.PendingTransaction, error)

	// ListByUser returns a user's records, filtered by status when it is set.
	ListByUser(ctx context.Context, userID string, status domain.ReviewStatus) ([]*domain.PendingTransaction, error)

	// Transition runs fn against the current record and saves its result.
	// Transitions on the same record are serialized.
	Transition(ctx context.Context, id string, fn TransitionFunc) (*domain.PendingTransaction, error)
}

// SortBySource orders records by page, table and row.
func SortBySource(txs []*domain.PendingTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Source, txs[j].Source
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Row < b.Row
	})
}
