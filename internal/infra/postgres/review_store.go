package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReviewStore implements review.Store on a pgx pool. Concurrent
// transitions of one record are serialized with row locks.
type ReviewStore struct {
	pool *pgxpool.Pool
}

// NewReviewStore creates a store on an open pool.
func NewReviewStore(pool *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{pool: pool}
}

// StageBatch implements review.Store.
func (s *ReviewStore) StageBatch(ctx context.Context, batchID string, txs []*domain.PendingTransaction) error {
	if batchID == "" {
		return fmt.Errorf("StageBatch: batch ID is required")
	}
	ids := make([]string, 0, len(txs))
	rows := make([]*transactionRow, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			return fmt.Errorf("StageBatch: transaction ID is required")
		}
		if tx.UploadBatchID != batchID {
			return fmt.Errorf("StageBatch: %s belongs to batch %q, not %q", tx.ID, tx.UploadBatchID, batchID)
		}
		row, err := toRow(tx)
		if err != nil {
			return fmt.Errorf("StageBatch: %w", err)
		}
		ids = append(ids, tx.ID)
		rows = append(rows, row)
	}

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("StageBatch: beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	existing, err := lockExisting(ctx, dbTx, batchID, ids)
	if err != nil {
		return fmt.Errorf("StageBatch: %w", err)
	}
	stale, err := restagePlan(existing, ids)
	if err != nil {
		return fmt.Errorf("StageBatch: %w", err)
	}
	if len(stale) > 0 {
		if _, err := dbTx.Exec(ctx, `DELETE FROM pending_transactions WHERE id = ANY($1)`, stale); err != nil {
			return fmt.Errorf("StageBatch: deleting stale records: %w", err)
		}
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(upsertSQL, row.args()...)
		}
		br := dbTx.SendBatch(ctx, batch)
		for _, row := range rows {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("StageBatch: upserting %s: %w", row.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("StageBatch: closing batch: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("StageBatch: committing: %w", err)
	}
	return nil
}

// lockExisting locks the batch's current records and any other records
// sharing the new IDs, and returns their statuses by ID.
func lockExisting(ctx context.Context, dbTx pgx.Tx, batchID string, ids []string) (map[string]domain.ReviewStatus, error) {
	rows, err := dbTx.Query(ctx, `
		SELECT id, status
		FROM pending_transactions
		WHERE upload_batch_id = $1 OR id = ANY($2)
		FOR UPDATE
	`, batchID, ids)
	if err != nil {
		return nil, fmt.Errorf("locking existing rows: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]domain.ReviewStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scanning existing row: %w", err)
		}
		existing[id] = domain.ReviewStatus(status)
	}
	return existing, rows.Err()
}

// restagePlan decides what re-staging a batch does to its existing records.
// A new ID that was already reviewed is a conflict. Pending records missing
// from the new set are stale and returned for deletion; reviewed ones stay.
func restagePlan(existing map[string]domain.ReviewStatus, ids []string) ([]string, error) {
	incoming := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		incoming[id] = struct{}{}
		if status, ok := existing[id]; ok && status != domain.StatusPending {
			return nil, fmt.Errorf("%s is already %s: %w", id, status, domain.ErrConflictingReview)
		}
	}

	var stale []string
	for id, status := range existing {
		if _, ok := incoming[id]; ok || status != domain.StatusPending {
			continue
		}
		stale = append(stale, id)
	}
	sort.Strings(stale)
	return stale, nil
}

// Get implements review.Store.
func (s *ReviewStore) Get(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	tx, err := getOne(ctx, s.pool, `SELECT `+columns+` FROM pending_transactions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return tx, nil
}

// ListByBatch implements review.Store.
func (s *ReviewStore) ListByBatch(ctx context.Context, batchID string) ([]*domain.PendingTransaction, error) {
	txs, err := s.query(ctx, `
		SELECT `+columns+`
		FROM pending_transactions
		WHERE upload_batch_id = $1
		ORDER BY source_page, source_table, source_row
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("ListByBatch: %w", err)
	}
	return txs, nil
}

// ListByUser implements review.Store.
func (s *ReviewStore) ListByUser(ctx context.Context, userID string, status domain.ReviewStatus) ([]*domain.PendingTransaction, error) {
	txs, err := s.query(ctx, `
		SELECT `+columns+`
		FROM pending_transactions
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY upload_batch_id, source_page, source_table, source_row
	`, userID, string(status))
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return txs, nil
}

// Transition implements review.Store. The row stays locked from the read
// until the new state is committed.
func (s *ReviewStore) Transition(ctx context.Context, id string, fn review.TransitionFunc) (*domain.PendingTransaction, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("Transition: beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	cur, err := getOne(ctx, dbTx, `SELECT `+columns+` FROM pending_transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	row, err := toRow(next)
	if err != nil {
		return nil, fmt.Errorf("Transition: %w", err)
	}
	if _, err := dbTx.Exec(ctx, upsertSQL, row.args()...); err != nil {
		return nil, fmt.Errorf("Transition: saving %s: %w", id, err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("Transition: committing: %w", err)
	}
	return next, nil
}

func (s *ReviewStore) query(ctx context.Context, sql string, args ...any) ([]*domain.PendingTransaction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []*domain.PendingTransaction
	for rows.Next() {
		var r transactionRow
		if err := r.scan(rows); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		tx, err := fromRow(&r)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOne(ctx context.Context, q querier, sql, id string) (*domain.PendingTransaction, error) {
	var r transactionRow
	if err := r.scan(q.QueryRow(ctx, sql, id)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	return fromRow(&r)
}

// Ensure ReviewStore implements review.Store.
var _ review.Store = (*ReviewStore)(nil)
