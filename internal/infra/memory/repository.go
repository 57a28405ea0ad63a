// Package memory keeps upload batches and holdings in process memory. It
// backs local runs and tests when no BigQuery project is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
)

type statementKey struct {
	userID      string
	statementID string
}

// Repository is safe for concurrent use. Values are copied on the way in and
// on the way out.
type Repository struct {
	mu       sync.RWMutex
	batches  map[string]*domain.UploadBatch
	holdings map[statementKey][]domain.Holding
	owner    map[statementKey]string // batch that stored the holdings
	skipped  map[string][]domain.SkippedItem
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		batches:  make(map[string]*domain.UploadBatch),
		holdings: make(map[statementKey][]domain.Holding),
		owner:    make(map[statementKey]string),
		skipped:  make(map[string][]domain.SkippedItem),
	}
}

func copyBatch(b *domain.UploadBatch) *domain.UploadBatch {
	c := *b
	if b.AsOfDate != nil {
		d := *b.AsOfDate
		c.AsOfDate = &d
	}
	if b.Diagnostics != nil {
		c.Diagnostics = b.Diagnostics.Clone()
	}
	return &c
}

// CreateBatch records a batch. Creating an existing ID again reopens it,
// which is what a retried upload does.
func (r *Repository) CreateBatch(ctx context.Context, b *domain.UploadBatch) error {
	if b.ID == "" {
		return fmt.Errorf("CreateBatch: batch ID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = copyBatch(b)
	return nil
}

// FinishBatch overwrites the stored batch.
func (r *Repository) FinishBatch(ctx context.Context, b *domain.UploadBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.ID]; !ok {
		return fmt.Errorf("FinishBatch: batch %s: %w", b.ID, domain.ErrNotFound)
	}
	r.batches[b.ID] = copyBatch(b)
	return nil
}

// GetBatch returns one batch.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", batchID, domain.ErrNotFound)
	}
	return copyBatch(b), nil
}

// ListBatches returns a user's batches, newest first.
func (r *Repository) ListBatches(ctx context.Context, userID string) ([]*domain.UploadBatch, error) {
	r.mu.RLock()
	var out []*domain.UploadBatch
	for _, b := range r.batches {
		if b.UserID == userID {
			out = append(out, copyBatch(b))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// InsertSkipped appends to the skipped-row audit of a batch.
func (r *Repository) InsertSkipped(ctx context.Context, b *domain.UploadBatch, items []domain.SkippedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[b.ID] = append(r.skipped[b.ID], items...)
	return nil
}

// Skipped returns the skipped-row audit of a batch.
func (r *Repository) Skipped(batchID string) []domain.SkippedItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.SkippedItem(nil), r.skipped[batchID]...)
}

// ReplaceHoldings stores a statement's holdings, dropping earlier ones.
func (r *Repository) ReplaceHoldings(ctx context.Context, b *domain.UploadBatch, holdings []domain.Holding) error {
	key := statementKey{userID: b.UserID, statementID: b.StatementID}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdings[key] = append([]domain.Holding(nil), holdings...)
	r.owner[key] = b.ID
	return nil
}

// LoadStatements returns a user's stored statements.
func (r *Repository) LoadStatements(ctx context.Context, userID string) ([]snapshot.Statement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		holdings   []domain.Holding
		uploadedAt = make(map[string]time.Time)
		batchOf    = make(map[string]string)
	)
	for key, hs := range r.holdings {
		if key.userID != userID {
			continue
		}
		holdings = append(holdings, hs...)
		batchID := r.owner[key]
		batchOf[key.statementID] = batchID
		if b, ok := r.batches[batchID]; ok {
			uploadedAt[key.statementID] = b.UploadedAt
		}
	}

	statements := snapshot.Group(holdings, uploadedAt)
	for i := range statements {
		statements[i].BatchID = batchOf[statements[i].StatementID]
	}
	return statements, nil
}
