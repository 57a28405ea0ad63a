// Package bigquery stores upload batches, holdings snapshots, skipped-row
// audit records and the securities catalog in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
)

// Repository talks to BigQuery through one shared client.
type Repository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewRepository creates a repository for the given project and dataset.
func NewRepository(ctx context.Context, projectID, dataset string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, ds: Dataset{Project: projectID, Name: dataset}}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// CreateBatch records a new upload batch.
func (r *Repository) CreateBatch(ctx context.Context, b *domain.UploadBatch) error {
	return InsertBatchWithClient(ctx, r.client, r.ds, b)
}

// FinishBatch records the final status and diagnostics of a batch.
func (r *Repository) FinishBatch(ctx context.Context, b *domain.UploadBatch) error {
	return FinishBatchWithClient(ctx, r.client, r.ds, b)
}

// GetBatch returns one batch.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error) {
	return GetBatchWithClient(ctx, r.client, r.ds, batchID)
}

// ListBatches returns a user's batches, newest first.
func (r *Repository) ListBatches(ctx context.Context, userID string) ([]*domain.UploadBatch, error) {
	return ListBatchesWithClient(ctx, r.client, r.ds, userID)
}

// ReplaceHoldings stores a statement's holdings.
func (r *Repository) ReplaceHoldings(ctx context.Context, batch *domain.UploadBatch, holdings []domain.Holding) error {
	return ReplaceHoldingsWithClient(ctx, r.client, r.ds, batch.UserID, batch.StatementID, batch.ID, holdings)
}

// InsertSkipped writes the skipped items of a batch.
func (r *Repository) InsertSkipped(ctx context.Context, batch *domain.UploadBatch, items []domain.SkippedItem) error {
	return InsertSkippedRowsWithClient(ctx, r.client, r.ds, batch.ID, batch.UserID, items)
}

// LoadStatements reads a user's stored statements for the snapshot reconciler.
func (r *Repository) LoadStatements(ctx context.Context, userID string) ([]snapshot.Statement, error) {
	return LoadStatementsWithClient(ctx, r.client, r.ds, userID)
}

// ListSecurities reads the securities catalog.
func (r *Repository) ListSecurities(ctx context.Context) ([]domain.Security, error) {
	return ListSecuritiesWithClient(ctx, r.client, r.ds)
}
