package pipeline

import (
	"context"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// SourceFetcher reads the bytes behind an upload URI (a local path or gs://).
type SourceFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// DocumentExtractor turns a PDF into extraction output.
type DocumentExtractor interface {
	Extract(ctx context.Context, pdf []byte) (*statement.Document, []byte, error)
}

// BatchRepository persists upload batches and their skipped-row audit.
type BatchRepository interface {
	CreateBatch(ctx context.Context, b *domain.UploadBatch) error
	FinishBatch(ctx context.Context, b *domain.UploadBatch) error
	InsertSkipped(ctx context.Context, b *domain.UploadBatch, items []domain.SkippedItem) error
}

// HoldingsRepository persists a statement's holdings, replacing any earlier
// upload of the same statement.
type HoldingsRepository interface {
	ReplaceHoldings(ctx context.Context, b *domain.UploadBatch, holdings []domain.Holding) error
}

// SnapshotRecorder receives every statement that reported holdings.
type SnapshotRecorder interface {
	Record(s snapshot.Statement)
}
