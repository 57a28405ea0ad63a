package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/google/uuid"
)

// Upload describes one statement to ingest.
type Upload struct {
	UserID    string
	BatchID   string // generated when empty
	SourceURI string

	// Data is the upload content. When nil it is fetched from SourceURI.
	Data []byte

	// StatementID identifies the statement across re-uploads. It defaults
	// to the checksum of the uploaded bytes.
	StatementID string

	// AsOfDate overrides the date detected in the statement's page text.
	AsOfDate *civil.Date

	UploadedAt time.Time // defaults to now
}

// Deps are the collaborators of an Ingestor. Only Store is required; a nil
// repository or recorder simply skips that write.
type Deps struct {
	Fetcher   SourceFetcher
	Extractor DocumentExtractor
	Batches   BatchRepository
	Holdings  HoldingsRepository
	Snapshots SnapshotRecorder
	Store     review.Store
}

// Ingestor runs the upload pipeline.
type Ingestor struct {
	engine *Engine
	deps   Deps
	now    func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(engine *Engine, deps Deps) *Ingestor {
	return &Ingestor{engine: engine, deps: deps, now: time.Now}
}

// WithClock replaces the clock used for default upload times.
func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// NewStatementIngestionPipeline returns the standard seven-step pipeline.
func (i *Ingestor) NewStatementIngestionPipeline() *Pipeline {
	cfg := i.engine.Layout()
	return NewPipeline(
		&LoadTablesStep{Fetcher: i.deps.Fetcher, Extractor: i.deps.Extractor},
		&OpenBatchStep{Batches: i.deps.Batches, AsOfPhrases: cfg.AsOfPhrases, LayoutVersion: cfg.Version},
		&ClassifyStep{Engine: i.engine},
		&ParseStep{Engine: i.engine},
		&StageTransactionsStep{Store: i.deps.Store},
		&RecordHoldingsStep{Holdings: i.deps.Holdings, Snapshots: i.deps.Snapshots},
		&CloseBatchStep{Batches: i.deps.Batches},
	)
}

// Ingest processes one upload and returns its batch. On failure the batch
// is still returned, marked FAILED with the error message.
func (i *Ingestor) Ingest(ctx context.Context, up Upload) (*domain.UploadBatch, error) {
	if up.UserID == "" {
		return nil, fmt.Errorf("Ingest: user ID is required")
	}
	if i.deps.Store == nil {
		return nil, fmt.Errorf("Ingest: review store is required")
	}
	if up.BatchID == "" {
		up.BatchID = uuid.New().String()
	}
	if up.UploadedAt.IsZero() {
		up.UploadedAt = i.now().UTC()
	}

	ctx = logger.ForUpload(ctx, up.UserID, up.BatchID)
	log := logger.FromContext(ctx)
	log.Info().Str("source_uri", up.SourceURI).Msg("Ingesting statement")

	state := &PipelineState{Upload: up}
	if err := i.NewStatementIngestionPipeline().Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Statement ingestion failed")
		return i.markFailed(ctx, state, err), err
	}

	d := state.Batch.Diagnostics
	log.Info().
		Str("statement_id", state.Batch.StatementID).
		Int("tables_seen", d.TablesSeen).
		Int("holdings_found", d.HoldingsFound).
		Int("transactions_found", d.TransactionsFound).
		Int("dividends_found", d.DividendsFound).
		Int("rows_skipped_unmatched", d.RowsSkippedUnmatched).
		Int("rows_skipped_unparsable", d.RowsSkippedUnparsable).
		Msg("Statement ingested")
	return state.Batch, nil
}

// markFailed records the failure on the batch, creating the batch first
// when the pipeline stopped before opening it. Transactions staged before
// the failure are withdrawn while still pending, so a FAILED batch leaves
// nothing in the review queue.
func (i *Ingestor) markFailed(ctx context.Context, state *PipelineState, cause error) *domain.UploadBatch {
	log := logger.FromContext(ctx)

	if state.Staged {
		if err := i.deps.Store.StageBatch(ctx, state.Batch.ID, nil); err != nil {
			log.Error().Err(err).Msg("Failed to withdraw staged transactions")
		}
	}

	created := state.Batch != nil
	b := state.Batch
	if b == nil {
		b = newBatch(state.Upload, state.SourceBytes, i.engine.Layout().Version)
	}
	b.Status = domain.BatchStatusFailed
	b.Error = cause.Error()
	if state.Diagnostics != nil {
		b.Diagnostics = state.Diagnostics
	}

	if i.deps.Batches == nil {
		return b
	}
	var err error
	if created {
		err = i.deps.Batches.FinishBatch(ctx, b)
	} else {
		err = i.deps.Batches.CreateBatch(ctx, b)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark batch as failed")
	}
	return b
}

// IsUnreadable reports whether err means the upload itself could not be read
// and retrying will not help.
func IsUnreadable(err error) bool {
	return errors.Is(err, domain.ErrExtractionUnreadable)
}
