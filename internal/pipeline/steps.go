package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/parser"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Upload Upload

	SourceBytes []byte
	Document    *statement.Document
	Tables      []ClassifiedTable
	Diagnostics *domain.Diagnostics

	Batch  *domain.UploadBatch
	Result Result

	// Staged is set once the transactions are in the review store.
	Staged bool
}

func (s *PipelineState) parserBatch() parser.Batch {
	return parser.Batch{
		UserID:      s.Batch.UserID,
		BatchID:     s.Batch.ID,
		StatementID: s.Batch.StatementID,
		AsOfDate:    s.Batch.AsOfDate,
		CreatedAt:   s.Batch.UploadedAt,
	}
}

var pdfMagic = []byte("%PDF")

// LoadTablesStep reads the upload and decodes its extraction output. A PDF
// goes through the extractor first. Anything unreadable fails the upload
// before a single record is written.
type LoadTablesStep struct {
	Fetcher   SourceFetcher
	Extractor DocumentExtractor
}

func (s *LoadTablesStep) Execute(ctx context.Context, state *PipelineState) error {
	data := state.Upload.Data
	if data == nil {
		if s.Fetcher == nil {
			return fmt.Errorf("LoadTables: no data and no fetcher for %q", state.Upload.SourceURI)
		}
		b, err := s.Fetcher.Fetch(ctx, state.Upload.SourceURI)
		if err != nil {
			return fmt.Errorf("LoadTables: %w", err)
		}
		data = b
	}
	state.SourceBytes = data

	if bytes.HasPrefix(bytes.TrimSpace(data), pdfMagic) {
		if s.Extractor == nil {
			return fmt.Errorf("LoadTables: PDF upload but no extractor configured: %w", domain.ErrExtractionUnreadable)
		}
		doc, _, err := s.Extractor.Extract(ctx, data)
		if err != nil {
			return fmt.Errorf("LoadTables: %v: %w", err, domain.ErrExtractionUnreadable)
		}
		state.Document = doc
		return nil
	}

	doc, err := statement.Decode(data)
	if err != nil {
		return fmt.Errorf("LoadTables: %w", err)
	}
	state.Document = doc
	return nil
}

// OpenBatchStep creates the upload batch with status PROCESSING. The
// statement ID defaults to the checksum of the uploaded bytes and the as-of
// date to the one found in the page text.
type OpenBatchStep struct {
	Batches       BatchRepository
	AsOfPhrases   []string
	LayoutVersion string
}

func (s *OpenBatchStep) Execute(ctx context.Context, state *PipelineState) error {
	b := newBatch(state.Upload, state.SourceBytes, s.LayoutVersion)
	if d := state.Upload.AsOfDate; d != nil {
		asOf := *d
		b.AsOfDate = &asOf
	} else if d, ok := statement.DetectAsOfDate(state.Document, s.AsOfPhrases); ok {
		b.AsOfDate = &d
	}
	if s.Batches != nil {
		if err := s.Batches.CreateBatch(ctx, b); err != nil {
			return fmt.Errorf("OpenBatch: %w", err)
		}
	}
	state.Batch = b
	return nil
}

func newBatch(up Upload, data []byte, layoutVersion string) *domain.UploadBatch {
	statementID := up.StatementID
	if statementID == "" && len(data) > 0 {
		statementID = statement.Checksum(data)
	}
	return &domain.UploadBatch{
		ID:            up.BatchID,
		UserID:        up.UserID,
		StatementID:   statementID,
		SourceURI:     up.SourceURI,
		UploadedAt:    up.UploadedAt,
		LayoutVersion: layoutVersion,
		Status:        domain.BatchStatusProcessing,
		Diagnostics:   domain.NewDiagnostics(),
	}
}

// ClassifyStep assigns a role to every extracted table.
type ClassifyStep struct {
	Engine *Engine
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Diagnostics = domain.NewDiagnostics()
	state.Tables = s.Engine.Classify(ctx, state.Document.Tables(), state.Diagnostics)
	return nil
}

// ParseStep parses the classified tables into records.
type ParseStep struct {
	Engine *Engine
}

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Result = s.Engine.Parse(state.parserBatch(), state.Tables, state.Diagnostics)
	state.Batch.Diagnostics = state.Diagnostics
	return nil
}

// StageTransactionsStep writes the parsed transactions to the review store
// in one all-or-nothing call. A batch that parsed to nothing is still staged
// so a re-run clears its earlier pending records.
type StageTransactionsStep struct {
	Store review.Store
}

func (s *StageTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Store.StageBatch(ctx, state.Batch.ID, state.Result.Transactions); err != nil {
		return fmt.Errorf("StageTransactions: %w", err)
	}
	state.Staged = true
	log := logger.FromContext(ctx)
	log.Info().Int("count", len(state.Result.Transactions)).Msg("Staged transactions for review")
	return nil
}

// RecordHoldingsStep stores the statement's holdings snapshot. A statement
// without any holdings table reports nothing about positions and is not
// recorded, so it can never hide an earlier snapshot.
type RecordHoldingsStep struct {
	Holdings  HoldingsRepository
	Snapshots SnapshotRecorder
}

func (s *RecordHoldingsStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	if state.Result.HoldingsTables == 0 {
		return nil
	}
	if state.Batch.AsOfDate == nil {
		log.Warn().Msg("Holdings tables found but the statement has no as-of date; snapshot not recorded")
		return nil
	}

	if s.Holdings != nil {
		if err := s.Holdings.ReplaceHoldings(ctx, state.Batch, state.Result.Holdings); err != nil {
			return fmt.Errorf("RecordHoldings: %w", err)
		}
	}
	if s.Snapshots != nil {
		s.Snapshots.Record(snapshot.Statement{
			UserID:      state.Batch.UserID,
			StatementID: state.Batch.StatementID,
			BatchID:     state.Batch.ID,
			AsOfDate:    *state.Batch.AsOfDate,
			UploadedAt:  state.Batch.UploadedAt,
			Holdings:    state.Result.Holdings,
		})
	}
	log.Info().
		Int("holdings", len(state.Result.Holdings)).
		Str("as_of_date", state.Batch.AsOfDate.String()).
		Msg("Recorded holdings snapshot")
	return nil
}

// CloseBatchStep writes the skipped-row audit and marks the batch STAGED
// with its final diagnostics.
type CloseBatchStep struct {
	Batches BatchRepository
}

func (s *CloseBatchStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Batch.Status = domain.BatchStatusStaged
	if s.Batches == nil {
		return nil
	}
	if skipped := state.Diagnostics.Skipped; len(skipped) > 0 {
		if err := s.Batches.InsertSkipped(ctx, state.Batch, skipped); err != nil {
			return fmt.Errorf("CloseBatch: %w", err)
		}
	}
	if err := s.Batches.FinishBatch(ctx, state.Batch); err != nil {
		return fmt.Errorf("CloseBatch: %w", err)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
