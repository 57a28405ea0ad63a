package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/infra/memory"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/parser"
	"github.com/dvloznov/portfolio-tracker/internal/pipeline"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/dvloznov/portfolio-tracker/internal/review/inmemory"
	"github.com/dvloznov/portfolio-tracker/internal/securities"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a func-field SourceFetcher.
type MockFetcher struct {
	FetchFunc func(ctx context.Context, uri string) ([]byte, error)
}

func (m *MockFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return m.FetchFunc(ctx, uri)
}

// MockExtractor is a func-field DocumentExtractor.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, pdf []byte) (*statement.Document, []byte, error)
}

func (m *MockExtractor) Extract(ctx context.Context, pdf []byte) (*statement.Document, []byte, error) {
	return m.ExtractFunc(ctx, pdf)
}

// MockStore wraps a real store so single calls can be made to fail.
type MockStore struct {
	review.Store
	StageBatchFunc func(ctx context.Context, batchID string, txs []*domain.PendingTransaction) error
}

func (m *MockStore) StageBatch(ctx context.Context, batchID string, txs []*domain.PendingTransaction) error {
	if m.StageBatchFunc != nil {
		return m.StageBatchFunc(ctx, batchID, txs)
	}
	return m.Store.StageBatch(ctx, batchID, txs)
}

// MockHoldings is a func-field HoldingsRepository.
type MockHoldings struct {
	ReplaceHoldingsFunc func(ctx context.Context, b *domain.UploadBatch, holdings []domain.Holding) error
}

func (m *MockHoldings) ReplaceHoldings(ctx context.Context, b *domain.UploadBatch, holdings []domain.Holding) error {
	return m.ReplaceHoldingsFunc(ctx, b, holdings)
}

var uploadedAt = time.Date(2025, time.July, 1, 8, 0, 0, 0, time.UTC)

func testCatalog() *securities.Catalog {
	return securities.NewCatalog([]domain.Security{
		{SecurityNumber: "593038", Symbol: "FIBI", CompanyName: "הבינלאומי"},
		{SecurityNumber: "662577", Symbol: "POLI", CompanyName: "פועלים"},
	})
}

func testEngine() *pipeline.Engine {
	return pipeline.NewEngine(layout.Default(), testCatalog(), parser.WithCurrency("ILS"))
}

func testDocument() *statement.Document {
	return &statement.Document{Pages: []statement.Page{
		{
			Number: 1,
			Text:   "דוח תיק השקעות נכון לתאריך 30/06/2025",
			Tables: [][][]string{{
				{"פירוט אחזקות"},
				{"12.5", "15,000.00", "3.2", "465.00", "14,535.00", "150.00", "100", "פועלים", "662577"},
				{"2.1", "1,650.00", "1.0", "16.00", "1,634.00", "33.00", "50", "הבינלאומי", "593038"},
			}},
		},
		{
			Number: 2,
			Text:   "פירוט תנועות",
			Tables: [][][]string{
				{
					{"24.00", "29/05/25", "662.27", "12.68", "0.00", "38.03", "0.00", "0.00", "דיבידנד", "הבינלאומי", "593038", "", "29/05/25"},
					{"100", "01/06/25", "1,000.00", "0.00", "5.00", "125.00-", "1.2", "100", "קניה", "פועלים", "662577", "10:32", "03/06/25"},
				},
				{
					{"סה\"כ", "100"},
				},
			},
		},
	}}
}

func testDocumentBytes(t *testing.T) []byte {
	t.Helper()
	data, err := testDocument().Encode()
	require.NoError(t, err)
	return data
}

type fixture struct {
	repo       *memory.Repository
	store      *inmemory.Store
	reconciler *snapshot.Reconciler
	ingestor   *pipeline.Ingestor
}

func newFixture(t *testing.T, data []byte) *fixture {
	t.Helper()
	f := &fixture{
		repo:       memory.NewRepository(),
		store:      inmemory.NewStore(),
		reconciler: snapshot.New(),
	}
	fetcher := &MockFetcher{FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
		if uri != "gs://statements/u1/june.json" {
			return nil, errors.New("unexpected uri " + uri)
		}
		return data, nil
	}}
	f.ingestor = pipeline.NewIngestor(testEngine(), pipeline.Deps{
		Fetcher:   fetcher,
		Batches:   f.repo,
		Holdings:  f.repo,
		Snapshots: f.reconciler,
		Store:     f.store,
	})
	return f
}

func TestIngest_EndToEnd(t *testing.T) {
	ctx := context.Background()
	data := testDocumentBytes(t)
	f := newFixture(t, data)

	batch, err := f.ingestor.Ingest(ctx, pipeline.Upload{
		UserID:     "u1",
		BatchID:    "batch-1",
		SourceURI:  "gs://statements/u1/june.json",
		UploadedAt: uploadedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchStatusStaged, batch.Status)
	assert.Equal(t, statement.Checksum(data), batch.StatementID)
	require.NotNil(t, batch.AsOfDate)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.June, Day: 30}, *batch.AsOfDate)
	assert.Equal(t, layout.Version, batch.LayoutVersion)

	d := batch.Diagnostics
	assert.Equal(t, 3, d.TablesSeen)
	assert.Equal(t, 1, d.TablesUnclassified)
	assert.Equal(t, 2, d.HoldingsFound)
	assert.Equal(t, 1, d.TransactionsFound)
	assert.Equal(t, 1, d.DividendsFound)

	stored, err := f.repo.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusStaged, stored.Status)
	assert.Len(t, f.repo.Skipped("batch-1"), 1)

	txs, err := f.store.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionTypeDividend, txs[0].TransactionType)
	assert.Equal(t, "50.71", txs[0].GrossAmount.Decimal.String())
	assert.Equal(t, domain.TransactionTypeBuy, txs[1].TransactionType)
	for _, tx := range txs {
		assert.Equal(t, domain.StatusPending, tx.Status)
		assert.Equal(t, "u1", tx.UserID)
	}

	current := f.reconciler.Current("u1")
	require.Len(t, current, 2)
	for _, h := range current {
		assert.Equal(t, *batch.AsOfDate, h.AsOfDate)
	}

	statements, err := f.repo.LoadStatements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, statements, 1)
	assert.Len(t, statements[0].Holdings, 2)
}

func TestIngest_AsOfDateOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testDocumentBytes(t))
	asOf := civil.Date{Year: 2025, Month: time.July, Day: 31}

	batch, err := f.ingestor.Ingest(ctx, pipeline.Upload{
		UserID:     "u1",
		BatchID:    "batch-1",
		SourceURI:  "gs://statements/u1/june.json",
		AsOfDate:   &asOf,
		UploadedAt: uploadedAt,
	})
	require.NoError(t, err)

	require.NotNil(t, batch.AsOfDate)
	assert.Equal(t, asOf, *batch.AsOfDate)
	for _, h := range f.reconciler.Current("u1") {
		assert.Equal(t, asOf, h.AsOfDate)
	}
}

func TestIngest_ReuploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testDocumentBytes(t))
	up := pipeline.Upload{UserID: "u1", BatchID: "batch-1", SourceURI: "gs://statements/u1/june.json", UploadedAt: uploadedAt}

	_, err := f.ingestor.Ingest(ctx, up)
	require.NoError(t, err)
	first, err := f.store.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(ctx, up)
	require.NoError(t, err)
	second, err := f.store.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.reconciler.Statements("u1"), 1)
}

func TestIngest_ReuploadAfterReviewConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testDocumentBytes(t))
	up := pipeline.Upload{UserID: "u1", BatchID: "batch-1", SourceURI: "gs://statements/u1/june.json", UploadedAt: uploadedAt}

	_, err := f.ingestor.Ingest(ctx, up)
	require.NoError(t, err)
	txs, _ := f.store.ListByBatch(ctx, "batch-1")
	_, err = review.NewService(f.store).Approve(ctx, txs[0].ID, "alice")
	require.NoError(t, err)

	batch, err := f.ingestor.Ingest(ctx, up)
	require.ErrorIs(t, err, domain.ErrConflictingReview)
	assert.Equal(t, domain.BatchStatusFailed, batch.Status)

	again, _ := f.store.Get(ctx, txs[0].ID)
	assert.Equal(t, domain.StatusApproved, again.Status)
}

func TestIngest_UnreadableFailsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []byte("not json"))

	batch, err := f.ingestor.Ingest(ctx, pipeline.Upload{
		UserID: "u1", BatchID: "batch-bad", SourceURI: "gs://statements/u1/june.json", UploadedAt: uploadedAt,
	})
	require.Error(t, err)
	assert.True(t, pipeline.IsUnreadable(err))
	require.NotNil(t, batch)
	assert.Equal(t, domain.BatchStatusFailed, batch.Status)
	assert.NotEmpty(t, batch.Error)

	stored, err := f.repo.GetBatch(ctx, "batch-bad")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)

	txs, err := f.store.ListByUser(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, f.reconciler.Current("u1"))
}

func TestIngest_StageFailureMarksBatchFailed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	reconciler := snapshot.New()
	store := &MockStore{
		Store: inmemory.NewStore(),
		StageBatchFunc: func(context.Context, string, []*domain.PendingTransaction) error {
			return errors.New("connection reset")
		},
	}
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Batches: repo, Holdings: repo, Snapshots: reconciler, Store: store})

	batch, err := ing.Ingest(ctx, pipeline.Upload{UserID: "u1", BatchID: "b", Data: testDocumentBytes(t), UploadedAt: uploadedAt})
	require.Error(t, err)
	assert.False(t, pipeline.IsUnreadable(err))
	assert.Equal(t, domain.BatchStatusFailed, batch.Status)
	assert.Equal(t, 2, batch.Diagnostics.HoldingsFound)
	assert.Empty(t, reconciler.Current("u1"))
}

func TestIngest_HoldingsFailureWithdrawsStagedTransactions(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	reconciler := snapshot.New()
	store := inmemory.NewStore()
	holdings := &MockHoldings{ReplaceHoldingsFunc: func(context.Context, *domain.UploadBatch, []domain.Holding) error {
		return errors.New("bigquery unavailable")
	}}
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Batches: repo, Holdings: holdings, Snapshots: reconciler, Store: store})

	batch, err := ing.Ingest(ctx, pipeline.Upload{UserID: "u1", BatchID: "b", Data: testDocumentBytes(t), UploadedAt: uploadedAt})
	require.Error(t, err)
	assert.Equal(t, domain.BatchStatusFailed, batch.Status)

	txs, err := store.ListByBatch(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, reconciler.Current("u1"))

	stored, err := repo.GetBatch(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, stored.Status)
}

func TestIngest_RestageDropsRowsThatNoLongerParse(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Store: store})
	up := pipeline.Upload{UserID: "u1", BatchID: "b", Data: testDocumentBytes(t), UploadedAt: uploadedAt}

	_, err := ing.Ingest(ctx, up)
	require.NoError(t, err)
	txs, err := store.ListByBatch(ctx, "b")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	doc := testDocument()
	doc.Pages[1].Tables[0] = doc.Pages[1].Tables[0][:1]
	up.Data, err = doc.Encode()
	require.NoError(t, err)

	_, err = ing.Ingest(ctx, up)
	require.NoError(t, err)
	txs, err = store.ListByBatch(ctx, "b")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionTypeDividend, txs[0].TransactionType)
}

func TestIngest_PDFGoesThroughExtractor(t *testing.T) {
	ctx := context.Background()
	pdf := []byte("%PDF-1.7 binary")
	calls := 0
	extractor := &MockExtractor{ExtractFunc: func(ctx context.Context, got []byte) (*statement.Document, []byte, error) {
		calls++
		assert.Equal(t, pdf, got)
		doc := testDocument()
		data, err := doc.Encode()
		return doc, data, err
	}}
	store := inmemory.NewStore()
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Extractor: extractor, Store: store})

	batch, err := ing.Ingest(ctx, pipeline.Upload{UserID: "u1", Data: pdf, UploadedAt: uploadedAt})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, statement.Checksum(pdf), batch.StatementID)

	txs, err := store.ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestIngest_PDFWithoutExtractor(t *testing.T) {
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Store: inmemory.NewStore()})
	_, err := ing.Ingest(context.Background(), pipeline.Upload{UserID: "u1", Data: []byte("%PDF-1.4")})
	assert.True(t, pipeline.IsUnreadable(err))
}

func TestIngest_RequiresUserAndStore(t *testing.T) {
	_, err := pipeline.NewIngestor(testEngine(), pipeline.Deps{Store: inmemory.NewStore()}).Ingest(context.Background(), pipeline.Upload{})
	assert.Error(t, err)

	_, err = pipeline.NewIngestor(testEngine(), pipeline.Deps{}).Ingest(context.Background(), pipeline.Upload{UserID: "u1"})
	assert.Error(t, err)
}

func TestIngest_StatementWithoutHoldingsKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	reconciler := snapshot.New()
	store := inmemory.NewStore()
	ing := pipeline.NewIngestor(testEngine(), pipeline.Deps{Snapshots: reconciler, Store: store})

	_, err := ing.Ingest(ctx, pipeline.Upload{UserID: "u1", Data: testDocumentBytes(t), UploadedAt: uploadedAt})
	require.NoError(t, err)

	doc := testDocument()
	doc.Pages = doc.Pages[1:]
	doc.Pages[0].Text = "פירוט תנועות נכון לתאריך 31/07/2025"
	data, err := doc.Encode()
	require.NoError(t, err)

	_, err = ing.Ingest(ctx, pipeline.Upload{UserID: "u1", Data: data, UploadedAt: uploadedAt.Add(time.Hour)})
	require.NoError(t, err)

	cur, ok := reconciler.CurrentStatement("u1")
	require.True(t, ok)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.June, Day: 30}, cur.AsOfDate)
	assert.Len(t, cur.Holdings, 2)
}

func TestEngine_ProcessIsDeterministic(t *testing.T) {
	ctx := context.Background()
	asOf := civil.Date{Year: 2025, Month: time.June, Day: 30}
	in := pipeline.Input{
		Batch:  parser.Batch{UserID: "u1", BatchID: "batch-1", StatementID: "s1", AsOfDate: &asOf, CreatedAt: uploadedAt},
		Tables: testDocument().Tables(),
	}

	e := testEngine()
	a := e.Process(ctx, in)
	b := e.Process(ctx, in)

	require.Len(t, a.Transactions, 2)
	assert.Equal(t, a.Transactions, b.Transactions)
	assert.Equal(t, a.Holdings, b.Holdings)
	assert.Equal(t, a.Diagnostics, b.Diagnostics)
	assert.Equal(t, 1, a.HoldingsTables)
	assert.Len(t, a.Tables, 2)

	other := in
	other.Batch.BatchID = "batch-2"
	c := e.Process(ctx, other)
	assert.NotEqual(t, a.Transactions[0].ID, c.Transactions[0].ID)
}

func TestIngest_UnclassifiedTableKeepsEveryRow(t *testing.T) {
	ctx := context.Background()
	unknown := [][]string{
		{"פירוט תנועות"},
		{"100", "01/06/25", "1,000.00", "0.00", "5.00", "125.00-", "1.2", "100", "קניה", "לא ידוע", "111111", "10:32", "03/06/25"},
		{"50", "02/06/25", "900.00", "0.00", "5.00", "65.00-", "1.2", "50", "קניה", "לא ידוע", "222222", "11:00", "04/06/25"},
		{"0", "03/06/25", "960.00", "0.00", "5.00", "55.00", "1.2", "50", "מכירה", "לא ידוע", "333333", "12:15", "05/06/25"},
	}
	doc := &statement.Document{Pages: []statement.Page{{Number: 1, Text: "פירוט תנועות", Tables: [][][]string{unknown}}}}
	data, err := doc.Encode()
	require.NoError(t, err)

	f := newFixture(t, data)
	batch, err := f.ingestor.Ingest(ctx, pipeline.Upload{
		UserID:     "u1",
		BatchID:    "batch-1",
		SourceURI:  "gs://statements/u1/june.json",
		UploadedAt: uploadedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Diagnostics.TablesUnclassified)
	skipped := f.repo.Skipped("batch-1")
	require.Len(t, skipped, len(unknown))
	for i, item := range skipped {
		assert.Equal(t, domain.ReasonClassificationAmbiguous, item.Reason)
		assert.Equal(t, i, item.Row)
		assert.Equal(t, unknown[i], item.Raw)
	}

	txs, err := f.store.ListByBatch(ctx, "batch-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	var ran []int
	step := func(n int, err error) pipeline.PipelineStep {
		return stepFunc(func(context.Context, *pipeline.PipelineState) error {
			ran = append(ran, n)
			return err
		})
	}
	boom := errors.New("boom")
	err := pipeline.NewPipeline(step(1, nil), step(2, boom), step(3, nil)).Execute(context.Background(), &pipeline.PipelineState{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pipeline step 2 failed")
	assert.Equal(t, []int{1, 2}, ran)
}

type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}
