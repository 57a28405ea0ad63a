// Package app wires configuration into the ingestion, review and holdings
// services shared by the commands.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/portfolio-tracker/internal/config"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/extract"
	"github.com/dvloznov/portfolio-tracker/internal/gcsuploader"
	infraBQ "github.com/dvloznov/portfolio-tracker/internal/infra/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/infra/memory"
	"github.com/dvloznov/portfolio-tracker/internal/infra/postgres"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/parser"
	"github.com/dvloznov/portfolio-tracker/internal/pipeline"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	reviewmem "github.com/dvloznov/portfolio-tracker/internal/review/inmemory"
	"github.com/dvloznov/portfolio-tracker/internal/securities"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
)

// BatchStore is everything the commands need from batch and holdings storage.
type BatchStore interface {
	pipeline.BatchRepository
	pipeline.HoldingsRepository
	snapshot.Loader
	GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error)
	ListBatches(ctx context.Context, userID string) ([]*domain.UploadBatch, error)
}

// Options selects the optional cloud clients.
type Options struct {
	// Extractor enables PDF uploads through Gemini.
	Extractor bool
	// Storage opens a shared GCS client. Without it gs:// URIs still work,
	// one client per call.
	Storage bool
}

// App is the wired set of services.
type App struct {
	Config *config.Config

	Layout    *layout.Config
	Catalog   *securities.Catalog
	Engine    *pipeline.Engine
	Ingestor  *pipeline.Ingestor
	Review    *review.Service
	Batches   BatchStore
	Holdings  *snapshot.Cache
	Storage   *gcsuploader.Service
	Extractor *extract.Extractor

	closers []func()
}

// New builds an App from cfg. BigQuery backs batches and holdings when a
// project is configured, Postgres backs the review store when a database
// URL is set; otherwise both fall back to memory.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	lay, err := loadLayout(cfg.LayoutFile)
	if err != nil {
		return nil, err
	}
	a.Layout = lay

	var bq *infraBQ.Repository
	if cfg.UsesBigQuery() {
		bq, err = infraBQ.NewRepository(ctx, cfg.GCPProject, cfg.BQDataset)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func() { _ = bq.Close() })
		a.Batches = bq
		log.Info().Str("project", cfg.GCPProject).Str("dataset", cfg.BQDataset).Msg("Using BigQuery for batches and holdings")
	} else {
		a.Batches = memory.NewRepository()
		log.Warn().Msg("GCP_PROJECT not set; batches and holdings are kept in memory")
	}

	a.Catalog, err = loadCatalog(ctx, cfg.SecuritiesFile, bq)
	if err != nil {
		return nil, err
	}
	log.Info().Int("securities", a.Catalog.Len()).Str("layout", lay.Version).Msg("Loaded reference data")

	var store review.Store
	if cfg.UsesPostgres() {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		store = postgres.NewReviewStore(pool)
		log.Info().Msg("Using Postgres for the review store")
	} else {
		store = reviewmem.NewStore()
		log.Warn().Msg("DATABASE_URL not set; staged transactions are kept in memory")
	}
	a.Review = review.NewService(store)

	if opts.Storage {
		a.Storage, err = gcsuploader.NewService(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.Storage.Close() })
	}
	if opts.Extractor {
		a.Extractor, err = extract.NewGemini(ctx, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	a.Holdings = snapshot.NewCache(snapshot.New(), a.Batches)
	a.Engine = pipeline.NewEngine(lay, a.Catalog,
		parser.WithCurrency(cfg.DefaultCurrency),
		parser.WithTolerance(cfg.ReconcileTolerance),
	)

	deps := pipeline.Deps{
		Batches:   a.Batches,
		Holdings:  a.Batches,
		Snapshots: a.Holdings,
		Store:     store,
	}
	if a.Storage != nil {
		deps.Fetcher = a.Storage
	} else {
		deps.Fetcher = &gcsuploader.Service{}
	}
	if a.Extractor != nil {
		deps.Extractor = a.Extractor
	}
	a.Ingestor = pipeline.NewIngestor(a.Engine, deps)

	ok = true
	return a, nil
}

// Close releases every client New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadLayout(path string) (*layout.Config, error) {
	if path == "" {
		return layout.Default(), nil
	}
	cfg, err := layout.Load(path)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return cfg, nil
}

// loadCatalog prefers a local catalog file and falls back to the BigQuery
// securities table.
func loadCatalog(ctx context.Context, path string, bq *infraBQ.Repository) (*securities.Catalog, error) {
	if path != "" {
		c, err := securities.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return c, nil
	}
	if bq != nil {
		entries, err := bq.ListSecurities(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return securities.NewCatalog(entries), nil
	}
	log := logger.FromContext(ctx)
	log.Warn().Msg("No securities catalog configured; every security number will be unresolved")
	return securities.NewCatalog(nil), nil
}
