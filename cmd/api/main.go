package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/api/handlers"
	"github.com/dvloznov/portfolio-tracker/internal/app"
	"github.com/dvloznov/portfolio-tracker/internal/config"
	"github.com/dvloznov/portfolio-tracker/internal/jobs"
	"github.com/dvloznov/portfolio-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file")
	port := flag.String("port", "", "HTTP server port (default PORT or 8080)")
	withPDF := flag.Bool("pdf", true, "Accept PDF uploads through Gemini extraction")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.WithLevel(log, cfg.LogLevel)
	if *port == "" {
		*port = cfg.Port
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, app.Options{Extractor: *withPDF, Storage: cfg.GCSBucket != ""})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	if cfg.GCSBucket == "" {
		log.Warn().Msg("No GCS bucket configured - file uploads are disabled, source_uri uploads still work")
	}

	// Uploads are processed in-process; a restart loses queued jobs but not
	// staged data, and re-enqueueing the same source is idempotent.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, cfg.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewUploadHandler(a.Ingestor)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.Workers).Msg("Started job workers")

	var uploader handlers.ObjectUploader
	if a.Storage != nil {
		uploader = a.Storage
	}
	router := handlers.NewRouter(handlers.Handlers{
		Uploads:  handlers.NewUploadsHandler(uploader, jobQueue, cfg.GCSBucket),
		Jobs:     handlers.NewJobsHandler(jobStore),
		Batches:  handlers.NewBatchesHandler(a.Batches),
		Review:   handlers.NewReviewHandler(a.Review),
		Holdings: handlers.NewHoldingsHandler(a.Holdings),
	}, log)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight uploads finish before cancelling the workers.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
