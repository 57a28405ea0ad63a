// Command worker ingests a list of uploads without the HTTP API. It reads one
// JSON job per line from stdin, for example
//
//	{"user_id":"u1","source_uri":"gs://bucket/statements/q2.json"}
//
// processes them on a worker pool and exits when every job has finished.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/app"
	"github.com/dvloznov/portfolio-tracker/internal/config"
	"github.com/dvloznov/portfolio-tracker/internal/jobs"
	"github.com/dvloznov/portfolio-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file")
	withPDF := flag.Bool("pdf", false, "Extract PDF uploads through Gemini")
	poll := flag.Duration("poll", 500*time.Millisecond, "How often to check for finished jobs")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.WithLevel(log, cfg.LogLevel)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Extractor: *withPDF, Storage: cfg.GCSBucket != ""})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, cfg.Workers, jobStore)

	log.Info().Int("workers", cfg.Workers).Msg("Starting worker service")
	if err := jobQueue.Start(ctx, jobs.NewUploadHandler(a.Ingestor)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Interrupted, stopping workers")
		cancel()
	}()

	ids, err := publishFrom(ctx, os.Stdin, jobQueue, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read jobs")
	}

	failed := waitAll(ctx, jobStore, ids, *poll)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Int("jobs", len(ids)).Int("failed", failed).Msg("Worker service exited")
	if failed > 0 || ctx.Err() != nil {
		os.Exit(1)
	}
}

// publishFrom enqueues one job per non-empty input line.
func publishFrom(ctx context.Context, r io.Reader, pub jobs.Publisher, log zerolog.Logger) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var job jobs.ProcessUploadJob
		if err := json.Unmarshal(sc.Bytes(), &job); err != nil {
			log.Error().Err(err).Int("line", line).Msg("Skipping malformed job")
			continue
		}
		if job.UserID == "" || job.SourceURI == "" {
			log.Error().Int("line", line).Msg("Skipping job without user_id or source_uri")
			continue
		}
		job.Status = ""
		if err := pub.PublishProcessUpload(ctx, &job); err != nil {
			return ids, err
		}
		ids = append(ids, job.JobID)
	}
	return ids, sc.Err()
}

// waitAll blocks until every job is completed or failed and returns the
// number that failed.
func waitAll(ctx context.Context, store jobs.JobStore, ids []string, poll time.Duration) int {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		failed, done := 0, 0
		for _, id := range ids {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				continue
			}
			switch job.Status {
			case jobs.JobStatusCompleted:
				done++
			case jobs.JobStatusFailed:
				done++
				failed++
			}
		}
		if done == len(ids) {
			return failed
		}
		select {
		case <-ctx.Done():
			return failed
		case <-ticker.C:
		}
	}
}
