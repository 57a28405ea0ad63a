package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/pipeline"
)

// Ingester runs the ingestion pipeline for one upload.
type Ingester interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*domain.UploadBatch, error)
}

// NewUploadHandler returns a JobHandler that ingests ProcessUploadJobs.
// Unreadable uploads are failed without retrying.
func NewUploadHandler(ing Ingester) JobHandler {
	return func(ctx context.Context, job Job) error {
		upload, ok := job.(*ProcessUploadJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log := logger.FromContext(ctx)
		log.Info().
			Str("job_id", upload.JobID).
			Str("batch_id", upload.BatchID).
			Str("source_uri", upload.SourceURI).
			Int("attempt", upload.RetryCount+1).
			Msg("Processing upload job")

		_, err := ing.Ingest(ctx, pipeline.Upload{
			UserID:      upload.UserID,
			BatchID:     upload.BatchID,
			SourceURI:   upload.SourceURI,
			StatementID: upload.StatementID,
			AsOfDate:    upload.AsOfDate,
			UploadedAt:  upload.CreatedAt.UTC(),
		})
		if err != nil {
			if pipeline.IsUnreadable(err) {
				return Permanent(err)
			}
			return err
		}

		log.Info().Str("job_id", upload.JobID).Msg("Upload job completed")
		return nil
	}
}
