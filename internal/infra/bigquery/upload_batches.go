package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"google.golang.org/api/iterator"
)

// UploadBatchRow is one row of upload_batches.
type UploadBatchRow struct {
	BatchID     string `bigquery:"batch_id"`     // REQUIRED
	UserID      string `bigquery:"user_id"`      // REQUIRED
	StatementID string `bigquery:"statement_id"` // REQUIRED

	SourceURI bigquery.NullString `bigquery:"source_uri"` // NULLABLE
	AsOfDate  bigquery.NullDate   `bigquery:"as_of_date"` // NULLABLE

	UploadedTS time.Time              `bigquery:"uploaded_ts"` // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	LayoutVersion string              `bigquery:"layout_version"` // REQUIRED
	Status        string              `bigquery:"status"`         // REQUIRED
	ErrorMessage  bigquery.NullString `bigquery:"error_message"`  // NULLABLE

	Diagnostics bigquery.NullJSON `bigquery:"diagnostics"` // NULLABLE
}

// BatchToRow maps a domain batch to its row.
func BatchToRow(b *domain.UploadBatch) (*UploadBatchRow, error) {
	row := &UploadBatchRow{
		BatchID:       b.ID,
		UserID:        b.UserID,
		StatementID:   b.StatementID,
		SourceURI:     nullString(b.SourceURI),
		AsOfDate:      nullDate(b.AsOfDate),
		UploadedTS:    b.UploadedAt,
		LayoutVersion: b.LayoutVersion,
		Status:        string(b.Status),
		ErrorMessage:  nullString(truncate(b.Error, 2000)),
	}
	if b.Diagnostics != nil {
		raw, err := json.Marshal(b.Diagnostics)
		if err != nil {
			return nil, fmt.Errorf("BatchToRow: encoding diagnostics: %w", err)
		}
		row.Diagnostics = bigquery.NullJSON{JSONVal: string(raw), Valid: true}
	}
	return row, nil
}

// RowToBatch maps a row back to the domain batch.
func RowToBatch(row *UploadBatchRow) (*domain.UploadBatch, error) {
	b := &domain.UploadBatch{
		ID:            row.BatchID,
		UserID:        row.UserID,
		StatementID:   row.StatementID,
		SourceURI:     row.SourceURI.StringVal,
		AsOfDate:      fromNullDate(row.AsOfDate),
		UploadedAt:    row.UploadedTS,
		LayoutVersion: row.LayoutVersion,
		Status:        domain.BatchStatus(row.Status),
		Error:         row.ErrorMessage.StringVal,
	}
	if row.Diagnostics.Valid && row.Diagnostics.JSONVal != "" {
		var d domain.Diagnostics
		if err := json.Unmarshal([]byte(row.Diagnostics.JSONVal), &d); err != nil {
			return nil, fmt.Errorf("RowToBatch: decoding diagnostics of %s: %w", row.BatchID, err)
		}
		b.Diagnostics = &d
	}
	return b, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// InsertBatchWithClient inserts a new upload batch. A retried upload inserts
// its batch again; readers collapse rows sharing a batch ID.
func InsertBatchWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, b *domain.UploadBatch) error {
	row, err := BatchToRow(b)
	if err != nil {
		return err
	}
	if err := ds.handle(client, uploadBatchesTable).Inserter().Put(ctx, row); err != nil {
		return fmt.Errorf("InsertBatch: inserting row: %w", err)
	}
	return nil
}

// FinishBatchWithClient records the final status and diagnostics of a batch.
func FinishBatchWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, b *domain.UploadBatch) error {
	row, err := BatchToRow(b)
	if err != nil {
		return err
	}

	q := client.Query(`
		UPDATE ` + ds.table(uploadBatchesTable) + `
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message,
		    as_of_date = @as_of_date,
		    diagnostics = PARSE_JSON(@diagnostics)
		WHERE batch_id = @batch_id
	`)
	diagnostics := "null"
	if row.Diagnostics.Valid {
		diagnostics = row.Diagnostics.JSONVal
	}
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: row.Status},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: row.ErrorMessage},
		{Name: "as_of_date", Value: row.AsOfDate},
		{Name: "diagnostics", Value: diagnostics},
		{Name: "batch_id", Value: row.BatchID},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("FinishBatch: %s: %w", b.ID, err)
	}
	return nil
}

const batchColumns = `
			batch_id,
			user_id,
			statement_id,
			source_uri,
			as_of_date,
			uploaded_ts,
			finished_ts,
			layout_version,
			status,
			error_message,
			diagnostics`

// GetBatchWithClient returns one batch or domain.ErrNotFound.
func GetBatchWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, batchID string) (*domain.UploadBatch, error) {
	q := client.Query(`SELECT` + batchColumns + `
		FROM ` + ds.table(uploadBatchesTable) + `
		WHERE batch_id = @batch_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "batch_id", Value: batchID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetBatch: reading query: %w", err)
	}
	var row UploadBatchRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetBatch: %s: %w", batchID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBatch: reading row: %w", err)
	}
	return RowToBatch(&row)
}

// ListBatchesWithClient returns a user's batches, newest first.
func ListBatchesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]*domain.UploadBatch, error) {
	q := client.Query(`SELECT` + batchColumns + `
		FROM ` + ds.table(uploadBatchesTable) + `
		WHERE user_id = @user_id
		QUALIFY ROW_NUMBER() OVER (PARTITION BY batch_id ORDER BY uploaded_ts DESC) = 1
		ORDER BY uploaded_ts DESC
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListBatches: reading query: %w", err)
	}

	var out []*domain.UploadBatch
	for {
		var row UploadBatchRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListBatches: iterating: %w", err)
		}
		b, err := RowToBatch(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
