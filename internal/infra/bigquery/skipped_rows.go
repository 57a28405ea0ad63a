package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// SkippedRowRow keeps the raw cells of a table or row that produced no record.
type SkippedRowRow struct {
	BatchID string `bigquery:"batch_id"` // REQUIRED
	UserID  string `bigquery:"user_id"`  // REQUIRED

	StatementPageNo  int64 `bigquery:"statement_page_no"`
	StatementTableNo int64 `bigquery:"statement_table_no"`
	StatementRowNo   int64 `bigquery:"statement_row_no"` // -1 for a whole table

	Reason string              `bigquery:"reason"` // REQUIRED
	Detail bigquery.NullString `bigquery:"detail"` // NULLABLE

	RawCells []string `bigquery:"raw_cells"` // REPEATED STRING

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// InsertSkippedRowsWithClient writes the skipped items of a batch.
func InsertSkippedRowsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, batchID, userID string, items []domain.SkippedItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]*SkippedRowRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, &SkippedRowRow{
			BatchID:          batchID,
			UserID:           userID,
			StatementPageNo:  int64(it.Page),
			StatementTableNo: int64(it.Table),
			StatementRowNo:   int64(it.Row),
			Reason:           string(it.Reason),
			Detail:           nullString(it.Detail),
			RawCells:         it.Raw,
			CreatedTS:        now,
		})
	}
	if err := ds.handle(client, skippedRowsTable).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertSkippedRows: inserting rows: %w", err)
	}
	return nil
}
