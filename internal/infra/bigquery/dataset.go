package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	uploadBatchesTable = "upload_batches"
	holdingsTable      = "holdings"
	skippedRowsTable   = "skipped_rows"
	securitiesTable    = "securities"
)

// Dataset names the project and dataset the tables live in.
type Dataset struct {
	Project string
	Name    string
}

// table is the fully qualified, backquoted table name for SQL.
func (d Dataset) table(name string) string {
	return "`" + d.Project + "." + d.Name + "." + name + "`"
}

func (d Dataset) handle(client *bigquery.Client, name string) *bigquery.Table {
	return client.DatasetInProject(d.Project, d.Name).Table(name)
}

// runDML runs a statement that returns no rows and waits for it.
func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
