package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"google.golang.org/api/iterator"
)

// SecurityRow is one row of the securities reference table.
type SecurityRow struct {
	SecurityNumber string              `bigquery:"security_number"`
	Symbol         string              `bigquery:"symbol"`
	CompanyName    string              `bigquery:"company_name"`
	IndexName      bigquery.NullString `bigquery:"index_name"`
}

// ListSecuritiesWithClient reads the whole catalog.
func ListSecuritiesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]domain.Security, error) {
	q := client.Query(`
		SELECT
			security_number,
			symbol,
			company_name,
			index_name
		FROM ` + ds.table(securitiesTable) + `
		ORDER BY security_number
	`)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSecurities: reading query: %w", err)
	}

	var out []domain.Security
	for {
		var row SecurityRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSecurities: iterating: %w", err)
		}
		out = append(out, domain.Security{
			SecurityNumber: row.SecurityNumber,
			Symbol:         row.Symbol,
			CompanyName:    row.CompanyName,
			IndexName:      row.IndexName.StringVal,
		})
	}
	return out, nil
}
