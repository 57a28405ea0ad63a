package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
	"google.golang.org/api/iterator"
)

// HoldingRow is one row of holdings.
type HoldingRow struct {
	UserID      string `bigquery:"user_id"`      // REQUIRED
	StatementID string `bigquery:"statement_id"` // REQUIRED
	BatchID     string `bigquery:"batch_id"`     // REQUIRED

	SecurityNumber string              `bigquery:"security_number"` // REQUIRED
	Symbol         bigquery.NullString `bigquery:"symbol"`          // NULLABLE
	CompanyName    bigquery.NullString `bigquery:"company_name"`    // NULLABLE

	Quantity    *big.Rat `bigquery:"quantity"`     // REQUIRED NUMERIC
	MarketValue *big.Rat `bigquery:"market_value"` // REQUIRED NUMERIC
	LastPrice   *big.Rat `bigquery:"last_price"`   // NULLABLE NUMERIC
	CostBasis   *big.Rat `bigquery:"cost_basis"`   // NULLABLE NUMERIC

	AsOfDate civil.Date `bigquery:"as_of_date"` // REQUIRED

	StatementPageNo  int64 `bigquery:"statement_page_no"`
	StatementTableNo int64 `bigquery:"statement_table_no"`
	StatementRowNo   int64 `bigquery:"statement_row_no"`

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// HoldingToRow maps a holding extracted under batchID.
func HoldingToRow(h domain.Holding, batchID string, now time.Time) *HoldingRow {
	return &HoldingRow{
		UserID:           h.UserID,
		StatementID:      h.SourceStatementID,
		BatchID:          batchID,
		SecurityNumber:   h.Security.SecurityNumber,
		Symbol:           nullString(h.Security.Symbol),
		CompanyName:      nullString(h.Security.CompanyName),
		Quantity:         numeric(h.Quantity),
		MarketValue:      numeric(h.Value),
		LastPrice:        nullNumeric(h.LastPrice),
		CostBasis:        nullNumeric(h.CostBasis),
		AsOfDate:         h.AsOfDate,
		StatementPageNo:  int64(h.Source.Page),
		StatementTableNo: int64(h.Source.Table),
		StatementRowNo:   int64(h.Source.Row),
		CreatedTS:        now,
	}
}

// RowToHolding maps a row back to the domain holding.
func RowToHolding(row *HoldingRow) domain.Holding {
	return domain.Holding{
		UserID: row.UserID,
		Security: domain.Security{
			SecurityNumber: row.SecurityNumber,
			Symbol:         row.Symbol.StringVal,
			CompanyName:    row.CompanyName.StringVal,
		},
		Quantity:          fromNumeric(row.Quantity),
		Value:             fromNumeric(row.MarketValue),
		LastPrice:         fromNullNumeric(row.LastPrice),
		CostBasis:         fromNullNumeric(row.CostBasis),
		AsOfDate:          row.AsOfDate,
		SourceStatementID: row.StatementID,
		Source: domain.SourceRef{
			Page:  int(row.StatementPageNo),
			Table: int(row.StatementTableNo),
			Row:   int(row.StatementRowNo),
		},
	}
}

// ReplaceHoldingsWithClient stores a statement's holdings, removing whatever
// an earlier upload of the same statement stored.
func ReplaceHoldingsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID, statementID, batchID string, holdings []domain.Holding) error {
	q := client.Query(`
		DELETE FROM ` + ds.table(holdingsTable) + `
		WHERE user_id = @user_id AND statement_id = @statement_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "statement_id", Value: statementID},
	}
	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ReplaceHoldings: deleting previous rows: %w", err)
	}

	if len(holdings) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]*HoldingRow, 0, len(holdings))
	for _, h := range holdings {
		rows = append(rows, HoldingToRow(h, batchID, now))
	}
	if err := ds.handle(client, holdingsTable).Inserter().Put(ctx, rows); err != nil {
		return fmt.Errorf("ReplaceHoldings: inserting rows: %w", err)
	}
	return nil
}

// LoadStatementsWithClient reads every stored holding of a user, grouped by
// statement, with the upload time of the batch that stored it.
func LoadStatementsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]snapshot.Statement, error) {
	q := client.Query(`
		SELECT
			h.user_id,
			h.statement_id,
			h.batch_id,
			h.security_number,
			h.symbol,
			h.company_name,
			h.quantity,
			h.market_value,
			h.last_price,
			h.cost_basis,
			h.as_of_date,
			h.statement_page_no,
			h.statement_table_no,
			h.statement_row_no,
			h.created_ts,
			b.uploaded_ts
		FROM ` + ds.table(holdingsTable) + ` h
		JOIN ` + ds.table(uploadBatchesTable) + ` b USING (batch_id)
		WHERE h.user_id = @user_id
		ORDER BY h.statement_id, h.statement_page_no, h.statement_table_no, h.statement_row_no
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadStatements: reading query: %w", err)
	}

	var (
		holdings   []domain.Holding
		uploadedAt = make(map[string]time.Time)
		batchOf    = make(map[string]string)
	)
	for {
		var row struct {
			HoldingRow
			UploadedTS time.Time `bigquery:"uploaded_ts"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadStatements: iterating: %w", err)
		}
		holdings = append(holdings, RowToHolding(&row.HoldingRow))
		uploadedAt[row.StatementID] = row.UploadedTS
		batchOf[row.StatementID] = row.BatchID
	}

	statements := snapshot.Group(holdings, uploadedAt)
	for i := range statements {
		statements[i].BatchID = batchOf[statements[i].StatementID]
	}
	return statements, nil
}
