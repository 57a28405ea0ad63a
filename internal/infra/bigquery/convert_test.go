package bigquery

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "50.71", "-12.5", "1234567.1234"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(fromNumeric(numeric(d))), s)
	}
	assert.Nil(t, nullNumeric(decimal.NullDecimal{}))
	assert.False(t, fromNullNumeric(nil).Valid)
	assert.True(t, fromNumeric(nil).IsZero())
}

func TestBatchRowRoundTrip(t *testing.T) {
	asOf := civil.Date{Year: 2025, Month: time.June, Day: 30}
	diag := domain.NewDiagnostics()
	diag.Table()
	diag.Skip(domain.SkippedItem{Page: 1, Row: 2, Reason: domain.ReasonUnresolvedSecurity, Raw: []string{"x"}})

	b := &domain.UploadBatch{
		ID:            "batch-1",
		UserID:        "user-1",
		StatementID:   "stmt-1",
		AsOfDate:      &asOf,
		UploadedAt:    time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		LayoutVersion: "v1",
		Status:        domain.BatchStatusStaged,
		Diagnostics:   diag,
	}

	row, err := BatchToRow(b)
	require.NoError(t, err)
	assert.False(t, row.SourceURI.Valid)
	assert.True(t, row.AsOfDate.Valid)
	assert.True(t, row.Diagnostics.Valid)
	assert.Contains(t, row.Diagnostics.JSONVal, `"rows_skipped_unmatched":1`)

	back, err := RowToBatch(row)
	require.NoError(t, err)
	assert.Equal(t, b, back)
}

func TestBatchToRow_TruncatesError(t *testing.T) {
	row, err := BatchToRow(&domain.UploadBatch{ID: "b", Error: strings.Repeat("x", 5000)})
	require.NoError(t, err)
	assert.Len(t, row.ErrorMessage.StringVal, 2000)
}

func TestHoldingRowRoundTrip(t *testing.T) {
	h := domain.Holding{
		UserID:            "user-1",
		Security:          domain.Security{SecurityNumber: "662577", Symbol: "POLI", CompanyName: "פועלים"},
		Quantity:          decimal.NewFromInt(100),
		Value:             decimal.RequireFromString("15000.5"),
		LastPrice:         decimal.NewNullDecimal(decimal.NewFromInt(150)),
		AsOfDate:          civil.Date{Year: 2025, Month: time.June, Day: 30},
		SourceStatementID: "stmt-1",
		Source:            domain.SourceRef{Page: 2, Table: 1, Row: 7},
	}

	row := HoldingToRow(h, "batch-1", time.Now())
	assert.Equal(t, "batch-1", row.BatchID)
	assert.Nil(t, row.CostBasis)

	back := RowToHolding(row)
	assert.True(t, h.Quantity.Equal(back.Quantity))
	assert.True(t, h.Value.Equal(back.Value))
	assert.True(t, back.LastPrice.Valid)
	assert.False(t, back.CostBasis.Valid)
	assert.Equal(t, h.Security, back.Security)
	assert.Equal(t, h.Source, back.Source)
	assert.Equal(t, h.AsOfDate, back.AsOfDate)
}

func TestDatasetTable(t *testing.T) {
	ds := Dataset{Project: "p", Name: "portfolio"}
	assert.Equal(t, "`p.portfolio.holdings`", ds.table(holdingsTable))
}
