package postgres

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

func TestRowRoundTrip(t *testing.T) {
	date := civil.Date{Year: 2025, Month: time.March, Day: 12}
	qty := decimal.NewFromInt(30)
	reviewed := time.Date(2025, time.April, 1, 9, 30, 0, 0, time.UTC)
	typ := domain.TransactionTypeBuy

	tx := &domain.PendingTransaction{
		ID:              "tx-1",
		UserID:          "user-1",
		UploadBatchID:   "batch-1",
		Security:        domain.Security{SecurityNumber: "593038", Symbol: "FIBI", CompanyName: "הבינלאומי"},
		TransactionType: domain.TransactionTypeDividend,
		TransactionDate: &date,
		Quantity:        decimal.NewNullDecimal(decimal.NewFromInt(24)),
		GrossAmount:     decimal.NewNullDecimal(decimal.RequireFromString("50.71")),
		NetAmount:       decimal.NewNullDecimal(decimal.RequireFromString("38.03")),
		Tax:             decimal.NewNullDecimal(decimal.RequireFromString("12.68")),
		Currency:        "ILS",
		Status:          domain.StatusModified,
		Flags:           []string{domain.FlagMissingQuantity},
		RequiresReview:  true,
		Overrides:       &domain.Overrides{TransactionType: &typ, Quantity: &qty},
		RawRow:          []string{"593038", "דיבידנד"},
		Source:          domain.SourceRef{Page: 1, Table: 2, Row: 3},
		CreatedAt:       time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC),
		ReviewedAt:      &reviewed,
		ReviewedBy:      "alice",
	}

	row, err := toRow(tx)
	require.NoError(t, err)
	assert.Nil(t, row.Price)
	assert.Nil(t, row.ValueDate)
	require.NotNil(t, row.GrossAmount)
	assert.Equal(t, "50.71", *row.GrossAmount)

	back, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, tx.Security, back.Security)
	assert.Equal(t, tx.TransactionDate, back.TransactionDate)
	assert.Nil(t, back.ValueDate)
	assert.True(t, back.GrossAmount.Decimal.Equal(tx.GrossAmount.Decimal))
	assert.False(t, back.Price.Valid)
	assert.Equal(t, tx.Flags, back.Flags)
	assert.Equal(t, tx.Source, back.Source)
	require.NotNil(t, back.Overrides)
	assert.Equal(t, domain.TransactionTypeBuy, *back.Overrides.TransactionType)
	assert.True(t, back.Overrides.Quantity.Equal(qty))
	assert.Nil(t, back.Overrides.Price)
	assert.Equal(t, tx.ReviewedBy, back.ReviewedBy)
}

func TestToRow_NilSlicesBecomeEmpty(t *testing.T) {
	row, err := toRow(&domain.PendingTransaction{ID: "tx"})
	require.NoError(t, err)
	assert.NotNil(t, row.Flags)
	assert.NotNil(t, row.RawRow)
	assert.Nil(t, row.Overrides)
	assert.Len(t, row.args(), strings.Count(upsertSQL, "EXCLUDED.")+1)
}

func TestFromRow_BadNumeric(t *testing.T) {
	bad := "12,5"
	_, err := fromRow(&transactionRow{ID: "tx", Price: &bad})
	assert.Error(t, err)
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS pending_transactions")
}
