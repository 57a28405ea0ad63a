package parser

import (
	"testing"

	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holdingRow(number, qty string) []string {
	return []string{"12.5", "15,000.00", "3.2", "465.00", "14,535.00", "150.00", qty, "פועלים", number}
}

func TestParseHoldings(t *testing.T) {
	p := testParser()
	diag := domain.NewDiagnostics()
	table := statement.RawTable{Page: 1, Index: 0, Rows: [][]string{
		{"פירוט אחזקות"},
		holdingRow("662577", "100"),
		holdingRow("593038", "0"),
		holdingRow("000000", "5"),
		holdingRow("1081124", "abc"),
	}}

	hs := p.ParseHoldings(testBatch(), table, diag)
	require.Len(t, hs, 1)

	h := hs[0]
	assert.Equal(t, "POLI", h.Security.Symbol)
	assert.Equal(t, "user-1", h.UserID)
	assert.Equal(t, "stmt-1", h.SourceStatementID)
	assert.Equal(t, *testBatch().AsOfDate, h.AsOfDate)
	assert.Equal(t, "100", h.Quantity.String())
	assert.Equal(t, "15000", h.Value.String())
	assertDecimal(t, "150", h.LastPrice)
	assertDecimal(t, "14535", h.CostBasis)
	assert.Equal(t, 1, h.Source.Row)

	assert.Equal(t, 1, diag.HoldingsFound)
	assert.Equal(t, 1, diag.RowsSkippedUnmatched)
	assert.Equal(t, 2, diag.RowsSkippedUnparsable)

	reasons := map[domain.SkipReason]int{}
	for _, s := range diag.Skipped {
		reasons[s.Reason]++
	}
	assert.Equal(t, map[domain.SkipReason]int{
		domain.ReasonZeroQuantity:       1,
		domain.ReasonUnresolvedSecurity: 1,
		domain.ReasonUnparsableRow:      1,
	}, reasons)
}

func TestParseHoldings_MissingAsOfDate(t *testing.T) {
	p := testParser()
	diag := domain.NewDiagnostics()
	b := testBatch()
	b.AsOfDate = nil

	rows := [][]string{holdingRow("662577", "100"), {"", ""}, holdingRow("593038", "50")}
	hs := p.ParseHoldings(b, statement.RawTable{Page: 4, Index: 2, Rows: rows}, diag)
	assert.Empty(t, hs)
	require.Len(t, diag.Skipped, 2)
	for i, want := range []int{0, 2} {
		assert.Equal(t, domain.ReasonMissingAsOfDate, diag.Skipped[i].Reason)
		assert.Equal(t, want, diag.Skipped[i].Row)
		assert.Equal(t, 4, diag.Skipped[i].Page)
		assert.Equal(t, rows[want], diag.Skipped[i].Raw)
	}
	assert.Equal(t, 2, diag.RowsSkippedUnparsable)
}

func TestParseHoldingRow_ValueFromLastPrice(t *testing.T) {
	p := testParser()
	row := holdingRow("662577", "10")
	row[1] = "-"

	h, ok := p.ParseHoldingRow(testBatch(), domain.SourceRef{}, row, domain.NewDiagnostics())
	require.True(t, ok)
	assert.Equal(t, "1500", h.Value.String())
}
