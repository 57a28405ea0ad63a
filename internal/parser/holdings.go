package parser

import (
	"fmt"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// ParseHoldings parses every row of a HOLDINGS table. Without an as-of date a
// holding cannot be placed in time, so the whole table is skipped.
func (p *Parser) ParseHoldings(b Batch, t statement.RawTable, diag *domain.Diagnostics) []domain.Holding {
	if b.AsOfDate == nil {
		diag.SkipTable(domain.SkippedItem{
			Page: t.Page, Table: t.Index,
			Reason: domain.ReasonMissingAsOfDate,
			Detail: "statement as-of date unknown",
		}, t.Rows)
		return nil
	}

	var out []domain.Holding
	for i, row := range t.Rows {
		ref := domain.SourceRef{Page: t.Page, Table: t.Index, Row: i}
		if h, ok := p.ParseHoldingRow(b, ref, row, diag); ok {
			out = append(out, h)
		}
	}
	return out
}

// ParseHoldingRow parses one holdings row. b.AsOfDate must be set.
func (p *Parser) ParseHoldingRow(b Batch, ref domain.SourceRef, row []string, diag *domain.Diagnostics) (domain.Holding, bool) {
	cols := p.cfg.Holdings

	skip := func(reason domain.SkipReason, detail string) (domain.Holding, bool) {
		diag.Skip(domain.SkippedItem{
			Page: ref.Page, Table: ref.Table, Row: ref.Row,
			Reason: reason, Detail: detail, Raw: row,
		})
		return domain.Holding{}, false
	}

	if ok, reason, detail := skipRow(row, cols); ok {
		if reason == "" {
			return domain.Holding{}, false
		}
		return skip(reason, detail)
	}
	if b.AsOfDate == nil {
		return skip(domain.ReasonMissingAsOfDate, "statement as-of date unknown")
	}

	sec, number, ok := p.resolve(row, cols)
	if !ok {
		return skip(domain.ReasonUnresolvedSecurity, fmt.Sprintf("security number %q", number))
	}

	qty := cells.AsDecimal(cols.Cell(row, layout.FieldQuantity))
	if qty.Kind != cells.Decimal {
		return skip(domain.ReasonUnparsableRow, fmt.Sprintf("quantity %q", qty.Text))
	}
	if !qty.Decimal.IsPositive() {
		return skip(domain.ReasonZeroQuantity, fmt.Sprintf("quantity %s", qty.Decimal))
	}

	h := domain.Holding{
		UserID:            b.UserID,
		Security:          sec,
		Quantity:          qty.Decimal,
		AsOfDate:          *b.AsOfDate,
		SourceStatementID: b.StatementID,
		Source:            ref,
	}
	h.LastPrice, _ = amount(row, cols, layout.FieldLastPrice)
	h.CostBasis, _ = amount(row, cols, layout.FieldCostBasis)

	value := cells.AsDecimal(cols.Cell(row, layout.FieldMarketValue))
	switch {
	case value.Kind == cells.Decimal:
		h.Value = value.Decimal
	case h.LastPrice.Valid:
		h.Value = h.Quantity.Mul(h.LastPrice.Decimal).Round(cells.Scale)
	}

	diag.Holding()
	return h, true
}
