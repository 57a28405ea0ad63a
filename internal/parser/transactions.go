package parser

import (
	"fmt"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
	"github.com/shopspring/decimal"
)

// ParseTransactions parses every row of a TRANSACTIONS table. Rows that do
// not become records are reported to diag.
func (p *Parser) ParseTransactions(b Batch, t statement.RawTable, diag *domain.Diagnostics) []*domain.PendingTransaction {
	var out []*domain.PendingTransaction
	for i, row := range t.Rows {
		ref := domain.SourceRef{Page: t.Page, Table: t.Index, Row: i}
		if tx := p.ParseTransactionRow(b, ref, row, diag); tx != nil {
			out = append(out, tx)
		}
	}
	return out
}

// ParseTransactionRow parses one row. It returns nil for separator and title
// rows, and for rows it skips; the latter are recorded in diag.
func (p *Parser) ParseTransactionRow(b Batch, ref domain.SourceRef, row []string, diag *domain.Diagnostics) *domain.PendingTransaction {
	cols := p.cfg.Transactions

	skip := func(reason domain.SkipReason, detail string) *domain.PendingTransaction {
		diag.Skip(domain.SkippedItem{
			Page: ref.Page, Table: ref.Table, Row: ref.Row,
			Reason: reason, Detail: detail, Raw: row,
		})
		return nil
	}

	if ok, reason, detail := skipRow(row, cols); ok {
		if reason == "" {
			return nil
		}
		return skip(reason, detail)
	}

	sec, number, ok := p.resolve(row, cols)
	if !ok {
		return skip(domain.ReasonUnresolvedSecurity, fmt.Sprintf("security number %q", number))
	}

	token := cells.AsText(cols.Cell(row, layout.FieldTransactionType)).Text
	typ, ok := p.cfg.LookupType(token)
	if !ok {
		return skip(domain.ReasonUnknownTransactionType, fmt.Sprintf("transaction type %q", token))
	}

	tx := &domain.PendingTransaction{
		ID:              TransactionID(b.BatchID, ref),
		UserID:          b.UserID,
		UploadBatchID:   b.BatchID,
		Security:        sec,
		TransactionType: typ,
		Currency:        p.currency,
		Status:          domain.StatusPending,
		RawRow:          append([]string(nil), row...),
		Source:          ref,
		CreatedAt:       b.CreatedAt,
	}

	flag := func(f string) {
		if !tx.HasFlag(f) {
			tx.Flags = append(tx.Flags, f)
		}
		tx.RequiresReview = true
	}

	date := cells.AsDate(cols.Cell(row, layout.FieldExecutionDate))
	tx.TransactionDate = date.OptionalDate()
	if tx.TransactionDate == nil {
		flag(domain.FlagMissingExecutionDate)
	}
	if date.LowConfidence {
		flag(domain.FlagMalformedCell)
	}
	tx.ValueDate = cells.AsDate(cols.Cell(row, layout.FieldValueDate)).OptionalDate()
	tx.ExecutionHour = cells.AsText(cols.Cell(row, layout.FieldHour)).Text

	fields := []struct {
		field layout.Field
		dst   *decimal.NullDecimal
	}{
		{layout.FieldQuantity, &tx.Quantity},
		{layout.FieldExecutionPrice, &tx.Price},
		{layout.FieldNetAmount, &tx.NetAmount},
		{layout.FieldCommission, &tx.Commission},
		{layout.FieldTax, &tx.Tax},
		{layout.FieldRemainingQuantity, &tx.RemainingQuantity},
		{layout.FieldCashBalance, &tx.CashBalance},
	}
	for _, f := range fields {
		v, malformed := amount(row, cols, f.field)
		*f.dst = v
		if malformed {
			flag(domain.FlagMalformedCell)
		}
	}

	if typ == domain.TransactionTypeDividend {
		p.reconcileDividend(tx, flag)
	} else {
		p.reconcileTrade(tx, flag)
	}
	diag.Transaction(tx)
	return tx
}

// reconcileDividend rebuilds gross from net, tax and commission. Dividend
// rows usually report no quantity of their own; the eligible holding in
// remaining_quantity is the quantity paid on.
func (p *Parser) reconcileDividend(tx *domain.PendingTransaction, flag func(string)) {
	if !tx.Quantity.Valid || tx.Quantity.Decimal.IsZero() {
		if tx.RemainingQuantity.Valid && !tx.RemainingQuantity.Decimal.IsZero() {
			tx.Quantity = tx.RemainingQuantity
		} else {
			tx.Quantity = decimal.NullDecimal{}
			flag(domain.FlagMissingQuantity)
		}
	}
	if !tx.NetAmount.Valid {
		flag(domain.FlagMissingNetAmount)
		return
	}
	tx.GrossAmount = round(tx.NetAmount.Decimal.Add(orZero(tx.Tax)).Add(orZero(tx.Commission)))
}

// reconcileTrade computes gross as quantity × price and checks it against the
// reported net. A mismatch is flagged; the row is kept.
func (p *Parser) reconcileTrade(tx *domain.PendingTransaction, flag func(string)) {
	if !tx.Quantity.Valid || tx.Quantity.Decimal.IsZero() {
		tx.Quantity = decimal.NullDecimal{}
		flag(domain.FlagMissingQuantity)
		return
	}
	if !tx.Price.Valid {
		return
	}
	gross := tx.Quantity.Decimal.Mul(tx.Price.Decimal)
	tx.GrossAmount = round(gross)

	if !tx.NetAmount.Valid {
		return
	}
	costs := orZero(tx.Commission).Add(orZero(tx.Tax))
	expected := gross.Add(costs)
	if tx.TransactionType == domain.TransactionTypeSell {
		expected = gross.Sub(costs)
	}
	if tx.NetAmount.Decimal.Sub(expected).Abs().GreaterThan(p.tolerance) {
		flag(domain.FlagReconciliationMismatch)
	}
}
