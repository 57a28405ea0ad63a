package domain

import "strings"

// SkipReason explains why a table or row did not become a record.
type SkipReason string

const (
	ReasonClassificationAmbiguous SkipReason = "classification_ambiguous"
	ReasonUnresolvedSecurity      SkipReason = "unresolved_security"
	ReasonUnparsableRow           SkipReason = "unparsable_row"
	ReasonRowWidthMismatch        SkipReason = "row_width_mismatch"
	ReasonUnknownTransactionType  SkipReason = "unknown_transaction_type"
	ReasonZeroQuantity            SkipReason = "zero_quantity"
	ReasonMissingAsOfDate         SkipReason = "missing_as_of_date"
)

// SkippedItem keeps the raw cells of anything that was not materialized so
// nothing is silently lost.
type SkippedItem struct {
	Page   int        `json:"page"`
	Table  int        `json:"table"`
	Row    int        `json:"row"` // -1 for a whole table
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
	Raw    []string   `json:"raw,omitempty"`
}

// Diagnostics accumulates per-upload counts of found vs. skipped items.
// One upload is processed sequentially, so it is not synchronized.
type Diagnostics struct {
	TablesSeen         int `json:"tables_seen"`
	TablesUnclassified int `json:"tables_unclassified"`

	HoldingsFound     int `json:"holdings_found"`
	TransactionsFound int `json:"transactions_found"`
	DividendsFound    int `json:"dividends_found"`

	RowsSkippedUnmatched        int `json:"rows_skipped_unmatched"`
	RowsSkippedUnparsable       int `json:"rows_skipped_unparsable"`
	RowsSkippedUnclassifiedType int `json:"rows_skipped_unclassified_type"`
	RowsFlaggedMismatch         int `json:"rows_flagged_mismatch"`

	Skipped []SkippedItem `json:"skipped,omitempty"`
}

// NewDiagnostics returns an empty accumulator.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Table counts a table that was looked at.
func (d *Diagnostics) Table() {
	d.TablesSeen++
}

// Skip records a skipped table or row and bumps the matching counter.
func (d *Diagnostics) Skip(item SkippedItem) {
	d.count(item.Reason)
	d.add(item)
}

// SkipTable records a whole skipped table. Every non-empty row is kept as
// its own item with its raw cells; a table without any is kept as one item
// with Row -1. An unclassified table counts once, any other reason counts
// once per kept row.
func (d *Diagnostics) SkipTable(item SkippedItem, rows [][]string) {
	perTable := item.Reason == ReasonClassificationAmbiguous
	if perTable {
		d.count(item.Reason)
	}

	kept := 0
	for i, row := range rows {
		if emptyRow(row) {
			continue
		}
		it := item
		it.Row = i
		it.Raw = row
		if !perTable {
			d.count(it.Reason)
		}
		d.add(it)
		kept++
	}
	if kept > 0 {
		return
	}
	item.Row = -1
	item.Raw = nil
	if !perTable {
		d.count(item.Reason)
	}
	d.add(item)
}

func (d *Diagnostics) count(reason SkipReason) {
	switch reason {
	case ReasonClassificationAmbiguous:
		d.TablesUnclassified++
	case ReasonUnresolvedSecurity:
		d.RowsSkippedUnmatched++
	case ReasonUnknownTransactionType:
		d.RowsSkippedUnclassifiedType++
	default:
		d.RowsSkippedUnparsable++
	}
}

func (d *Diagnostics) add(item SkippedItem) {
	item.Raw = append([]string(nil), item.Raw...)
	d.Skipped = append(d.Skipped, item)
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Holding counts an extracted holding.
func (d *Diagnostics) Holding() {
	d.HoldingsFound++
}

// Transaction counts an extracted trade or dividend.
func (d *Diagnostics) Transaction(t *PendingTransaction) {
	if t.TransactionType == TransactionTypeDividend {
		d.DividendsFound++
	} else {
		d.TransactionsFound++
	}
	if t.HasFlag(FlagReconciliationMismatch) {
		d.RowsFlaggedMismatch++
	}
}

// Clone returns a copy that does not share the skipped list.
func (d *Diagnostics) Clone() *Diagnostics {
	c := *d
	c.Skipped = append([]SkippedItem(nil), d.Skipped...)
	return &c
}
