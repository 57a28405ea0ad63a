package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType is the economic direction of a staged statement row.
type TransactionType string

const (
	TransactionTypeBuy      TransactionType = "BUY"
	TransactionTypeSell     TransactionType = "SELL"
	TransactionTypeDividend TransactionType = "DIVIDEND"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeBuy, TransactionTypeSell, TransactionTypeDividend:
		return true
	}
	return false
}

// Flags attached to a staged transaction. A flagged row is still emitted but
// must be looked at by a reviewer.
const (
	FlagReconciliationMismatch = "reconciliation_mismatch"
	FlagMissingExecutionDate   = "missing_execution_date"
	FlagMissingQuantity        = "missing_quantity"
	FlagMissingNetAmount       = "missing_net_amount"
	FlagMalformedCell          = "malformed_cell"
)

// SourceRef locates a record inside the extraction output it came from.
type SourceRef struct {
	Page  int `json:"page"`
	Table int `json:"table"`
	Row   int `json:"row"`
}

// PendingTransaction is one extracted trade or dividend awaiting review.
// This is a domain struct; storage adapters map it into their own rows.
type PendingTransaction struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	UploadBatchID string `json:"upload_batch_id"`

	Security        Security        `json:"security"`
	TransactionType TransactionType `json:"transaction_type"`

	TransactionDate *civil.Date `json:"transaction_date,omitempty"` // nil when the source cell was missing
	ValueDate       *civil.Date `json:"value_date,omitempty"`
	ExecutionHour   string      `json:"execution_hour,omitempty"`

	Quantity          decimal.NullDecimal `json:"quantity"` // positive magnitude
	Price             decimal.NullDecimal `json:"price"`
	GrossAmount       decimal.NullDecimal `json:"gross_amount"`
	NetAmount         decimal.NullDecimal `json:"net_amount"`
	Commission        decimal.NullDecimal `json:"commission"`
	Tax               decimal.NullDecimal `json:"tax"`
	RemainingQuantity decimal.NullDecimal `json:"remaining_quantity"`
	CashBalance       decimal.NullDecimal `json:"cash_balance"`
	Currency          string              `json:"currency"`

	Status         ReviewStatus `json:"status"`
	Flags          []string     `json:"flags,omitempty"`
	RequiresReview bool         `json:"requires_review"`
	Overrides      *Overrides   `json:"overrides,omitempty"`

	RawRow []string  `json:"raw_row"`
	Source SourceRef `json:"source"`

	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
}

// HasFlag reports whether flag was raised on the transaction.
func (t *PendingTransaction) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores can hand out values without sharing slices.
func (t *PendingTransaction) Clone() *PendingTransaction {
	c := *t
	c.Flags = append([]string(nil), t.Flags...)
	c.RawRow = append([]string(nil), t.RawRow...)
	if t.TransactionDate != nil {
		d := *t.TransactionDate
		c.TransactionDate = &d
	}
	if t.ValueDate != nil {
		d := *t.ValueDate
		c.ValueDate = &d
	}
	if t.ReviewedAt != nil {
		at := *t.ReviewedAt
		c.ReviewedAt = &at
	}
	if t.Overrides != nil {
		o := *t.Overrides
		c.Overrides = &o
	}
	return &c
}

// Overrides carries the fields a reviewer corrected on a staged transaction.
// Nil fields are left untouched.
type Overrides struct {
	TransactionType *TransactionType `json:"transaction_type,omitempty"`
	TransactionDate *civil.Date      `json:"transaction_date,omitempty"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	GrossAmount     *decimal.Decimal `json:"gross_amount,omitempty"`
	NetAmount       *decimal.Decimal `json:"net_amount,omitempty"`
	Commission      *decimal.Decimal `json:"commission,omitempty"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
}

// IsEmpty reports whether no field is overridden.
func (o Overrides) IsEmpty() bool {
	return o.TransactionType == nil && o.TransactionDate == nil && o.Quantity == nil &&
		o.Price == nil && o.GrossAmount == nil && o.NetAmount == nil &&
		o.Commission == nil && o.Tax == nil
}
