// Package review is the staging area where extracted transactions wait for a
// human decision before they join the permanent ledger.
package review

import (
	"fmt"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// Action is a reviewer decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionModify  Action = "modify"
)

// Target is the status an action moves a record to.
func (a Action) Target() domain.ReviewStatus {
	switch a {
	case ActionApprove:
		return domain.StatusApproved
	case ActionReject:
		return domain.StatusRejected
	case ActionModify:
		return domain.StatusModified
	}
	return ""
}

var transitions = map[domain.ReviewStatus][]domain.ReviewStatus{
	domain.StatusPending:  {domain.StatusApproved, domain.StatusRejected, domain.StatusModified},
	domain.StatusModified: {domain.StatusApproved, domain.StatusRejected},
}

// CanTransition reports whether a record in from may move to to.
func CanTransition(from, to domain.ReviewStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply performs action on tx and returns the updated copy. tx itself is
// never changed, so a rejected transition leaves nothing half-applied.
// Overrides are only read for ActionModify.
func Apply(tx *domain.PendingTransaction, action Action, reviewer string, at time.Time, o *domain.Overrides) (*domain.PendingTransaction, error) {
	to := action.Target()
	if to == "" {
		return nil, fmt.Errorf("review.Apply: unknown action %q", action)
	}
	if !CanTransition(tx.Status, to) {
		return nil, fmt.Errorf("review.Apply: %s %s from %s: %w", action, tx.ID, tx.Status, domain.ErrConflictingReview)
	}

	out := tx.Clone()
	if action == ActionModify {
		if o == nil {
			return nil, fmt.Errorf("review.Apply: modify %s: no overrides: %w", tx.ID, domain.ErrInvalidOverride)
		}
		if err := ValidateOverrides(*o); err != nil {
			return nil, fmt.Errorf("review.Apply: modify %s: %w", tx.ID, err)
		}
		applyOverrides(out, *o)
	}

	at = at.UTC()
	out.Status = to
	out.ReviewedAt = &at
	out.ReviewedBy = reviewer
	return out, nil
}

// ValidateOverrides checks reviewer-supplied values.
func ValidateOverrides(o domain.Overrides) error {
	if o.IsEmpty() {
		return fmt.Errorf("no fields overridden: %w", domain.ErrInvalidOverride)
	}
	if o.TransactionType != nil && !o.TransactionType.Valid() {
		return fmt.Errorf("unknown transaction type %q: %w", *o.TransactionType, domain.ErrInvalidOverride)
	}
	nonNegative := map[string]*decimal.Decimal{
		"quantity":     o.Quantity,
		"price":        o.Price,
		"gross_amount": o.GrossAmount,
		"net_amount":   o.NetAmount,
		"commission":   o.Commission,
		"tax":          o.Tax,
	}
	for name, v := range nonNegative {
		if v != nil && v.IsNegative() {
			return fmt.Errorf("%s must not be negative: %w", name, domain.ErrInvalidOverride)
		}
	}
	return nil
}

func applyOverrides(tx *domain.PendingTransaction, o domain.Overrides) {
	set := func(dst *decimal.NullDecimal, v *decimal.Decimal) {
		if v != nil {
			*dst = decimal.NewNullDecimal(v.Round(cells.Scale))
		}
	}
	if o.TransactionType != nil {
		tx.TransactionType = *o.TransactionType
	}
	if o.TransactionDate != nil {
		d := *o.TransactionDate
		tx.TransactionDate = &d
	}
	set(&tx.Quantity, o.Quantity)
	set(&tx.Price, o.Price)
	set(&tx.NetAmount, o.NetAmount)
	set(&tx.Commission, o.Commission)
	set(&tx.Tax, o.Tax)

	if o.GrossAmount != nil {
		set(&tx.GrossAmount, o.GrossAmount)
	} else {
		recomputeGross(tx)
	}

	oc := o
	tx.Overrides = &oc
}

// recomputeGross keeps gross consistent with corrected inputs when the
// reviewer did not set it explicitly.
func recomputeGross(tx *domain.PendingTransaction) {
	zero := func(d decimal.NullDecimal) decimal.Decimal {
		if d.Valid {
			return d.Decimal
		}
		return decimal.Zero
	}
	switch tx.TransactionType {
	case domain.TransactionTypeDividend:
		if tx.NetAmount.Valid {
			tx.GrossAmount = decimal.NewNullDecimal(tx.NetAmount.Decimal.Add(zero(tx.Tax)).Add(zero(tx.Commission)).Round(cells.Scale))
		}
	default:
		if tx.Quantity.Valid && tx.Price.Valid {
			tx.GrossAmount = decimal.NewNullDecimal(tx.Quantity.Decimal.Mul(tx.Price.Decimal).Round(cells.Scale))
		}
	}
}
