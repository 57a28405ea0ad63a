package domain

import "errors"

var (
	// ErrClassificationAmbiguous means a table's role could not be decided; the table is skipped.
	ErrClassificationAmbiguous = errors.New("table classification ambiguous")

	// ErrUnresolvedSecurity means a row's security number is not exactly one catalog entry.
	ErrUnresolvedSecurity = errors.New("security number not resolvable")

	// ErrMalformedCell means a cell failed coercion to its field type.
	ErrMalformedCell = errors.New("malformed cell")

	// ErrReconciliationMismatch means gross/net/tax/commission arithmetic is off by more than the tolerance.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")

	// ErrConflictingReview means a transition was attempted from a state that does not allow it.
	ErrConflictingReview = errors.New("conflicting review transition")

	// ErrInvalidOverride means a reviewer override failed validation.
	ErrInvalidOverride = errors.New("invalid override")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExtractionUnreadable means the extraction output could not be read at all.
	// It is the only error that aborts a whole upload.
	ErrExtractionUnreadable = errors.New("extraction output unreadable")
)
