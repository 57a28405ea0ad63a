// Package parser turns classified statement tables into holdings and staged
// transactions using the positional layouts from internal/layout.
package parser

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/classifier"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/securities"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "ILS"

// DefaultTolerance is the allowed deviation in the trade arithmetic check.
var DefaultTolerance = decimal.New(1, -2)

// idNamespace seeds deterministic transaction IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/dvloznov/portfolio-tracker/pending-transaction"))

// Batch identifies the upload that parsed rows belong to. Everything the
// parser stamps on a record comes from here, so the same Batch and the same
// tables always produce the same records.
type Batch struct {
	UserID      string
	BatchID     string
	StatementID string
	AsOfDate    *civil.Date
	CreatedAt   time.Time
}

// Parser parses rows of classified tables.
type Parser struct {
	cfg       *layout.Config
	resolver  securities.Resolver
	currency  string
	tolerance decimal.Decimal
}

// Option configures a Parser.
type Option func(*Parser)

// WithCurrency sets the currency stamped on transactions.
func WithCurrency(currency string) Option {
	return func(p *Parser) {
		if currency != "" {
			p.currency = currency
		}
	}
}

// WithTolerance sets the allowed deviation for the trade arithmetic check.
func WithTolerance(tol decimal.Decimal) Option {
	return func(p *Parser) {
		if !tol.IsNegative() {
			p.tolerance = tol
		}
	}
}

// New returns a Parser reading layouts from cfg and securities from resolver.
func New(cfg *layout.Config, resolver securities.Resolver, opts ...Option) *Parser {
	p := &Parser{
		cfg:       cfg,
		resolver:  resolver,
		currency:  DefaultCurrency,
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TransactionID is the deterministic ID of the row at ref within batchID.
func TransactionID(batchID string, ref domain.SourceRef) string {
	name := fmt.Sprintf("%s/%d/%d/%d", batchID, ref.Page, ref.Table, ref.Row)
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}

// isLabelRow reports whether row carries no number or date at all, as the
// column titles and in-table headings do.
func isLabelRow(row []string) bool {
	for _, c := range row {
		switch cells.Normalize(c).Kind {
		case cells.Decimal, cells.Date:
			return false
		}
	}
	return true
}

// skipRow decides whether a row is noise (nil reason, not counted) or has the
// wrong shape for cols.
func skipRow(row []string, cols layout.Columns) (skip bool, reason domain.SkipReason, detail string) {
	if classifier.IsBlank(row) || isLabelRow(row) {
		return true, "", ""
	}
	if len(row) != cols.Width() {
		return true, domain.ReasonRowWidthMismatch,
			fmt.Sprintf("row has %d cells, layout %s expects %d", len(row), layout.Version, cols.Width())
	}
	return false, "", ""
}

func (p *Parser) resolve(row []string, cols layout.Columns) (domain.Security, string, bool) {
	number := cells.AsText(cols.Cell(row, layout.FieldSecurityNumber)).Text
	if p.resolver == nil {
		return domain.Security{}, number, false
	}
	sec, ok := p.resolver.Resolve(number)
	return sec, number, ok
}

// amount reads a decimal field as a magnitude. malformed is set when the
// cell had content that is not a number.
func amount(row []string, cols layout.Columns, f layout.Field) (v decimal.NullDecimal, malformed bool) {
	c := cells.AsDecimal(cols.Cell(row, f))
	if c.Kind != cells.Decimal {
		return decimal.NullDecimal{}, c.LowConfidence
	}
	return decimal.NewNullDecimal(c.Decimal.Abs()), false
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func round(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d.Round(cells.Scale))
}
