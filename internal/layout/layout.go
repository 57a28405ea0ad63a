// Package layout holds the versioned description of the supported broker
// statement family: heading phrases, positional column layouts and the
// transaction-type lexicon. A change in the source documents is a data change
// here, never a code change in the parsers.
package layout

import (
	"fmt"
	"strings"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
)

// Version identifies the built-in layout set.
const Version = "v1"

// Field is a semantic column name.
type Field string

// Transactions table fields.
const (
	FieldRemainingQuantity Field = "remaining_quantity"
	FieldExecutionDate     Field = "execution_date"
	FieldCashBalance       Field = "cash_balance"
	FieldTax               Field = "tax"
	FieldCommission        Field = "commission"
	FieldNetAmount         Field = "net_amount"
	FieldExecutionPrice    Field = "execution_price"
	FieldQuantity          Field = "quantity"
	FieldTransactionType   Field = "transaction_type_token"
	FieldSecurityName      Field = "security_name"
	FieldSecurityNumber    Field = "security_number"
	FieldHour              Field = "hour"
	FieldValueDate         Field = "value_date"
)

// Holdings table fields. Quantity, security name and number are shared.
const (
	FieldPortfolioWeight  Field = "portfolio_weight"
	FieldMarketValue      Field = "market_value"
	FieldUnrealizedPnLPct Field = "unrealized_pnl_pct"
	FieldUnrealizedPnL    Field = "unrealized_pnl"
	FieldCostBasis        Field = "cost_basis"
	FieldLastPrice        Field = "last_price"
)

// TransactionsV1 is the column order of a transactions table as it comes out
// of the extractor (right-to-left, first cell is the rightmost column).
var TransactionsV1 = Columns{
	FieldRemainingQuantity,
	FieldExecutionDate,
	FieldCashBalance,
	FieldTax,
	FieldCommission,
	FieldNetAmount,
	FieldExecutionPrice,
	FieldQuantity,
	FieldTransactionType,
	FieldSecurityName,
	FieldSecurityNumber,
	FieldHour,
	FieldValueDate,
}

// HoldingsV1 is the column order of a holdings table.
var HoldingsV1 = Columns{
	FieldPortfolioWeight,
	FieldMarketValue,
	FieldUnrealizedPnLPct,
	FieldUnrealizedPnL,
	FieldCostBasis,
	FieldLastPrice,
	FieldQuantity,
	FieldSecurityName,
	FieldSecurityNumber,
}

// Columns maps cell positions to fields.
type Columns []Field

// Width is the number of cells a row of this layout has.
func (c Columns) Width() int { return len(c) }

// Index returns the position of f, or -1.
func (c Columns) Index(f Field) int {
	for i, x := range c {
		if x == f {
			return i
		}
	}
	return -1
}

// Cell returns the raw cell for f, or "" when the field is not part of the
// layout or the row is too short.
func (c Columns) Cell(row []string, f Field) string {
	i := c.Index(f)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Scoring weights for the table classifier.
type Scoring struct {
	HeadingWeight    float64 `yaml:"heading_weight"`
	ColumnWeight     float64 `yaml:"column_weight"`
	ResolvableWeight float64 `yaml:"resolvable_weight"`
	Threshold        float64 `yaml:"threshold"`
}

// Headings are the phrases that title each table kind.
type Headings struct {
	Holdings     []string `yaml:"holdings"`
	Transactions []string `yaml:"transactions"`
}

// Config is the full description of one statement layout family.
// Use Default or Load to obtain one; it is read-only afterwards.
type Config struct {
	Version      string
	Headings     Headings
	AsOfPhrases  []string
	Transactions Columns
	Holdings     Columns
	Lexicon      map[domain.TransactionType][]string
	Scoring      Scoring

	tokens map[string]domain.TransactionType
}

// Default returns the built-in v1 configuration.
func Default() *Config {
	c := &Config{
		Version: Version,
		Headings: Headings{
			Holdings:     []string{"פירוט אחזקות", "פירוט החזקות"},
			Transactions: []string{"פירוט תנועות"},
		},
		AsOfPhrases:  []string{"נכון לתאריך", "נכון ליום", "לתאריך"},
		Transactions: append(Columns(nil), TransactionsV1...),
		Holdings:     append(Columns(nil), HoldingsV1...),
		Lexicon: map[domain.TransactionType][]string{
			domain.TransactionTypeBuy:      {"קניה", "קנייה", "BUY"},
			domain.TransactionTypeSell:     {"מכירה", "SELL"},
			domain.TransactionTypeDividend: {"דיבידנד", "דיב", "דיב'", "DIVIDEND", "DIV"},
		},
		Scoring: Scoring{
			HeadingWeight:    0.4,
			ColumnWeight:     0.3,
			ResolvableWeight: 0.3,
			Threshold:        0.5,
		},
	}
	c.index()
	return c
}

func (c *Config) index() {
	c.tokens = make(map[string]domain.TransactionType)
	for typ, tokens := range c.Lexicon {
		for _, tok := range tokens {
			c.tokens[normalizeToken(tok)] = typ
		}
	}
}

// LookupType maps a transaction-type cell to its type by exact normalized
// match against the lexicon. A token in visual (reversed) order also matches.
// Unknown tokens are reported as not found, never guessed.
func (c *Config) LookupType(token string) (domain.TransactionType, bool) {
	norm := normalizeToken(token)
	if norm == "" {
		return "", false
	}
	for _, candidate := range []string{norm, reverse(norm)} {
		if c.tokens != nil {
			if typ, ok := c.tokens[candidate]; ok {
				return typ, true
			}
			continue
		}
		for typ, tokens := range c.Lexicon {
			for _, tok := range tokens {
				if normalizeToken(tok) == candidate {
					return typ, true
				}
			}
		}
	}
	return "", false
}

// MatchHeading reports whether text contains one of phrases, either in
// logical order or reversed as some extractors emit right-to-left runs.
func MatchHeading(text string, phrases []string) bool {
	text = cells.Clean(text)
	if text == "" {
		return false
	}
	for _, p := range phrases {
		p = cells.Clean(p)
		if p == "" {
			continue
		}
		if strings.Contains(text, p) || strings.Contains(text, reverse(p)) {
			return true
		}
	}
	return false
}

// Validate checks that the layouts carry every field the parsers read and
// that the lexicon is unambiguous.
func (c *Config) Validate() error {
	required := map[string]struct {
		cols   Columns
		fields []Field
	}{
		"transactions": {c.Transactions, []Field{
			FieldExecutionDate, FieldTax, FieldCommission, FieldNetAmount, FieldExecutionPrice,
			FieldQuantity, FieldTransactionType, FieldSecurityNumber,
		}},
		"holdings": {c.Holdings, []Field{FieldQuantity, FieldMarketValue, FieldSecurityNumber}},
	}
	for name, r := range required {
		seen := make(map[Field]bool)
		for _, f := range r.cols {
			if seen[f] {
				return fmt.Errorf("layout %s: duplicate field %q", name, f)
			}
			seen[f] = true
		}
		for _, f := range r.fields {
			if !seen[f] {
				return fmt.Errorf("layout %s: missing field %q", name, f)
			}
		}
	}
	if len(c.Headings.Holdings) == 0 || len(c.Headings.Transactions) == 0 {
		return fmt.Errorf("layout: heading phrases are required for both table kinds")
	}

	owner := make(map[string]domain.TransactionType)
	for typ, tokens := range c.Lexicon {
		if !typ.Valid() {
			return fmt.Errorf("lexicon: unknown transaction type %q", typ)
		}
		for _, tok := range tokens {
			n := normalizeToken(tok)
			if n == "" {
				return fmt.Errorf("lexicon: empty token for %s", typ)
			}
			if prev, ok := owner[n]; ok && prev != typ {
				return fmt.Errorf("lexicon: token %q maps to both %s and %s", tok, prev, typ)
			}
			owner[n] = typ
		}
	}

	s := c.Scoring
	if s.HeadingWeight < 0 || s.ColumnWeight < 0 || s.ResolvableWeight < 0 {
		return fmt.Errorf("scoring: weights must not be negative")
	}
	if s.Threshold <= 0 || s.Threshold > s.HeadingWeight+s.ColumnWeight+s.ResolvableWeight {
		return fmt.Errorf("scoring: threshold %.2f is unreachable", s.Threshold)
	}
	return nil
}

// normalizeToken folds case and the Hebrew geresh/gershayim marks so that
// "דיב׳" and "דיב'" are the same token.
func normalizeToken(s string) string {
	s = cells.Clean(s)
	s = strings.NewReplacer("׳", "'", "״", `"`, "’", "'").Replace(s)
	return strings.ToUpper(s)
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
