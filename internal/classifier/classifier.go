// Package classifier decides what an extracted table is by weighing
// independent pieces of evidence instead of matching a fixed template.
package classifier

import (
	"fmt"
	"strings"

	"github.com/dvloznov/portfolio-tracker/internal/cells"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/securities"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// Role is what a table holds.
type Role string

const (
	RoleHoldings     Role = "HOLDINGS"
	RoleTransactions Role = "TRANSACTIONS"
	RoleUnclassified Role = "UNCLASSIFIED"
)

// Score is the evidence collected for one candidate role.
type Score struct {
	Heading    float64 `json:"heading"`
	Columns    float64 `json:"columns"`
	Resolvable float64 `json:"resolvable"`
	Total      float64 `json:"total"`

	ExactWidth     bool `json:"exact_width"`
	ResolvedRows   int  `json:"resolved_rows"`
	ConsideredRows int  `json:"considered_rows"`
}

// Result is the classification of one table.
type Result struct {
	Role         Role    `json:"role"`
	Confidence   float64 `json:"confidence"`
	Width        int     `json:"width"` // modal width of non-blank rows
	Holdings     Score   `json:"holdings"`
	Transactions Score   `json:"transactions"`
	Reason       string  `json:"reason,omitempty"`
}

// Classifier scores tables against the configured layouts.
type Classifier struct {
	cfg      *layout.Config
	resolver securities.Resolver
}

// New returns a Classifier. The resolver is only read.
func New(cfg *layout.Config, resolver securities.Resolver) *Classifier {
	return &Classifier{cfg: cfg, resolver: resolver}
}

// Classify assigns a role to t. A table with no resolvable security number
// under either layout is always UNCLASSIFIED.
func (c *Classifier) Classify(t statement.RawTable) Result {
	rows := nonBlankRows(t.Rows)
	res := Result{Role: RoleUnclassified, Width: modalWidth(rows)}
	if len(rows) == 0 {
		res.Reason = "table has no non-blank rows"
		return res
	}

	text := tableText(t)
	res.Holdings = c.score(rows, res.Width, text, c.cfg.Holdings, c.cfg.Headings.Holdings)
	res.Transactions = c.score(rows, res.Width, text, c.cfg.Transactions, c.cfg.Headings.Transactions)

	if res.Holdings.ResolvedRows == 0 && res.Transactions.ResolvedRows == 0 {
		res.Reason = "no row has a resolvable security number"
		return res
	}

	threshold := c.cfg.Scoring.Threshold
	holdingsOK := res.Holdings.ResolvedRows > 0 && res.Holdings.Total >= threshold
	transactionsOK := res.Transactions.ResolvedRows > 0 && res.Transactions.Total >= threshold

	switch {
	case holdingsOK && transactionsOK:
		// exact width wins, otherwise the richer layout
		if res.Holdings.ExactWidth && !res.Transactions.ExactWidth {
			res.Role, res.Confidence = RoleHoldings, res.Holdings.Total
		} else {
			res.Role, res.Confidence = RoleTransactions, res.Transactions.Total
		}
		res.Reason = "both layouts above threshold"
	case transactionsOK:
		res.Role, res.Confidence = RoleTransactions, res.Transactions.Total
	case holdingsOK:
		res.Role, res.Confidence = RoleHoldings, res.Holdings.Total
	default:
		res.Reason = fmt.Sprintf("best score %.2f below threshold %.2f",
			max(res.Holdings.Total, res.Transactions.Total), threshold)
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res
}

func (c *Classifier) score(rows [][]string, width int, text string, cols layout.Columns, headings []string) Score {
	w := c.cfg.Scoring
	var s Score

	if layout.MatchHeading(text, headings) {
		s.Heading = w.HeadingWeight
	}

	switch diff := width - cols.Width(); {
	case diff == 0:
		s.Columns = w.ColumnWeight
		s.ExactWidth = true
	case diff == 1 || diff == -1:
		s.Columns = w.ColumnWeight / 2
	}

	s.ConsideredRows = len(rows)
	for _, row := range rows {
		if c.resolver == nil {
			break
		}
		if _, ok := c.resolver.Resolve(cols.Cell(row, layout.FieldSecurityNumber)); ok {
			s.ResolvedRows++
		}
	}
	if s.ConsideredRows > 0 {
		s.Resolvable = w.ResolvableWeight * float64(s.ResolvedRows) / float64(s.ConsideredRows)
	}

	s.Total = s.Heading + s.Columns + s.Resolvable
	return s
}

// IsBlank reports whether every cell of row is empty after cleaning.
func IsBlank(row []string) bool {
	for _, cell := range row {
		if !cells.IsPlaceholder(cells.Clean(cell)) {
			return false
		}
	}
	return true
}

func nonBlankRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		if !IsBlank(r) {
			out = append(out, r)
		}
	}
	return out
}

// modalWidth is the most common row width; ties go to the wider one.
func modalWidth(rows [][]string) int {
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for _, r := range rows {
		counts[len(r)]++
	}
	for width, n := range counts {
		if n > bestCount || (n == bestCount && width > best) {
			best, bestCount = width, n
		}
	}
	return best
}

// tableText is the page text plus the first rows of the table, where
// headings appear.
func tableText(t statement.RawTable) string {
	var b strings.Builder
	b.WriteString(t.PageText)
	for i, r := range t.Rows {
		if i == 3 {
			break
		}
		b.WriteByte(' ')
		b.WriteString(statement.Text(r))
	}
	return b.String()
}
