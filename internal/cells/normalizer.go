// Package cells coerces raw extraction cells into typed values.
//
// Nothing in this package returns an error: a cell that cannot be read comes
// back Empty with LowConfidence set, so one bad cell never aborts a row.
package cells

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Scale is the number of fractional digits kept for every decimal cell.
const Scale = 4

// Kind is the inferred type of a cell.
type Kind int

const (
	Empty Kind = iota
	Decimal
	Date
	Text
)

func (k Kind) String() string {
	switch k {
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	case Text:
		return "text"
	}
	return "empty"
}

// Value is a normalized cell.
type Value struct {
	Kind    Kind
	Decimal decimal.Decimal
	Date    civil.Date
	Text    string // cleaned source text, kept for every kind

	// LowConfidence marks a cell that had content but could not be coerced.
	LowConfidence bool
}

// NullDecimal returns the decimal, or an invalid NullDecimal for any other kind.
func (v Value) NullDecimal() decimal.NullDecimal {
	if v.Kind != Decimal {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v.Decimal)
}

// OptionalDate returns a pointer to the date, or nil for any other kind.
func (v Value) OptionalDate() *civil.Date {
	if v.Kind != Date {
		return nil
	}
	d := v.Date
	return &d
}

var placeholders = map[string]struct{}{
	"":   {},
	"-":  {},
	"--": {},
	"—":  {},
	"–":  {},
}

var (
	datePattern   = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2}|\d{4})$`)
	numberPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
)

// Clean strips directional marks, zero-width and control characters, folds
// compatibility glyphs (full-width digits, NBSP), maps Arabic-Indic digits to
// ASCII and collapses whitespace.
func Clean(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 0x0660 && r <= 0x0669:
			return '0' + (r - 0x0660)
		case r >= 0x06F0 && r <= 0x06F9:
			return '0' + (r - 0x06F0)
		case r == 0x066B: // Arabic decimal separator
			return '.'
		case r == 0x066C: // Arabic thousands separator
			return ','
		case r == 0x200E, r == 0x200F, r == 0x061C, r == 0x200B, r == 0xFEFF,
			r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
			return -1
		case r == 0x00A0, r == 0x202F, r == '\t', r == '\n', r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// IsPlaceholder reports whether the cleaned text stands for "no value".
func IsPlaceholder(cleaned string) bool {
	_, ok := placeholders[cleaned]
	return ok
}

// Normalize infers the cell's kind: a date pattern first, then a number,
// otherwise text.
func Normalize(raw string) Value {
	s := Clean(raw)
	if IsPlaceholder(s) {
		return Value{Kind: Empty, Text: s}
	}
	if d, ok := parseDate(s); ok {
		return Value{Kind: Date, Date: d, Text: s}
	}
	if n, ok := parseDecimal(s); ok {
		return Value{Kind: Decimal, Decimal: n, Text: s}
	}
	return Value{Kind: Text, Text: s}
}

// AsDecimal coerces a cell that must hold a number.
func AsDecimal(raw string) Value {
	s := Clean(raw)
	if IsPlaceholder(s) {
		return Value{Kind: Empty, Text: s}
	}
	if n, ok := parseDecimal(s); ok {
		return Value{Kind: Decimal, Decimal: n, Text: s}
	}
	return Value{Kind: Empty, Text: s, LowConfidence: true}
}

// AsDate coerces a cell that must hold a DD/MM/YY or DD/MM/YYYY date.
func AsDate(raw string) Value {
	s := Clean(raw)
	if IsPlaceholder(s) {
		return Value{Kind: Empty, Text: s}
	}
	if d, ok := parseDate(s); ok {
		return Value{Kind: Date, Date: d, Text: s}
	}
	return Value{Kind: Empty, Text: s, LowConfidence: true}
}

// AsText keeps the cell as text. Identifiers such as security numbers go
// through here so leading zeros survive.
func AsText(raw string) Value {
	s := Clean(raw)
	if IsPlaceholder(s) {
		return Value{Kind: Empty, Text: s}
	}
	return Value{Kind: Text, Text: s}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	neg := false
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '₪', '$', '€', '%', ',', ' ':
			return -1
		}
		return r
	}, s)
	switch {
	case strings.HasSuffix(s, "-"):
		// trailing minus, common in right-to-left exports
		neg = !neg
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !numberPattern.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if neg {
		d = d.Neg()
	}
	return d.Round(Scale), true
}

func parseDate(s string) (civil.Date, bool) {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return civil.Date{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}
