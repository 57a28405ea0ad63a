package cells

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"trims whitespace", "  abc  ", "abc"},
		{"strips bidi marks", "\u200f593038\u200e", "593038"},
		{"strips embedding controls", "\u202b12.5\u202c", "12.5"},
		{"nbsp becomes space", "1\u00a0234", "1 234"},
		{"collapses runs of whitespace", "בנק   הפועלים\t", "בנק הפועלים"},
		{"arabic-indic digits", "١٢٣٫٤", "123.4"},
		{"extended arabic-indic digits", "۴۵۶", "456"},
		{"full-width digits", "１２３", "123"},
		{"drops control characters", "12\x0034", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.raw))
		})
	}
}

func TestAsDecimal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "38.03", "38.03"},
		{"thousands separators", "1,234,567.891", "1234567.891"},
		{"leading minus", "-12.5", "-12.5"},
		{"trailing minus", "12.5-", "-12.5"},
		{"parentheses", "(12.5)", "-12.5"},
		{"shekel sign", "₪ 662.27", "662.27"},
		{"dollar sign", "$10", "10"},
		{"percent", "4.15%", "4.15"},
		{"rounds to four places", "1.234567", "1.2346"},
		{"non-latin digits", "٢٤٫٠٠", "24"},
		{"leading dot", ".5", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := AsDecimal(tt.raw)
			require.Equal(t, Decimal, v.Kind)
			assert.False(t, v.LowConfidence)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(v.Decimal), "got %s", v.Decimal)
		})
	}
}

func TestAsDecimal_EmptyAndMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "-", "--", "—", "\u200f-\u200f"} {
		v := AsDecimal(raw)
		assert.Equal(t, Empty, v.Kind, "raw %q", raw)
		assert.False(t, v.LowConfidence, "placeholder %q is not malformed", raw)
		assert.False(t, v.NullDecimal().Valid)
	}

	for _, raw := range []string{"abc", "12..5", "1-2", "12a"} {
		v := AsDecimal(raw)
		assert.Equal(t, Empty, v.Kind, "raw %q", raw)
		assert.True(t, v.LowConfidence, "raw %q should be low confidence", raw)
		assert.Equal(t, Clean(raw), v.Text)
	}
}

func TestAsDate(t *testing.T) {
	tests := []struct {
		raw  string
		want civil.Date
	}{
		{"29/05/25", civil.Date{Year: 2025, Month: time.May, Day: 29}},
		{"29/05/2025", civil.Date{Year: 2025, Month: time.May, Day: 29}},
		{"1.2.24", civil.Date{Year: 2024, Month: time.February, Day: 1}},
		{"31-12-2023", civil.Date{Year: 2023, Month: time.December, Day: 31}},
		{"\u200e29/05/25\u200e", civil.Date{Year: 2025, Month: time.May, Day: 29}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := AsDate(tt.raw)
			require.Equal(t, Date, v.Kind)
			assert.Equal(t, tt.want, v.Date)
			require.NotNil(t, v.OptionalDate())
			assert.Equal(t, tt.want, *v.OptionalDate())
		})
	}
}

func TestAsDate_Invalid(t *testing.T) {
	for _, raw := range []string{"31/02/25", "13/13/2025", "2025-05-29", "yesterday"} {
		v := AsDate(raw)
		assert.Equal(t, Empty, v.Kind, "raw %q", raw)
		assert.True(t, v.LowConfidence, "raw %q", raw)
		assert.Nil(t, v.OptionalDate())
	}
	assert.False(t, AsDate("").LowConfidence)
}

func TestAsText_KeepsLeadingZeros(t *testing.T) {
	v := AsText(" 0593038 ")
	assert.Equal(t, Text, v.Kind)
	assert.Equal(t, "0593038", v.Text)
	assert.Equal(t, Empty, AsText("-").Kind)
}

func TestNormalize_InfersKind(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
	}{
		{"", Empty},
		{"-", Empty},
		{"29/05/25", Date},
		{"1,200.50", Decimal},
		{"12.5-", Decimal},
		{"דיבידנד", Text},
		{"10:35", Text},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := Normalize(tt.raw)
			assert.Equal(t, tt.kind, v.Kind)
			assert.False(t, v.LowConfidence)
		})
	}
}

func TestNormalize_NeverPanics(t *testing.T) {
	inputs := []string{"(", ")", "()", "-(-)-", "\x00", "₪", "%", "//", "١/١/١", string([]byte{0xff, 0xfe})}
	for _, raw := range inputs {
		assert.NotPanics(t, func() {
			Normalize(raw)
			AsDecimal(raw)
			AsDate(raw)
		}, "raw %q", raw)
	}
}
