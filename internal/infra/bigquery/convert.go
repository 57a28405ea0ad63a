package bigquery

import (
	"math/big"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// numeric converts a decimal to a BigQuery NUMERIC value.
func numeric(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

// nullNumeric maps an invalid NullDecimal to NULL.
func nullNumeric(d decimal.NullDecimal) *big.Rat {
	if !d.Valid {
		return nil
	}
	return d.Decimal.Rat()
}

// fromNumeric converts a NUMERIC value back; NULL becomes zero.
func fromNumeric(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(r, 9)
}

func fromNullNumeric(r *big.Rat) decimal.NullDecimal {
	if r == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(fromNumeric(r))
}

func nullDate(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func fromNullDate(d bigquery.NullDate) *civil.Date {
	if !d.Valid {
		return nil
	}
	out := d.Date
	return &out
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
