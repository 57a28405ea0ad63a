package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// columns lists pending_transactions in the order used by args and scan.
const columns = `
	id, user_id, upload_batch_id,
	security_number, symbol, company_name, index_name,
	transaction_type, transaction_date, value_date, execution_hour,
	quantity::text, price::text, gross_amount::text, net_amount::text,
	commission::text, tax::text, remaining_quantity::text, cash_balance::text, currency,
	status, flags, requires_review, overrides,
	raw_row, source_page, source_table, source_row,
	created_at, reviewed_at, reviewed_by`

const upsertSQL = `
	INSERT INTO pending_transactions (
		id, user_id, upload_batch_id,
		security_number, symbol, company_name, index_name,
		transaction_type, transaction_date, value_date, execution_hour,
		quantity, price, gross_amount, net_amount,
		commission, tax, remaining_quantity, cash_balance, currency,
		status, flags, requires_review, overrides,
		raw_row, source_page, source_table, source_row,
		created_at, reviewed_at, reviewed_by
	) VALUES (
		$1, $2, $3,
		$4, $5, $6, $7,
		$8, $9, $10, $11,
		$12::numeric, $13::numeric, $14::numeric, $15::numeric,
		$16::numeric, $17::numeric, $18::numeric, $19::numeric, $20,
		$21, $22, $23, $24,
		$25, $26, $27, $28,
		$29, $30, $31
	)
	ON CONFLICT (id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		upload_batch_id = EXCLUDED.upload_batch_id,
		security_number = EXCLUDED.security_number,
		symbol = EXCLUDED.symbol,
		company_name = EXCLUDED.company_name,
		index_name = EXCLUDED.index_name,
		transaction_type = EXCLUDED.transaction_type,
		transaction_date = EXCLUDED.transaction_date,
		value_date = EXCLUDED.value_date,
		execution_hour = EXCLUDED.execution_hour,
		quantity = EXCLUDED.quantity,
		price = EXCLUDED.price,
		gross_amount = EXCLUDED.gross_amount,
		net_amount = EXCLUDED.net_amount,
		commission = EXCLUDED.commission,
		tax = EXCLUDED.tax,
		remaining_quantity = EXCLUDED.remaining_quantity,
		cash_balance = EXCLUDED.cash_balance,
		currency = EXCLUDED.currency,
		status = EXCLUDED.status,
		flags = EXCLUDED.flags,
		requires_review = EXCLUDED.requires_review,
		overrides = EXCLUDED.overrides,
		raw_row = EXCLUDED.raw_row,
		source_page = EXCLUDED.source_page,
		source_table = EXCLUDED.source_table,
		source_row = EXCLUDED.source_row,
		created_at = EXCLUDED.created_at,
		reviewed_at = EXCLUDED.reviewed_at,
		reviewed_by = EXCLUDED.reviewed_by`

// transactionRow is the storage shape of a pending transaction. Numerics
// travel as text so no precision is lost between decimal and NUMERIC.
type transactionRow struct {
	ID            string
	UserID        string
	UploadBatchID string

	SecurityNumber string
	Symbol         string
	CompanyName    string
	IndexName      string

	TransactionType string
	TransactionDate *time.Time
	ValueDate       *time.Time
	ExecutionHour   string

	Quantity          *string
	Price             *string
	GrossAmount       *string
	NetAmount         *string
	Commission        *string
	Tax               *string
	RemainingQuantity *string
	CashBalance       *string
	Currency          string

	Status         string
	Flags          []string
	RequiresReview bool
	Overrides      []byte

	RawRow      []string
	SourcePage  int32
	SourceTable int32
	SourceRow   int32

	CreatedAt  time.Time
	ReviewedAt *time.Time
	ReviewedBy string
}

func toRow(tx *domain.PendingTransaction) (*transactionRow, error) {
	var overrides []byte
	if tx.Overrides != nil {
		b, err := json.Marshal(tx.Overrides)
		if err != nil {
			return nil, fmt.Errorf("encoding overrides of %s: %w", tx.ID, err)
		}
		overrides = b
	}
	return &transactionRow{
		ID:                tx.ID,
		UserID:            tx.UserID,
		UploadBatchID:     tx.UploadBatchID,
		SecurityNumber:    tx.Security.SecurityNumber,
		Symbol:            tx.Security.Symbol,
		CompanyName:       tx.Security.CompanyName,
		IndexName:         tx.Security.IndexName,
		TransactionType:   string(tx.TransactionType),
		TransactionDate:   dateToTime(tx.TransactionDate),
		ValueDate:         dateToTime(tx.ValueDate),
		ExecutionHour:     tx.ExecutionHour,
		Quantity:          numericText(tx.Quantity),
		Price:             numericText(tx.Price),
		GrossAmount:       numericText(tx.GrossAmount),
		NetAmount:         numericText(tx.NetAmount),
		Commission:        numericText(tx.Commission),
		Tax:               numericText(tx.Tax),
		RemainingQuantity: numericText(tx.RemainingQuantity),
		CashBalance:       numericText(tx.CashBalance),
		Currency:          tx.Currency,
		Status:            string(tx.Status),
		Flags:             nonNil(tx.Flags),
		RequiresReview:    tx.RequiresReview,
		Overrides:         overrides,
		RawRow:            nonNil(tx.RawRow),
		SourcePage:        int32(tx.Source.Page),
		SourceTable:       int32(tx.Source.Table),
		SourceRow:         int32(tx.Source.Row),
		CreatedAt:         tx.CreatedAt,
		ReviewedAt:        tx.ReviewedAt,
		ReviewedBy:        tx.ReviewedBy,
	}, nil
}

func (r *transactionRow) args() []any {
	return []any{
		r.ID, r.UserID, r.UploadBatchID,
		r.SecurityNumber, r.Symbol, r.CompanyName, r.IndexName,
		r.TransactionType, r.TransactionDate, r.ValueDate, r.ExecutionHour,
		r.Quantity, r.Price, r.GrossAmount, r.NetAmount,
		r.Commission, r.Tax, r.RemainingQuantity, r.CashBalance, r.Currency,
		r.Status, r.Flags, r.RequiresReview, r.Overrides,
		r.RawRow, r.SourcePage, r.SourceTable, r.SourceRow,
		r.CreatedAt, r.ReviewedAt, r.ReviewedBy,
	}
}

func (r *transactionRow) scan(row pgx.Row) error {
	return row.Scan(
		&r.ID, &r.UserID, &r.UploadBatchID,
		&r.SecurityNumber, &r.Symbol, &r.CompanyName, &r.IndexName,
		&r.TransactionType, &r.TransactionDate, &r.ValueDate, &r.ExecutionHour,
		&r.Quantity, &r.Price, &r.GrossAmount, &r.NetAmount,
		&r.Commission, &r.Tax, &r.RemainingQuantity, &r.CashBalance, &r.Currency,
		&r.Status, &r.Flags, &r.RequiresReview, &r.Overrides,
		&r.RawRow, &r.SourcePage, &r.SourceTable, &r.SourceRow,
		&r.CreatedAt, &r.ReviewedAt, &r.ReviewedBy,
	)
}

func fromRow(r *transactionRow) (*domain.PendingTransaction, error) {
	tx := &domain.PendingTransaction{
		ID:            r.ID,
		UserID:        r.UserID,
		UploadBatchID: r.UploadBatchID,
		Security: domain.Security{
			SecurityNumber: r.SecurityNumber,
			Symbol:         r.Symbol,
			CompanyName:    r.CompanyName,
			IndexName:      r.IndexName,
		},
		TransactionType: domain.TransactionType(r.TransactionType),
		TransactionDate: timeToDate(r.TransactionDate),
		ValueDate:       timeToDate(r.ValueDate),
		ExecutionHour:   r.ExecutionHour,
		Currency:        r.Currency,
		Status:          domain.ReviewStatus(r.Status),
		RequiresReview:  r.RequiresReview,
		RawRow:          r.RawRow,
		Source: domain.SourceRef{
			Page:  int(r.SourcePage),
			Table: int(r.SourceTable),
			Row:   int(r.SourceRow),
		},
		CreatedAt:  r.CreatedAt,
		ReviewedAt: r.ReviewedAt,
		ReviewedBy: r.ReviewedBy,
	}
	if len(r.Flags) > 0 {
		tx.Flags = r.Flags
	}

	numerics := []struct {
		src *string
		dst *decimal.NullDecimal
	}{
		{r.Quantity, &tx.Quantity},
		{r.Price, &tx.Price},
		{r.GrossAmount, &tx.GrossAmount},
		{r.NetAmount, &tx.NetAmount},
		{r.Commission, &tx.Commission},
		{r.Tax, &tx.Tax},
		{r.RemainingQuantity, &tx.RemainingQuantity},
		{r.CashBalance, &tx.CashBalance},
	}
	for _, n := range numerics {
		d, err := parseNumeric(n.src)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.ID, err)
		}
		*n.dst = d
	}

	if len(r.Overrides) > 0 {
		var o domain.Overrides
		if err := json.Unmarshal(r.Overrides, &o); err != nil {
			return nil, fmt.Errorf("decoding overrides of %s: %w", r.ID, err)
		}
		tx.Overrides = &o
	}
	return tx, nil
}

func numericText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNumeric(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func dateToTime(d *civil.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.In(time.UTC)
	return &t
}

func timeToDate(t *time.Time) *civil.Date {
	if t == nil {
		return nil
	}
	d := civil.DateOf(*t)
	return &d
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
