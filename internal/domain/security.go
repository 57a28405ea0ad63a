package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Security is an entry of the read-only reference catalog.
type Security struct {
	SecurityNumber string `json:"security_number"` // exchange-assigned number, unique
	Symbol         string `json:"symbol"`
	CompanyName    string `json:"company_name"`
	IndexName      string `json:"index_name,omitempty"`
}

// Holding is a point-in-time position taken from a statement's holdings table.
type Holding struct {
	UserID            string              `json:"user_id"`
	Security          Security            `json:"security"`
	Quantity          decimal.Decimal     `json:"quantity"`
	Value             decimal.Decimal     `json:"value"`
	LastPrice         decimal.NullDecimal `json:"last_price"`
	CostBasis         decimal.NullDecimal `json:"cost_basis"`
	AsOfDate          civil.Date          `json:"as_of_date"`
	SourceStatementID string              `json:"source_statement_id"`
	Source            SourceRef           `json:"source"`
}

// BatchStatus tracks an upload batch through processing.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusStaged     BatchStatus = "STAGED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// UploadBatch groups every record extracted from one statement upload.
type UploadBatch struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	StatementID   string       `json:"statement_id"`
	SourceURI     string       `json:"source_uri,omitempty"`
	AsOfDate      *civil.Date  `json:"as_of_date,omitempty"`
	UploadedAt    time.Time    `json:"uploaded_at"`
	LayoutVersion string       `json:"layout_version"`
	Status        BatchStatus  `json:"status"`
	Diagnostics   *Diagnostics `json:"diagnostics,omitempty"`
	Error         string       `json:"error,omitempty"`
}
