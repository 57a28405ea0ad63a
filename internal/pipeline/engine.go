// Package pipeline runs one statement upload end to end: it loads the
// extraction output, classifies and parses its tables, stages the
// transactions for review and records the holdings snapshot.
package pipeline

import (
	"context"

	"github.com/dvloznov/portfolio-tracker/internal/classifier"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/layout"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/parser"
	"github.com/dvloznov/portfolio-tracker/internal/securities"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
)

// Engine is the pure part of an upload: tables in, records out. It holds
// only read-only configuration and may be shared by concurrent uploads.
type Engine struct {
	cfg        *layout.Config
	classifier *classifier.Classifier
	parser     *parser.Parser
}

// NewEngine builds an engine for one layout family and securities catalog.
func NewEngine(cfg *layout.Config, resolver securities.Resolver, opts ...parser.Option) *Engine {
	return &Engine{
		cfg:        cfg,
		classifier: classifier.New(cfg, resolver),
		parser:     parser.New(cfg, resolver, opts...),
	}
}

// Layout returns the configuration the engine was built with.
func (e *Engine) Layout() *layout.Config {
	return e.cfg
}

// ClassifiedTable pairs a table with the role the classifier gave it.
type ClassifiedTable struct {
	Table  statement.RawTable
	Result classifier.Result
}

// Input is everything Process needs.
type Input struct {
	Batch  parser.Batch
	Tables []statement.RawTable
}

// Result is everything Process produces.
type Result struct {
	Holdings     []domain.Holding
	Transactions []*domain.PendingTransaction
	Tables       []ClassifiedTable
	Diagnostics  *domain.Diagnostics

	// HoldingsTables counts tables classified as HOLDINGS, whether or not
	// any row survived parsing.
	HoldingsTables int
}

// Classify assigns a role to every table. Unclassified tables are recorded
// in diag and dropped from the result.
func (e *Engine) Classify(ctx context.Context, tables []statement.RawTable, diag *domain.Diagnostics) []ClassifiedTable {
	log := logger.FromContext(ctx)

	out := make([]ClassifiedTable, 0, len(tables))
	for _, t := range tables {
		diag.Table()
		res := e.classifier.Classify(t)
		log.Debug().
			Int("page", t.Page).
			Int("table", t.Index).
			Str("role", string(res.Role)).
			Float64("confidence", res.Confidence).
			Float64("holdings_score", res.Holdings.Total).
			Float64("transactions_score", res.Transactions.Total).
			Msg("Classified table")

		if res.Role == classifier.RoleUnclassified {
			diag.SkipTable(domain.SkippedItem{
				Page:   t.Page,
				Table:  t.Index,
				Reason: domain.ReasonClassificationAmbiguous,
				Detail: res.Reason,
			}, t.Rows)
			log.Warn().Int("page", t.Page).Int("table", t.Index).Str("reason", res.Reason).Msg("Skipping unclassified table")
			continue
		}
		out = append(out, ClassifiedTable{Table: t, Result: res})
	}
	return out
}

// Parse turns classified tables into holdings and staged transactions.
func (e *Engine) Parse(b parser.Batch, tables []ClassifiedTable, diag *domain.Diagnostics) Result {
	res := Result{Tables: tables, Diagnostics: diag}
	for _, ct := range tables {
		switch ct.Result.Role {
		case classifier.RoleHoldings:
			res.HoldingsTables++
			res.Holdings = append(res.Holdings, e.parser.ParseHoldings(b, ct.Table, diag)...)
		case classifier.RoleTransactions:
			res.Transactions = append(res.Transactions, e.parser.ParseTransactions(b, ct.Table, diag)...)
		}
	}
	return res
}

// Process classifies and parses in one go. The same input always yields
// the same result.
func (e *Engine) Process(ctx context.Context, in Input) Result {
	diag := domain.NewDiagnostics()
	return e.Parse(in.Batch, e.Classify(ctx, in.Tables, diag), diag)
}
