package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/app"
	"github.com/dvloznov/portfolio-tracker/internal/config"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/extract"
	"github.com/dvloznov/portfolio-tracker/internal/gcsuploader"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/pipeline"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	reviewmem "github.com/dvloznov/portfolio-tracker/internal/review/inmemory"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.WithLevel(log, cfg.LogLevel)

	switch os.Args[1] {
	case "ingest":
		runIngest(log, cfg)
	case "extract":
		runExtract(log)
	case "upload":
		runUpload(log, cfg)
	case "review":
		runReview(log, cfg)
	case "holdings":
		runHoldings(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Portfolio Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest    Ingest a broker statement (extraction JSON or PDF, local or gs://)")
	fmt.Println("  extract   Turn a statement PDF into extraction JSON with Gemini")
	fmt.Println("  upload    Upload a statement file to GCS")
	fmt.Println("  review    List, approve, reject or modify staged transactions")
	fmt.Println("  holdings  Show a user's current holdings")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func newApp(ctx context.Context, log zerolog.Logger, cfg *config.Config, opts app.Options) *app.App {
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return a
}

func runIngest(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "", "Local path or gs:// URI of the extraction JSON or PDF")
	userID := fs.String("user", "", "User the statement belongs to")
	statementID := fs.String("statement-id", "", "Statement identity (defaults to the file checksum)")
	asOf := fs.String("as-of", "", "Statement date YYYY-MM-DD (defaults to the date in the statement)")
	dryRun := fs.Bool("dry-run", false, "Parse and print records without writing anything")
	fs.Parse(os.Args[2:])

	if *source == "" || *userID == "" {
		log.Fatal().Msg("Usage: cli ingest -source PATH -user ID [-statement-id ID] [-as-of DATE] [-dry-run]")
	}
	var asOfDate *civil.Date
	if *asOf != "" {
		d, err := civil.ParseDate(*asOf)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -as-of date")
		}
		asOfDate = &d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	isPDF := strings.EqualFold(filepath.Ext(*source), ".pdf")
	a := newApp(ctx, log, cfg, app.Options{Extractor: isPDF})
	defer a.Close()

	ingestor := a.Ingestor
	store := a.Review.Store()
	if *dryRun {
		store = reviewmem.NewStore()
		deps := pipeline.Deps{Fetcher: &gcsuploader.Service{}, Store: store}
		if a.Extractor != nil {
			deps.Extractor = a.Extractor
		}
		ingestor = pipeline.NewIngestor(a.Engine, deps)
	}

	batch, err := ingestor.Ingest(ctx, pipeline.Upload{
		UserID:      *userID,
		SourceURI:   *source,
		StatementID: *statementID,
		AsOfDate:    asOfDate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	txs, err := store.ListByBatch(ctx, batch.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list staged transactions")
	}

	fmt.Printf("Batch:        %s (%s)\n", batch.ID, batch.Status)
	fmt.Printf("Statement:    %s\n", batch.StatementID)
	if batch.AsOfDate != nil {
		fmt.Printf("As of:        %s\n", batch.AsOfDate)
	}
	printJSON("Diagnostics", batch.Diagnostics)
	printTransactions(txs)
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("file", "", "Statement PDF")
	out := fs.String("out", "", "Where to write the extraction JSON (default: stdout)")
	model := fs.String("model", extract.DefaultModelName, "Gemini model")
	fs.Parse(os.Args[2:])

	if *in == "" {
		log.Fatal().Msg("Usage: cli extract -file STATEMENT.pdf [-out OUT.json]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	pdf, err := os.ReadFile(*in)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read PDF")
	}
	ex, err := extract.NewGemini(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	doc, raw, err := ex.Extract(ctx, pdf)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	if *out == "" {
		os.Stdout.Write(raw)
		fmt.Println()
		return
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
	fmt.Printf("Wrote %d pages, %d tables to %s\n", len(doc.Pages), len(doc.Tables()), *out)
}

func runUpload(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.GCSBucket, "GCS bucket name (or set GCS_BUCKET)")
	objectName := fs.String("object", "", "GCS object name (defaults to statements/<user>/<date>/<checksum>-<file>)")
	filePath := fs.String("file", "", "Path to local statement file")
	userID := fs.String("user", "", "User the statement belongs to")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" || (*objectName == "" && *userID == "") {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH (-user ID | -object NAME)")
	}

	ctx := logger.WithContext(context.Background(), log)

	if *objectName == "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read file")
		}
		*objectName = gcsuploader.ObjectName(*userID, filepath.Base(*filePath), statement.Checksum(data), time.Now())
	}

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	svc, err := gcsuploader.NewService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer svc.Close()

	uri, err := svc.UploadFile(ctx, *bucketName, *objectName, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Printf("Uploaded %s to %s\n", *filePath, uri)
}

func runReview(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	action := fs.String("action", "list", "list | approve | reject | modify | bulk-approve")
	id := fs.String("id", "", "Transaction ID (approve, reject, modify)")
	batchID := fs.String("batch", "", "Upload batch ID (list, bulk-approve)")
	userID := fs.String("user", "", "User ID (list)")
	status := fs.String("status", "", "Status filter for list by user")
	reviewer := fs.String("reviewer", os.Getenv("USER"), "Reviewer name")
	overrides := fs.String("overrides", "", `Overrides JSON for modify, e.g. {"quantity":"12"}`)
	fs.Parse(os.Args[2:])

	if !cfg.UsesPostgres() {
		log.Fatal().Msg("review needs DATABASE_URL: the in-memory store starts empty")
	}

	ctx := logger.WithContext(context.Background(), log)
	a := newApp(ctx, log, cfg, app.Options{})
	defer a.Close()

	if err := reviewAction(ctx, a.Review, reviewArgs{
		action:    *action,
		id:        *id,
		batchID:   *batchID,
		userID:    *userID,
		status:    *status,
		reviewer:  *reviewer,
		overrides: *overrides,
	}); err != nil {
		log.Fatal().Err(err).Msg("Review failed")
	}
}

type reviewArgs struct {
	action, id, batchID, userID, status, reviewer, overrides string
}

func reviewAction(ctx context.Context, svc *review.Service, args reviewArgs) error {
	switch args.action {
	case "list":
		var txs []*domain.PendingTransaction
		var err error
		switch {
		case args.batchID != "":
			txs, err = svc.Store().ListByBatch(ctx, args.batchID)
		case args.userID != "":
			txs, err = svc.Store().ListByUser(ctx, args.userID, domain.ReviewStatus(args.status))
		default:
			return fmt.Errorf("list needs -batch or -user")
		}
		if err != nil {
			return err
		}
		printTransactions(txs)
		return nil

	case "approve", "reject", "modify":
		if args.id == "" {
			return fmt.Errorf("%s needs -id", args.action)
		}
		var tx *domain.PendingTransaction
		var err error
		switch args.action {
		case "approve":
			tx, err = svc.Approve(ctx, args.id, args.reviewer)
		case "reject":
			tx, err = svc.Reject(ctx, args.id, args.reviewer)
		default:
			var o domain.Overrides
			if err := json.Unmarshal([]byte(args.overrides), &o); err != nil {
				return fmt.Errorf("parsing -overrides: %w", err)
			}
			tx, err = svc.Modify(ctx, args.id, args.reviewer, o)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", tx.ID, tx.Status)
		return nil

	case "bulk-approve":
		if args.batchID == "" {
			return fmt.Errorf("bulk-approve needs -batch")
		}
		outcomes, err := svc.BulkApprove(ctx, args.batchID, args.reviewer)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tERROR")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.ID, o.Status, o.Error)
		}
		return w.Flush()
	}
	return fmt.Errorf("unknown action %q", args.action)
}

func runHoldings(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("holdings", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli holdings -user ID")
	}
	if !cfg.UsesBigQuery() {
		log.Fatal().Msg("holdings needs GCP_PROJECT: nothing is stored in memory between runs")
	}

	ctx := logger.WithContext(context.Background(), log)
	a := newApp(ctx, log, cfg, app.Options{})
	defer a.Close()

	s, ok, err := a.Holdings.CurrentStatement(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load holdings")
	}
	if !ok {
		fmt.Println("No statements with holdings for this user.")
		return
	}

	fmt.Printf("Statement %s as of %s (batch %s)\n\n", s.StatementID, s.AsOfDate, s.BatchID)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "SECURITY\tSYMBOL\tQUANTITY\tVALUE\t")
	total := decimal.Zero
	for _, h := range s.Holdings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", h.Security.SecurityNumber, h.Security.Symbol,
			h.Quantity.StringFixed(4), h.Value.StringFixed(2))
		total = total.Add(h.Value)
	}
	fmt.Fprintf(w, "\t\t\t%s\t\n", total.StringFixed(2))
	w.Flush()
}

func printJSON(title string, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Printf("%s:\n%s\n", title, b)
}

func printTransactions(txs []*domain.PendingTransaction) {
	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tDATE\tSECURITY\tQTY\tPRICE\tGROSS\tNET\tSTATUS\tFLAGS")
	for _, t := range txs {
		date := ""
		if t.TransactionDate != nil {
			date = t.TransactionDate.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.TransactionType, date, t.Security.SecurityNumber,
			nullString(t.Quantity), nullString(t.Price), nullString(t.GrossAmount), nullString(t.NetAmount),
			t.Status, strings.Join(t.Flags, ","))
	}
	w.Flush()
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
