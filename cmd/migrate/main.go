package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/portfolio-tracker/internal/config"
	"github.com/dvloznov/portfolio-tracker/internal/infra/postgres"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		projectID     = flag.String("project", cfg.GCPProject, "GCP project ID (or set GCP_PROJECT)")
		datasetID     = flag.String("dataset", cfg.BQDataset, "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
		databaseURL   = flag.String("database-url", cfg.DatabaseURL, "Postgres URL for the review store (or set DATABASE_URL)")
		dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.WithLevel(logger.New(), cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	if *projectID == "" && *databaseURL == "" {
		log.Fatal().Msg("Nothing to migrate: set -project for BigQuery and/or -database-url for Postgres")
	}

	if *databaseURL != "" {
		if err := migratePostgres(ctx, *databaseURL, *dryRun); err != nil {
			log.Fatal().Err(err).Msg("Postgres migration failed")
		}
	}

	if *projectID != "" {
		m := &bqMigrator{
			project:   *projectID,
			dataset:   *datasetID,
			appliedBy: *appliedBy,
			log:       log,
		}
		if err := m.run(ctx, *migrationsDir, *dryRun); err != nil {
			log.Fatal().Err(err).Msg("BigQuery migration failed")
		}
	}
}

func migratePostgres(ctx context.Context, databaseURL string, dryRun bool) error {
	log := logger.FromContext(ctx)
	if dryRun {
		log.Info().Int("bytes", len(postgres.Schema())).Msg("Would apply Postgres review schema")
		return nil
	}
	pool, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info().Msg("Postgres review schema is up to date")
	return nil
}

type bqMigrator struct {
	project   string
	dataset   string
	appliedBy string
	log       zerolog.Logger
}

func (m *bqMigrator) run(ctx context.Context, dir string, dryRun bool) error {
	migrations, err := readMigrations(resolveDir(dir), m.project, m.dataset)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	m.log.Info().Int("count", len(migrations)).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, m.project)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	m.log.Info().Str("project", m.project).Str("dataset", m.dataset).Msg("Connected to BigQuery")

	if err := m.exec(ctx, client, m.schemaMigrationsDDL(client)); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	applied, err := m.applied(ctx, client)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	pending := pendingMigrations(migrations, applied, func(mig Migration, am AppliedMigration) {
		m.log.Warn().
			Int("version", mig.Version).
			Str("name", mig.Name).
			Msg("Applied migration file has changed since it was applied")
	})

	for _, mig := range pending {
		label := fmt.Sprintf("%04d_%s", mig.Version, mig.Name)
		if dryRun {
			m.log.Info().Str("migration", label).Msg("Pending")
			continue
		}
		m.log.Info().Str("migration", label).Msg("Applying")
		if err := m.exec(ctx, client, client.Query(mig.SQL)); err != nil {
			return fmt.Errorf("executing %s: %w", label, err)
		}
		if err := m.record(ctx, client, mig); err != nil {
			return fmt.Errorf("recording %s: %w", label, err)
		}
	}

	if len(pending) == 0 {
		m.log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	} else if !dryRun {
		m.log.Info().Int("applied", len(pending)).Msg("Migrations applied")
	}
	return nil
}

func (m *bqMigrator) table(name string) string {
	return "`" + m.project + "." + m.dataset + "." + name + "`"
}

func (m *bqMigrator) schemaMigrationsDDL(client *bigquery.Client) *bigquery.Query {
	return client.Query(`
		CREATE TABLE IF NOT EXISTS ` + m.table("schema_migrations") + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`)
}

// exec runs q and waits for it.
func (m *bqMigrator) exec(ctx context.Context, client *bigquery.Client, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// applied retrieves the list of already applied migrations.
func (m *bqMigrator) applied(ctx context.Context, client *bigquery.Client) ([]AppliedMigration, error) {
	it, err := client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + m.table("schema_migrations") + `
		ORDER BY version ASC
	`).Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, err
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// record stores a successfully applied migration in schema_migrations.
func (m *bqMigrator) record(ctx context.Context, client *bigquery.Client, mig Migration) error {
	q := client.Query(`
		INSERT INTO ` + m.table("schema_migrations") + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	return m.exec(ctx, client, q)
}

// resolveDir also looks two levels up, for runs from inside cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if alt := filepath.Join("..", "..", dir); dirExists(alt) {
			return alt
		}
	}
	return dir
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

// parseFilename splits 0001_name.sql into its version and name.
func parseFilename(name string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// readMigrations reads every migration file in dir, sorted by version. The
// checksum is taken before placeholders are replaced, so the same file has
// the same checksum in every project.
func readMigrations(dir, projectID, datasetID string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		version, name, ok := parseFilename(file.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pendingMigrations returns the migrations not yet applied. changed is called
// for applied migrations whose file no longer matches the recorded checksum.
func pendingMigrations(all []Migration, applied []AppliedMigration, changed func(Migration, AppliedMigration)) []Migration {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}
	var pending []Migration
	for _, mig := range all {
		am, ok := byVersion[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if am.Checksum != "" && am.Checksum != mig.Checksum && changed != nil {
			changed(mig, am)
		}
	}
	return pending
}
