// Package config reads process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds the settings shared by the commands.
type Config struct {
	GCPProject string
	BQDataset  string
	GCSBucket  string

	DatabaseURL string

	LayoutFile     string
	SecuritiesFile string

	DefaultCurrency    string
	ReconcileTolerance decimal.Decimal

	GeminiModel string

	Port     string
	Workers  int
	LogLevel string
}

// Defaults used when a variable is not set.
const (
	DefaultDataset  = "portfolio"
	DefaultCurrency = "ILS"
	DefaultPort     = "8080"
	DefaultWorkers  = 2
)

// DefaultTolerance is the reconciliation tolerance in currency units.
var DefaultTolerance = decimal.New(1, -2)

// Load reads envFiles (missing files are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from any variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		GCPProject:      get("GCP_PROJECT", ""),
		BQDataset:       get("BQ_DATASET", DefaultDataset),
		GCSBucket:       get("GCS_BUCKET", ""),
		DatabaseURL:     get("DATABASE_URL", ""),
		LayoutFile:      get("LAYOUT_FILE", ""),
		SecuritiesFile:  get("SECURITIES_FILE", ""),
		DefaultCurrency: strings.ToUpper(get("DEFAULT_CURRENCY", DefaultCurrency)),
		GeminiModel:     get("GEMINI_MODEL", ""),
		Port:            get("PORT", DefaultPort),
		LogLevel:        get("LOG_LEVEL", "info"),
	}

	tol, err := decimal.NewFromString(get("RECONCILE_TOLERANCE", DefaultTolerance.String()))
	if err != nil {
		return nil, fmt.Errorf("config: RECONCILE_TOLERANCE: %w", err)
	}
	if tol.IsNegative() {
		return nil, fmt.Errorf("config: RECONCILE_TOLERANCE must not be negative, got %s", tol)
	}
	cfg.ReconcileTolerance = tol

	workers, err := strconv.Atoi(get("WORKERS", strconv.Itoa(DefaultWorkers)))
	if err != nil {
		return nil, fmt.Errorf("config: WORKERS: %w", err)
	}
	if workers < 1 {
		return nil, fmt.Errorf("config: WORKERS must be at least 1, got %d", workers)
	}
	cfg.Workers = workers

	return cfg, nil
}

// UsesBigQuery reports whether a GCP project is configured for the
// BigQuery repositories.
func (c *Config) UsesBigQuery() bool {
	return c.GCPProject != ""
}

// UsesPostgres reports whether the review store should be durable.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}
