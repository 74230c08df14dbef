package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Repository is the SQL-backed task store, price catalog and settings
// repository. Queries are written with '?' placeholders and rebound for
// Postgres.
type Repository struct {
	db     *sql.DB
	driver string
}

var (
	_ ports.TaskStore          = (*Repository)(nil)
	_ ports.PriceCatalog       = (*Repository)(nil)
	_ ports.SettingsRepository = (*Repository)(nil)
)

// NewRepository opens an embedded DuckDB database at path ("" for in-memory).
func NewRepository(path string) (*Repository, error) {
	return Open(DriverDuckDB, path)
}

// Open connects to driver ("duckdb" or "postgres") and verifies the connection.
func Open(driver, dsn string) (*Repository, error) {
	switch driver {
	case DriverDuckDB, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &Repository{db: db, driver: driver}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Driver names the SQL dialect in use.
func (r *Repository) Driver() string {
	return r.driver
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inspections (
		id            VARCHAR PRIMARY KEY,
		status        VARCHAR NOT NULL,
		inputs        TEXT NOT NULL,
		report        TEXT,
		error_message TEXT,
		progress      INTEGER NOT NULL DEFAULT 0,
		stage         VARCHAR NOT NULL DEFAULT '',
		attempts      INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		started_at    TIMESTAMP,
		completed_at  TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS device_models (
		brand_key        VARCHAR NOT NULL,
		model_key        VARCHAR NOT NULL,
		storage_key      VARCHAR NOT NULL,
		brand            VARCHAR NOT NULL,
		model            VARCHAR NOT NULL,
		storage_capacity VARCHAR NOT NULL,
		base_price       DOUBLE PRECISION NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at       TIMESTAMP NOT NULL,
		PRIMARY KEY (brand_key, model_key, storage_key)
	)`,
	`CREATE TABLE IF NOT EXISTS pricing_rules (
		id              VARCHAR PRIMARY KEY,
		position        INTEGER NOT NULL,
		target          VARCHAR NOT NULL,
		category        VARCHAR NOT NULL,
		reason          VARCHAR NOT NULL,
		keywords        TEXT NOT NULL,
		deduction_type  VARCHAR NOT NULL,
		deduction_value DOUBLE PRECISION NOT NULL,
		threshold       DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        VARCHAR PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Migrate creates the schema and seeds the pricing rule table when it is
// empty. It is safe to run on every start.
func (r *Repository) Migrate(ctx context.Context, seed []domain.PricingRule) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pricing_rules`).Scan(&n); err != nil {
		return fmt.Errorf("count pricing rules: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, rule := range seed {
		if err := r.SavePricingRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.QueryRowContext(ctx, r.rebind(query), args...)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func marshalText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
