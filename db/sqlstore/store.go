// Package sqlstore provides database/sql implementations of the price
// store for PostgreSQL and SQLite. Schemas are managed by embedded goose
// migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

//go:embed migrations
var migrations embed.FS

// Dialect selects SQL flavour, driver and migration set.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store implements pricing.PriceStore on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies all pending migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	var gd goose.Dialect
	switch s.dialect {
	case DialectPostgres:
		gd = goose.DialectPostgres
	case DialectSQLite:
		gd = goose.DialectSQLite3
	default:
		return 0, fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	fsys, err := fs.Sub(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(gd, s.db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("failed to apply migrations: %w", err)
	}
	return len(results), nil
}

// =============================================================================
// PRICE OPERATIONS
// =============================================================================

const columns = `item_name, item_code, keywords, unit, unit_price, source,
	specification, reference_url, confidence, official, updated_at`

const upsertQuery = `
	INSERT INTO material_prices (item_key, ` + columns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (item_key, source, unit) DO UPDATE SET
		item_name     = excluded.item_name,
		item_code     = excluded.item_code,
		keywords      = excluded.keywords,
		unit_price    = excluded.unit_price,
		specification = excluded.specification,
		reference_url = excluded.reference_url,
		confidence    = excluded.confidence,
		official      = excluded.official,
		updated_at    = excluded.updated_at
`

// FindExact returns the freshest official-first record for name in unit,
// matching the name case-insensitively. It returns nil when none exists.
func (s *Store) FindExact(ctx context.Context, name string, unit units.Unit) (*api.PriceRecord, error) {
	query := s.rebind(`
		SELECT ` + columns + `
		FROM material_prices
		WHERE item_key = ? AND unit = ?
		ORDER BY official DESC, updated_at DESC
		LIMIT 1
	`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, api.ItemKey(name), string(unit)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find price: %w", err)
	}
	return rec, nil
}

// Upsert inserts rec or replaces the row with the same item, source and
// unit. Repeating it is a no-op.
func (s *Store) Upsert(ctx context.Context, rec api.PriceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertQuery), s.args(rec)...); err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// BulkUpsert writes recs in one transaction.
func (s *Store) BulkUpsert(ctx context.Context, recs []api.PriceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertQuery))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, s.args(rec)...); err != nil {
			return fmt.Errorf("failed to upsert record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// List returns every stored record ordered by name, unit and source.
func (s *Store) List(ctx context.Context) ([]api.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM material_prices ORDER BY item_key, unit, source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	var out []api.PriceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM material_prices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count prices: %w", err)
	}
	return n, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) args(rec api.PriceRecord) []any {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	var ts any = updated.UTC()
	if s.dialect == DialectSQLite {
		ts = updated.UTC().Format(time.RFC3339Nano)
	}
	return []any{
		rec.ItemKey(),
		rec.ItemName,
		rec.ItemCode,
		strings.Join(rec.Keywords, ","),
		string(rec.Unit),
		rec.UnitPrice.StringFixed(2),
		rec.Source,
		rec.Specification,
		rec.ReferenceURL,
		string(rec.Confidence),
		rec.Official,
		ts,
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*api.PriceRecord, error) {
	var (
		rec      api.PriceRecord
		keywords string
		unit     string
		level    string
		updated  timestamp
	)
	if err := row.Scan(&rec.ItemName, &rec.ItemCode, &keywords, &unit, &rec.UnitPrice, &rec.Source,
		&rec.Specification, &rec.ReferenceURL, &level, &rec.Official, &updated); err != nil {
		return nil, err
	}
	rec.Unit = units.Unit(unit)
	rec.Confidence = confidence.Level(level)
	rec.UpdatedAt = time.Time(updated)
	if keywords != "" {
		rec.Keywords = strings.Split(keywords, ",")
	}
	return &rec, nil
}

// timestamp scans TIMESTAMPTZ values and RFC 3339 text alike.
type timestamp time.Time

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = timestamp(v.UTC())
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		*t = timestamp(time.Time{})
		return nil
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *timestamp) parse(s string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if v, err := time.Parse(layout, s); err == nil {
			*t = timestamp(v.UTC())
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
