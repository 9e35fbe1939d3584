// Package clickhouse provides a ClickHouse implementation of the price store.
// Rows live in a ReplacingMergeTree keyed by item, source and unit, so
// re-inserting a record replaces the older version on merge and FINAL
// reads see only the newest one.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "roadcost",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Addr returns the native-protocol address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Store implements pricing.PriceStore using ClickHouse
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
	now  func() time.Time
}

// NewStore creates a new ClickHouse price store
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg, now: time.Now}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
	CREATE TABLE IF NOT EXISTS material_prices (
		item_key      String,
		item_name     String,
		item_code     String,
		keywords      Array(String),
		unit          LowCardinality(String),
		unit_price    Decimal(14, 2),
		source        LowCardinality(String),
		specification String,
		reference_url String,
		confidence    LowCardinality(String),
		official      UInt8,
		updated_at    DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (item_key, source, unit)
`

// Migrate creates the price table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create material_prices: %w", err)
	}
	return nil
}

// =============================================================================
// PRICE OPERATIONS
// =============================================================================

const columns = `item_name, item_code, keywords, unit, unit_price, source,
	specification, reference_url, confidence, official, updated_at`

// FindExact returns the freshest official-first record for name in unit.
// It returns nil when none exists.
func (s *Store) FindExact(ctx context.Context, name string, unit units.Unit) (*api.PriceRecord, error) {
	query := `
		SELECT ` + columns + `
		FROM material_prices FINAL
		WHERE item_key = ? AND unit = ?
		ORDER BY official DESC, updated_at DESC
		LIMIT 1
	`
	row := s.conn.QueryRow(ctx, query, api.ItemKey(name), string(unit))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find price: %w", err)
	}
	return rec, nil
}

// Upsert inserts rec. Older versions of the same key collapse on merge.
func (s *Store) Upsert(ctx context.Context, rec api.PriceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO material_prices (item_key, ` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if err := s.conn.Exec(ctx, query, row(rec, s.now)...); err != nil {
		return fmt.Errorf("failed to insert price: %w", err)
	}
	return nil
}

// BulkUpsert inserts multiple records efficiently using batch insert
func (s *Store) BulkUpsert(ctx context.Context, recs []api.PriceRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO material_prices (item_key, `+columns+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := batch.Append(row(rec, s.now)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// List returns every current record ordered by name, unit and source.
func (s *Store) List(ctx context.Context) ([]api.PriceRecord, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+columns+` FROM material_prices FINAL ORDER BY item_key, unit, source`)
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

// Count returns the number of current records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM material_prices FINAL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count prices: %w", err)
	}
	return int(count), nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// row flattens rec into insert arguments in column order.
func row(rec api.PriceRecord, now func() time.Time) []any {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now()
	}
	keywords := rec.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return []any{
		rec.ItemKey(),
		rec.ItemName,
		rec.ItemCode,
		keywords,
		string(rec.Unit),
		rec.UnitPrice.Round(2),
		rec.Source,
		rec.Specification,
		rec.ReferenceURL,
		string(rec.Confidence),
		boolToUInt8(rec.Official),
		updated.UTC(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*api.PriceRecord, error) {
	var (
		rec      api.PriceRecord
		unit     string
		level    string
		price    decimal.Decimal
		official uint8
	)
	if err := row.Scan(&rec.ItemName, &rec.ItemCode, &rec.Keywords, &unit, &price, &rec.Source,
		&rec.Specification, &rec.ReferenceURL, &level, &official, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Unit = units.Unit(unit)
	rec.UnitPrice = price
	rec.Confidence = confidence.Level(level)
	rec.Official = official == 1
	if len(rec.Keywords) == 0 {
		rec.Keywords = nil
	}
	return &rec, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
