package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/loader"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// DefaultTable is the bar table name used when none is configured.
const DefaultTable = "fx_m1"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore upserts rows into a single bar table keyed by (symbol, ts).
// Timestamps are stored as ISO-8601 UTC text so they sort chronologically.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and makes
// sure the bar table and its timestamp index exist.
func NewSQLiteStore(dbPath, table string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", domain.ErrConfig)
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrConfig, table)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, table: table}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			ts     TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume REAL,
			source TEXT NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("creating %s schema: %w", s.table, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// loader.Sink implementation
// ---------------------------------------------------------------------------

// WriteRows upserts one chunk inside a single transaction. Existing rows
// with the same (symbol, ts) are replaced.
func (s *SQLiteStore) WriteRows(ctx context.Context, rows []loader.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, ts, open, high, low, close, volume, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    source=excluded.source`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Symbol, loader.FormatTimestamp(r.Timestamp),
			r.Open.Any(), r.High.Any(), r.Low.Any(), r.Close.Any(), r.Volume.Any(),
			string(r.Source),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upserting %s %s: %w", r.Symbol, loader.FormatTimestamp(r.Timestamp), err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Count returns the number of stored rows for symbol.
func (s *SQLiteStore) Count(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE symbol = ?`, s.table), symbol).Scan(&n)
	return n, err
}

// ReadBars returns the stored bars for symbol within [start, end], ordered
// by timestamp.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT ts, open, high, low, close, volume, source FROM %s
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts`, s.table),
		symbol, loader.FormatTimestamp(start), loader.FormatTimestamp(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			ts                       string
			open, high, low, cl, vol sql.NullFloat64
			src                      string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &cl, &vol, &src); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing stored timestamp %q: %w", ts, err)
		}
		source, _ := domain.ParseSource(src)
		bars = append(bars, domain.Bar{
			Timestamp: t.UTC(),
			Open:      nullFloat(open),
			High:      nullFloat(high),
			Low:       nullFloat(low),
			Close:     nullFloat(cl),
			Volume:    nullFloat(vol),
			Source:    source,
		})
	}
	return bars, rows.Err()
}

func nullFloat(n sql.NullFloat64) domain.Float {
	if !n.Valid {
		return domain.None
	}
	return domain.Some(n.Float64)
}
