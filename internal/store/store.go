// Package store persists pipeline output: bulk-load sinks for finished bars,
// the decoded tick cache, and the canonical series and gap-report CSV files.
package store

import (
	"context"
	"fmt"
	"io"

	"fxhist/internal/domain"
	"fxhist/internal/loader"
)

// Sink kinds accepted by Open.
const (
	KindSQLite  = "sqlite"
	KindParquet = "parquet"
	KindNone    = "none"
)

// BarSink is a loader sink that owns resources.
type BarSink interface {
	loader.Sink
	io.Closer
}

// Compile-time interface checks.
var _ BarSink = (*SQLiteStore)(nil)
var _ BarSink = (*ParquetStore)(nil)
var _ BarSink = discard{}

// Options selects where Open places its output.
type Options struct {
	DataDir    string
	SQLitePath string
	Table      string
}

// Open returns the sink for kind.
func Open(kind string, opts Options) (BarSink, error) {
	switch kind {
	case KindSQLite:
		return NewSQLiteStore(opts.SQLitePath, opts.Table)
	case KindParquet:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("%w: parquet sink needs a data directory", domain.ErrConfig)
		}
		return NewParquetStore(opts.DataDir), nil
	case KindNone, "":
		return discard{}, nil
	}
	return nil, fmt.Errorf("%w: unknown sink %q", domain.ErrConfig, kind)
}

type discard struct{}

func (discard) WriteRows(context.Context, []loader.Row) error { return nil }
func (discard) Close() error                                  { return nil }
