package pipeline

import (
	"io"
	"log/slog"

	"fxhist/internal/config"
	"fxhist/internal/gather/dukascopy"
	"fxhist/internal/store"
)

// NewArchiveClient builds the backfill client from cfg. The tick cache is
// enabled when storage.tick_cache_dir is set.
func NewArchiveClient(cfg *config.Config) *dukascopy.Client {
	retries := cfg.ArchiveRetries()
	if retries == 0 {
		retries = -1 // client treats 0 as "use the default"
	}
	opts := dukascopy.Options{
		BaseURL:           cfg.Archive.BaseURL,
		Timeout:           cfg.Archive.Timeout,
		Retries:           retries,
		RequestsPerSecond: cfg.Archive.RequestsPerSecond,
		PriceScale:        cfg.Archive.PriceScale,
	}
	if cfg.Storage.TickCacheDir != "" {
		opts.Cache = store.NewTickCache(cfg.Storage.TickCacheDir)
	}
	return dukascopy.NewClient(opts)
}

// OpenSink opens the configured bulk-load sink.
func OpenSink(cfg *config.Config) (store.BarSink, error) {
	return store.Open(cfg.Storage.Sink, store.Options{
		DataDir:    cfg.Storage.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
		Table:      cfg.Storage.Table,
	})
}

// Jobs converts the configured symbols into jobs, in sorted symbol order.
func Jobs(cfg *config.Config) []Job {
	names := cfg.SymbolNames()
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		sym := cfg.Symbols[name]
		jobs = append(jobs, Job{
			Symbol:      name,
			InputGlobs:  sym.InputGlobs,
			ImputeMax:   sym.Impute(),
			BackfillMax: sym.Backfill(),
			Sessions:    sym.Sessions,
			QC:          sym.Policy(),
			OutCSV:      sym.OutCSV,
			GapReport:   sym.GapReport,
		})
	}
	return jobs
}

// FromConfig wires a Runner with the archive client and sink cfg selects.
// The returned closer releases the sink.
func FromConfig(cfg *config.Config, log *slog.Logger) (*Runner, io.Closer, error) {
	sink, err := OpenSink(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &Runner{
		Archive:   NewArchiveClient(cfg),
		Sink:      sink,
		ChunkSize: cfg.Batch.ChunkSize,
		Logger:    log,
	}, sink, nil
}
