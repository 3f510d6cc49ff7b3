package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w", ...) and test
// with errors.Is.
var (
	// ErrFormat: no parseable rows in an input file set.
	ErrFormat = errors.New("format error")
	// ErrNetwork: transient archive fetch failure.
	ErrNetwork = errors.New("network error")
	// ErrDecode: corrupt or undecodable tick archive.
	ErrDecode = errors.New("decode error")
	// ErrConfig: missing required arguments or malformed configuration.
	ErrConfig = errors.New("config error")
	// ErrMissingColumn: a required OHLCV column is absent.
	ErrMissingColumn = errors.New("missing column")
)
