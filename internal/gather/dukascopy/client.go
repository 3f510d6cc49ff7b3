// Package dukascopy backfills gaps in minute bars from the Dukascopy tick
// archive. The archive stores one LZMA-compressed file of binary tick
// records per symbol and UTC hour.
package dukascopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fxhist/internal/domain"
	"fxhist/internal/gather"
	"fxhist/internal/util"
)

// DefaultBaseURL is the public archive root.
const DefaultBaseURL = "https://datafeed.dukascopy.com/datafeed"

const (
	defaultTimeout = 20 * time.Second
	defaultRetries = 2

	// Pauses between attempts: after a non-success response, and after a
	// transport error.
	statusPause    = 400 * time.Millisecond
	transportPause = 800 * time.Millisecond
)

// FetchStatus classifies the outcome of one hourly archive fetch.
type FetchStatus int

const (
	// FetchOK: the archive returned a non-empty body.
	FetchOK FetchStatus = iota
	// FetchNotFound: the archive has no data for the hour.
	FetchNotFound
	// FetchExhausted: every attempt failed.
	FetchExhausted
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchNotFound:
		return "not-found"
	case FetchExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("FetchStatus(%d)", int(s))
}

// FetchResult is the explicit outcome of FetchHour.
type FetchResult struct {
	Status   FetchStatus
	Body     []byte
	Attempts int
	Err      error // set when Status is FetchExhausted
}

// TickCache stores decoded ticks per (symbol, hour) so repeated runs do not
// refetch the archive.
type TickCache interface {
	ReadTicks(symbol string, hour time.Time) ([]domain.Tick, bool)
	WriteTicks(symbol string, hour time.Time, ticks []domain.Tick) error
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL           string
	Timeout           time.Duration // per attempt
	Retries           int           // attempts after the first; negative means none
	RequestsPerSecond float64       // 0 disables throttling
	PriceScale        float64
	HTTPClient        *http.Client
	Cache             TickCache
	Logger            *slog.Logger
}

// Client fetches and decodes hourly tick archives.
type Client struct {
	baseURL    string
	timeout    time.Duration
	retries    int
	scale      float64
	http       *http.Client
	limiter    *util.RateLimiter
	cache      TickCache
	log        *slog.Logger
	pauseAfter func(err error) time.Duration
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		retries: opts.Retries,
		scale:   opts.PriceScale,
		http:    opts.HTTPClient,
		limiter: util.NewRateLimiter(opts.RequestsPerSecond),
		cache:   opts.Cache,
		log:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retries == 0 {
		c.retries = defaultRetries
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.scale <= 0 {
		c.scale = DefaultPriceScale
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = slog.Default().With("component", "dukascopy")
	}
	c.pauseAfter = defaultPause
	return c
}

// URL returns the archive location for symbol and the UTC hour containing
// hour. Months are zero-based in the archive layout.
func (c *Client) URL(symbol string, hour time.Time) string {
	h := hour.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		c.baseURL, strings.ToUpper(symbol), h.Year(), int(h.Month())-1, h.Day(), h.Hour())
}

var errNotFound = errors.New("archive hour not found")

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("%s: unexpected status %d", domain.ErrNetwork, e.code) }
func (e *statusError) Unwrap() error { return domain.ErrNetwork }

func defaultPause(err error) time.Duration {
	var se *statusError
	if errors.As(err, &se) {
		return statusPause
	}
	return transportPause
}

// FetchHour downloads the archive for one hour. It makes one attempt plus
// the configured retries; a missing hour (404 or empty body) is reported as
// FetchNotFound without retrying.
func (c *Client) FetchHour(ctx context.Context, symbol string, hour time.Time) FetchResult {
	url := c.URL(symbol, hour)
	var res FetchResult

	err := util.Retry(ctx, c.retries+1, func(_ int, err error) time.Duration { return c.pauseAfter(err) }, func() error {
		res.Attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		body, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		res.Body = body
		return nil
	})

	switch {
	case err == nil:
		res.Status = FetchOK
	case errors.Is(err, errNotFound):
		res.Status = FetchNotFound
	default:
		res.Status = FetchExhausted
		res.Err = err
		c.log.Debug("archive fetch exhausted", "url", url, "attempts", res.Attempts, "error", err)
	}
	return res
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, util.Permanent(errNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrNetwork, err)
	}
	if len(body) == 0 {
		return nil, util.Permanent(errNotFound)
	}
	return body, nil
}

// TicksForHour returns the decoded ticks for one hour, consulting the cache
// first. Fetch and decode failures degrade to an empty tick set. Hours the
// archive does not have are cached empty and report FetchNotFound.
func (c *Client) TicksForHour(ctx context.Context, symbol string, hour time.Time) ([]domain.Tick, FetchStatus) {
	hour = hour.UTC().Truncate(time.Hour)
	if c.cache != nil {
		if ticks, ok := c.cache.ReadTicks(symbol, hour); ok {
			if len(ticks) == 0 {
				return nil, FetchNotFound
			}
			return ticks, FetchOK
		}
	}

	res := c.FetchHour(ctx, symbol, hour)
	if res.Status == FetchNotFound {
		c.remember(symbol, hour, nil)
	}
	if res.Status != FetchOK {
		return nil, res.Status
	}
	ticks, err := Decode(res.Body, hour, c.scale)
	if err != nil {
		c.log.Warn("discarding undecodable archive", "symbol", symbol, "hour", hour, "error", err)
		return nil, FetchOK
	}
	c.remember(symbol, hour, ticks)
	return ticks, FetchOK
}

// remember stores a settled hour in the cache. Hours the archive does not
// have are stored empty so later runs skip the request.
func (c *Client) remember(symbol string, hour time.Time, ticks []domain.Tick) {
	if c.cache == nil {
		return
	}
	if err := c.cache.WriteTicks(symbol, hour, ticks); err != nil {
		c.log.Warn("tick cache write failed", "symbol", symbol, "hour", hour, "error", err)
	}
}

// MinuteBars aggregates every hour overlapping r into minute bars, last bar
// per minute winning, sorted by time.
func (c *Client) MinuteBars(ctx context.Context, symbol string, r gather.DateRange) []domain.Bar {
	var chunks [][]domain.Bar
	for _, hour := range r.Hours() {
		if ctx.Err() != nil {
			break
		}
		ticks, _ := c.TicksForHour(ctx, symbol, hour)
		if len(ticks) == 0 {
			continue
		}
		chunks = append(chunks, AggregateMinutes(ticks))
	}
	return mergeBars(chunks)
}
