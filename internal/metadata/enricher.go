package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/timeutil"
)

const (
	DefaultRetries       = 2
	DefaultBackoff       = 500 * time.Millisecond
	DefaultLookupTimeout = 30 * time.Second
)

// EnricherConfig bounds how hard the Enricher tries a Source.
type EnricherConfig struct {
	// Retries after the first attempt for transient failures. ErrNotFound
	// is never retried.
	Retries int
	// Backoff before the first retry; doubled for each further retry.
	Backoff time.Duration
	// LookupTimeout bounds each Source call. Zero disables it.
	LookupTimeout time.Duration
	Clock         timeutil.Clock
}

// DefaultEnricherConfig returns the settings used when none are configured.
func DefaultEnricherConfig() EnricherConfig {
	return EnricherConfig{
		Retries:       DefaultRetries,
		Backoff:       DefaultBackoff,
		LookupTimeout: DefaultLookupTimeout,
	}
}

// Enriched pairs aligned windows with the station metadata they were
// measured under.
type Enriched struct {
	Windows []align.Window
	Station *Station
}

// Enricher attaches station metadata to aligned windows.
type Enricher struct {
	source Source
	cache  *Cache
	cfg    EnricherConfig
}

// NewEnricher returns an Enricher reading through cache. A nil cache gets a
// private one; a nil clock uses the real clock.
func NewEnricher(source Source, cache *Cache, cfg EnricherConfig) *Enricher {
	if cache == nil {
		cache = NewCache()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Enricher{source: source, cache: cache, cfg: cfg}
}

// Cache returns the cache shared by this Enricher's lookups.
func (e *Enricher) Cache() *Cache { return e.cache }

// Enrich looks up the station valid at date and returns it with windows.
// Failures are reported as *UnavailableError.
func (e *Enricher) Enrich(ctx context.Context, windows []align.Window, stationID string, date time.Time) (*Enriched, error) {
	st, err := e.Lookup(ctx, stationID, date)
	if err != nil {
		return nil, err
	}
	return &Enriched{Windows: windows, Station: st}, nil
}

// Lookup resolves a station through the cache, retrying transient source
// failures with doubling backoff.
func (e *Enricher) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	if stationID == "" {
		return nil, &UnavailableError{Date: date, Err: fmt.Errorf("%w: file carries no station id", ErrNotFound)}
	}
	st, err := e.cache.Do(stationID, date, func() (*Station, error) {
		return e.fetch(ctx, stationID, date)
	})
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, &UnavailableError{StationID: stationID, Date: date, Err: err}
	}
	return st, nil
}

func (e *Enricher) fetch(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	backoff := e.cfg.Backoff
	var lastErr error
	attempt := 0
	for attempt < 1+e.cfg.Retries {
		attempt++
		st, err := e.lookupOnce(ctx, stationID, date)
		if err == nil {
			monitoring.Debugf("metadata for %s on %s resolved on attempt %d", stationID, date.UTC().Format(time.DateOnly), attempt)
			return st, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil || attempt > e.cfg.Retries {
			break
		}
		monitoring.Logf("metadata lookup for %s failed (attempt=%d), retrying in %s: %v", stationID, attempt, backoff, err)
		if err := e.cfg.Clock.Sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}
	return nil, &UnavailableError{StationID: stationID, Date: date, Attempts: attempt, Err: lastErr}
}

func (e *Enricher) lookupOnce(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	if e.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LookupTimeout)
		defer cancel()
	}
	st, err := e.source.Lookup(ctx, stationID, date)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: source returned no station for %q", ErrNotFound, stationID)
	}
	if err := st.validate(); err != nil {
		return nil, err
	}
	if st.StationID != stationID || !st.Covers(date) {
		return nil, fmt.Errorf("%w: source answered with %s valid from %s", ErrNotFound, st.StationID, st.ValidFrom.Format(time.DateOnly))
	}
	return st, nil
}
