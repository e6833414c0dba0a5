// Package pipeline runs the conversion of PollyXT raw files into SCC
// products: each file is read, aligned onto windows, enriched with station
// metadata and written, with failures isolated per file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pollyxt"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/product"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/timeutil"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/version"
)

// CalibrationWindow is the window duration of calibration products.
const CalibrationWindow = time.Minute

// ProductWriter writes one product. *product.Writer implements it.
type ProductWriter interface {
	Write(windows []align.Window, station *metadata.Station, prov product.Provenance, destination string) (*product.Product, error)
}

// Config controls a run. Enricher is required; every other field has a
// usable zero value.
type Config struct {
	Enricher *metadata.Enricher
	Reader   *pollyxt.Reader
	Reducer  align.Reducer

	// Strict stops dispatching files once station metadata cannot be
	// obtained, fails files whose metadata is unavailable instead of
	// skipping them, and makes the run exit nonzero on any failure.
	Strict  bool
	Workers int
	// RunTimeout stops dispatching new files once elapsed. Files already
	// started run to completion.
	RunTimeout time.Duration
	// WriteRetries is how often a WriteError is retried.
	WriteRetries int

	Calibration bool
	Quicklook   bool
	RoundStart  bool
	OutputDir   string

	// NewWriter builds the writer for one product of a file. Nil uses
	// product.NewWriter.
	NewWriter func(kind product.Kind, block *pollyxt.Block) ProductWriter
	// Claims keeps two files of a run from writing the same product path.
	// Nil gives each run its own set.
	Claims *product.Claims

	Clock   timeutil.Clock
	RunID   string
	Version string
}

func (cfg *Config) setDefaults() {
	if cfg.Reader == nil {
		cfg.Reader = pollyxt.NewReader(nil)
	}
	if cfg.Reducer == "" {
		cfg.Reducer = align.DefaultReducer
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Version == "" {
		cfg.Version = version.String()
	}
	if cfg.Claims == nil {
		cfg.Claims = product.NewClaims()
	}
	if cfg.NewWriter == nil {
		quicklook, claims := cfg.Quicklook, cfg.Claims
		cfg.NewWriter = func(kind product.Kind, block *pollyxt.Block) ProductWriter {
			w := product.NewWriter(kind)
			w.Quicklook = quicklook && kind == product.KindMeasurement
			w.ZenithAngle = block.ZenithAngle
			w.Claims = claims
			return w
		}
	}
}

// Run converts every file in paths. rng limits the rows used; a zero rng
// means each file's own measurement period. With an explicit rng each file
// is aligned over the windows of rng it overlaps. Per-file failures are
// recorded in the summary; the returned error is only for unusable
// arguments.
func Run(ctx context.Context, paths []string, windowDuration time.Duration, rng align.Range, cfg Config) (*RunSummary, error) {
	if windowDuration <= 0 {
		return nil, fmt.Errorf("%w: %s", align.ErrInvalidWindow, windowDuration)
	}
	if !rng.IsZero() {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Enricher == nil {
		return nil, errors.New("pipeline: no metadata enricher configured")
	}
	cfg.setDefaults()

	runCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	r := &runner{cfg: cfg, window: windowDuration, rng: rng}
	started := cfg.Clock.Now()
	monitoring.Logf("run %s: converting %d file(s) with %d worker(s), window %s", cfg.RunID, len(paths), cfg.Workers, windowDuration)

	results := make([]FileResult, len(paths))
	var (
		next    atomic.Int64
		aborted atomic.Bool
		wg      sync.WaitGroup
	)
	workers := min(cfg.Workers, max(len(paths), 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if aborted.Load() || runCtx.Err() != nil {
					return
				}
				i := int(next.Add(1) - 1)
				if i >= len(paths) {
					return
				}
				// started files are not interrupted by the run deadline
				res := r.processFile(context.WithoutCancel(runCtx), paths[i])
				results[i] = res
				if cfg.Strict && metadataUnavailable(res.Err) {
					aborted.Store(true)
				}
			}
		}()
	}
	wg.Wait()

	for i := range results {
		if results[i].Status != "" {
			continue
		}
		err := ErrBatchAborted
		if !aborted.Load() {
			err = ErrRunTimeout
			if ctxErr := runCtx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
				err = ctxErr
			}
		}
		results[i] = FileResult{Path: paths[i], Status: StatusSkipped, Stage: StageDiscovered, Err: err}
	}

	summary := newSummary(cfg.RunID, started, results)
	summary.Finished = cfg.Clock.Now()
	monitoring.Logf("run %s: %d succeeded, %d skipped, %d failed in %s",
		cfg.RunID, len(summary.Succeeded), len(summary.Skipped), len(summary.Failed), summary.Finished.Sub(started))
	return summary, nil
}

type runner struct {
	cfg    Config
	window time.Duration
	rng    align.Range
}

func (r *runner) processFile(ctx context.Context, path string) (res FileResult) {
	began := r.cfg.Clock.Now()
	res = FileResult{Path: path, Stage: StageDiscovered}
	defer func() {
		res.Duration = r.cfg.Clock.Since(began)
		switch res.Status {
		case StatusSucceeded:
			monitoring.Logf("%s: wrote %d product(s)", path, len(res.Products))
		case StatusSkipped:
			monitoring.Logf("warning: skipped %s at %s: %v", path, res.Stage, res.Err)
		default:
			monitoring.Logf("error: %s failed at %s: %v", path, res.Stage, res.Err)
		}
	}()
	fail := func(stage Stage, err error) FileResult {
		r.discard(path, res.Products)
		res.Products = nil
		res.Status, res.Stage, res.Err = StatusFailed, stage, err
		return res
	}
	skip := func(stage Stage, err error) FileResult {
		res.Status, res.Stage, res.Err = StatusSkipped, stage, err
		return res
	}

	block, err := r.cfg.Reader.Read(path)
	if err != nil {
		return fail(StageRead, err)
	}
	if len(block.Rows) == 0 {
		return fail(StageRead, &pollyxt.FormatError{Path: path, Reason: "no rows"})
	}

	measured := align.BlockRange(block)
	rng := r.rng
	if rng.IsZero() {
		rng = measured
	} else if !measured.Start.Before(rng.End) || !rng.Start.Before(measured.End) {
		return skip(StageRead, fmt.Errorf("%w: file covers %s, requested %s", ErrOutOfRange, measured, rng))
	}
	if r.cfg.RoundStart {
		rng = rng.RoundStart()
	}
	if !r.rng.IsZero() {
		rng = rng.Clip(measured, r.window)
	}

	windows, err := align.NewAligner(r.cfg.Reducer).Align(block, r.window, rng)
	if err != nil {
		return fail(StageAligned, err)
	}

	enriched, err := r.cfg.Enricher.Enrich(ctx, windows, block.StationID, rng.Start)
	if err != nil {
		if metadataUnavailable(err) && !r.cfg.Strict {
			return skip(StageEnriched, err)
		}
		return fail(StageEnriched, err)
	}

	prov := product.Provenance{
		SourceFiles:     []string{path},
		ProcessedAt:     r.cfg.Clock.Now().UTC(),
		PipelineVersion: r.cfg.Version,
		RunID:           r.cfg.RunID,
	}
	p, err := r.write(product.KindMeasurement, block, enriched.Windows, enriched.Station, prov)
	if err != nil {
		return fail(StageWritten, err)
	}
	res.Products = append(res.Products, p)

	if r.cfg.Calibration {
		for _, cal := range align.CalibrationRanges(measured) {
			calWindows, err := align.NewAligner(r.cfg.Reducer).Align(block, CalibrationWindow, cal)
			if err != nil {
				return fail(StageAligned, err)
			}
			p, err := r.write(product.KindCalibration, block, calWindows, enriched.Station, prov)
			if err != nil {
				return fail(StageWritten, err)
			}
			res.Products = append(res.Products, p)
		}
	}

	res.Status, res.Stage = StatusSucceeded, StageWritten
	return res
}

// discard removes the products a failed file already wrote.
func (r *runner) discard(path string, products []*product.Product) {
	for _, p := range products {
		if err := p.Remove(); err != nil {
			monitoring.Logf("warning: failed to remove %s after %s failed: %v", p.Path, path, err)
		}
		r.cfg.Claims.Release(p.Path, path)
	}
}

func metadataUnavailable(err error) bool {
	var unavailable *metadata.UnavailableError
	return errors.As(err, &unavailable)
}

// write retries WriteErrors up to WriteRetries times. Validation failures
// and paths claimed by another file are returned at once.
func (r *runner) write(kind product.Kind, block *pollyxt.Block, windows []align.Window, station *metadata.Station, prov product.Provenance) (*product.Product, error) {
	w := r.cfg.NewWriter(kind, block)
	var lastErr error
	for attempt := 0; attempt <= r.cfg.WriteRetries; attempt++ {
		p, err := w.Write(windows, station, prov, r.cfg.OutputDir)
		if err == nil {
			return p, nil
		}
		lastErr = err
		var werr *product.WriteError
		if !errors.As(err, &werr) || errors.Is(err, product.ErrAlreadyWritten) {
			break
		}
		if attempt < r.cfg.WriteRetries {
			monitoring.Logf("write of %s product for %s failed (attempt=%d), retrying: %v", kind, block.Path, attempt+1, err)
		}
	}
	return nil, lastErr
}
