package pipeline

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/product"
)

var (
	// ErrRunTimeout marks files never started because the run time limit
	// expired.
	ErrRunTimeout = errors.New("run timeout reached before file was processed")
	// ErrBatchAborted marks files never started because strict mode stopped
	// the batch when station metadata was unavailable.
	ErrBatchAborted = errors.New("batch aborted: station metadata unavailable")
	// ErrOutOfRange marks files whose rows all lie outside the requested range.
	ErrOutOfRange = errors.New("file has no rows inside the requested range")
)

// Stage is a step of the per-file state machine.
type Stage string

const (
	StageDiscovered Stage = "discovered"
	StageRead       Stage = "read"
	StageAligned    Stage = "aligned"
	StageEnriched   Stage = "enriched"
	StageWritten    Stage = "written"
)

// Status is the outcome of one file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// FileResult is the outcome of one input file. For a successful file Stage
// is StageWritten; otherwise it is the stage that did not complete.
type FileResult struct {
	Path     string
	Status   Status
	Stage    Stage
	Err      error
	Products []*product.Product
	Duration time.Duration
}

// RunSummary collects the outcome of every input file of a run.
type RunSummary struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Succeeded []string
	Skipped   map[string]error
	Failed    map[string]error
	// Results holds one entry per input path, in input order.
	Results []FileResult
}

func newSummary(runID string, started time.Time, results []FileResult) *RunSummary {
	s := &RunSummary{
		RunID:   runID,
		Started: started,
		Skipped: make(map[string]error),
		Failed:  make(map[string]error),
		Results: results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			s.Succeeded = append(s.Succeeded, r.Path)
		case StatusSkipped:
			s.Skipped[r.Path] = r.Err
		default:
			s.Failed[r.Path] = r.Err
		}
	}
	return s
}

// Products returns every product written during the run.
func (s *RunSummary) Products() []*product.Product {
	var out []*product.Product
	for _, r := range s.Results {
		out = append(out, r.Products...)
	}
	return out
}

// ExitCode is 0 when every file succeeded. Otherwise it is 1 in strict mode
// and 0 (the problems having been logged as warnings) when not strict.
func (s *RunSummary) ExitCode(strict bool) int {
	if strict && (len(s.Failed) > 0 || len(s.Skipped) > 0) {
		return 1
	}
	return 0
}

// WriteCSV writes one row per input file: path, status, stage, products
// and error.
func (s *RunSummary) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "status", "stage", "products", "error"}); err != nil {
		return err
	}
	for _, r := range s.Results {
		var products []string
		for _, p := range r.Products {
			products = append(products, p.Path)
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		if err := cw.Write([]string{r.Path, string(r.Status), string(r.Stage), strings.Join(products, ";"), errText}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
