package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/config"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/db"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/httputil"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pipeline"
)

// Layouts accepted by -start and -end, interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want e.g. 2023-07-14T17:00)", s)
}

func parseRange(start, end string) (align.Range, error) {
	if start == "" && end == "" {
		return align.Range{}, nil
	}
	if start == "" || end == "" {
		return align.Range{}, errors.New("-start and -end must be given together")
	}
	var rng align.Range
	var err error
	if rng.Start, err = parseTime(start); err != nil {
		return align.Range{}, err
	}
	if rng.End, err = parseTime(end); err != nil {
		return align.Range{}, err
	}
	return rng, rng.Validate()
}

type convertFlags struct {
	in, out     string
	start, end  string
	window      string
	reducer     string
	strict      bool
	workers     int
	configPath  string
	envFile     string
	metadataDB  string
	metadataURL string
	catalogDSN  string
	calibration bool
	quicklook   bool
	round       bool
	summaryPath string
	debug       bool
}

func newConvertFlagSet(f *convertFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.StringVar(&f.in, "in", "", "Input files or directories, comma separated")
	fs.StringVar(&f.out, "out", "", "Output directory for products")
	fs.StringVar(&f.start, "start", "", "Range start (UTC), e.g. 2023-07-14T17:00")
	fs.StringVar(&f.end, "end", "", "Range end (UTC)")
	fs.StringVar(&f.window, "window", "", "Window duration (default 5m)")
	fs.StringVar(&f.reducer, "reducer", "", "Window reducer: mean, min, max or sum")
	fs.BoolVar(&f.strict, "strict", false, "Abort when station metadata is unavailable and exit nonzero on any failure")
	fs.IntVar(&f.workers, "workers", 0, "Number of files converted concurrently")
	fs.StringVar(&f.configPath, "config", "", "Path to JSON configuration file")
	fs.StringVar(&f.envFile, "env", "", "Environment file (default .env, optional)")
	fs.StringVar(&f.metadataDB, "metadata-db", "", "Local station catalog (SQLite)")
	fs.StringVar(&f.metadataURL, "metadata-url", "", "SCC station table URL")
	fs.StringVar(&f.catalogDSN, "catalog-dsn", "", "PostgreSQL campaign catalog DSN")
	fs.BoolVar(&f.calibration, "calibration", false, "Also write calibration products")
	fs.BoolVar(&f.quicklook, "quicklook", false, "Render a quicklook PNG next to each product")
	fs.BoolVar(&f.round, "round", false, "Round the range start down to the hour")
	fs.StringVar(&f.summaryPath, "summary", "", "Write the run summary CSV here instead of stdout")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return fs
}

// applyFlags lets flags given on the command line override pc.
func applyFlags(fs *flag.FlagSet, f *convertFlags, pc *config.PipelineConfig) error {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "out":
			pc.OutputDir = config.PtrString(f.out)
		case "window":
			pc.Window = config.PtrString(f.window)
		case "reducer":
			pc.Reducer = config.PtrString(f.reducer)
		case "strict":
			pc.Strict = config.PtrBool(f.strict)
		case "workers":
			pc.Workers = config.PtrInt(f.workers)
		case "metadata-db":
			pc.MetadataDB = config.PtrString(f.metadataDB)
		case "metadata-url":
			pc.MetadataURL = config.PtrString(f.metadataURL)
		case "catalog-dsn":
			pc.CatalogDSN = config.PtrString(f.catalogDSN)
		case "calibration":
			pc.Calibration = config.PtrBool(f.calibration)
		case "quicklook":
			pc.Quicklook = config.PtrBool(f.quicklook)
		case "round":
			pc.RoundStart = config.PtrBool(f.round)
		}
	})
	return pc.Validate()
}

func loadConfig(fs *flag.FlagSet, f *convertFlags) (*config.PipelineConfig, error) {
	pc := config.Empty()
	if f.configPath != "" {
		var err error
		if pc, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if err := pc.ApplyEnv(f.envFile); err != nil {
		return nil, err
	}
	if err := applyFlags(fs, f, pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// openSource builds the metadata source chain: the local catalog, reading
// through the campaign catalog or the station table when either is set.
// The returned func releases what was opened.
func openSource(ctx context.Context, pc *config.PipelineConfig) (metadata.Source, func(), error) {
	var (
		upstream metadata.Source
		name     string
		closers  []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch {
	case pc.GetCatalogDSN() != "":
		catalog, err := metadata.OpenCatalogSource(ctx, pc.GetCatalogDSN())
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, catalog.Close)
		upstream, name = catalog, "catalog"
	case pc.GetMetadataURL() != "":
		client := httputil.NewStandardClient(&http.Client{Timeout: pc.GetLookupTimeout()})
		upstream, name = metadata.NewHTMLSource(pc.GetMetadataURL(), client), "scc"
	}

	if path := pc.GetMetadataDB(); path != "" {
		catalogDB, err := db.NewDB(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = catalogDB.Close() })
		return metadata.NewFileCacheSource(catalogDB, upstream, name), closeAll, nil
	}
	if upstream == nil {
		return nil, nil, errors.New("no metadata source configured (use -metadata-db, -metadata-url or -catalog-dsn)")
	}
	return upstream, closeAll, nil
}

func splitInputs(in string, rest []string) []string {
	var out []string
	for _, p := range strings.Split(in, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return append(out, rest...)
}

func handleConvert(args []string) int {
	var f convertFlags
	fs := newConvertFlagSet(&f)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	monitoring.SetDebug(f.debug)

	inputs := splitInputs(f.in, fs.Args())
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -in is required")
		fs.Usage()
		return 2
	}
	rng, err := parseRange(f.start, f.end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	pc, err := loadConfig(fs, &f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, release, err := openSource(ctx, pc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer release()

	enricher := metadata.NewEnricher(source, nil, pipeline.EnricherConfig(pc))
	cfg, err := pipeline.FromPipelineConfig(pc, enricher)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	paths, err := pipeline.Discover(nil, inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no PollyXT files found")
		return 1
	}
	log.Printf("converting %d file(s) into %s (window %s, %d worker(s))",
		len(paths), cfg.OutputDir, pc.GetWindow(), cfg.Workers)

	summary, err := pipeline.Run(ctx, paths, pc.GetWindow(), rng, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if err := writeSummary(summary, f.summaryPath); err != nil {
		log.Printf("failed to write summary: %v", err)
	}
	log.Printf("run %s: %d succeeded, %d skipped, %d failed, %d product(s) in %s",
		summary.RunID, len(summary.Succeeded), len(summary.Skipped), len(summary.Failed),
		len(summary.Products()), summary.Finished.Sub(summary.Started).Round(time.Millisecond))
	for path, err := range summary.Skipped {
		log.Printf("warning: skipped %s: %v", path, err)
	}
	for path, err := range summary.Failed {
		log.Printf("warning: failed %s: %v", path, err)
	}
	return summary.ExitCode(cfg.Strict)
}

func writeSummary(summary *pipeline.RunSummary, path string) error {
	if path == "" {
		return summary.WriteCSV(os.Stdout)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := summary.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
