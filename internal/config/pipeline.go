package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override the file configuration.
const (
	EnvMetadataURL = "POLLYXT_METADATA_URL"
	EnvMetadataDB  = "POLLYXT_METADATA_DB"
	EnvCatalogDSN  = "POLLYXT_CATALOG_DSN"
	EnvWorkers     = "POLLYXT_WORKERS"
)

// Defaults used when a field is not set.
const (
	DefaultWindow          = 5 * time.Minute
	DefaultReducer         = "mean"
	DefaultWorkers         = 1
	DefaultLookupTimeout   = 30 * time.Second
	DefaultMetadataRetries = 2
	DefaultMetadataBackoff = 500 * time.Millisecond
	DefaultWriteRetries    = 1
	DefaultOutputDir       = "."
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig holds the conversion settings. Every field is optional;
// the Get* methods supply defaults for unset ones, so partial files are
// safe. Durations are strings like "5m" or "30s".
type PipelineConfig struct {
	Window          *string `json:"window,omitempty"`
	Reducer         *string `json:"reducer,omitempty"`
	Strict          *bool   `json:"strict,omitempty"`
	Workers         *int    `json:"workers,omitempty"`
	RunTimeout      *string `json:"run_timeout,omitempty"`
	LookupTimeout   *string `json:"lookup_timeout,omitempty"`
	MetadataRetries *int    `json:"metadata_retries,omitempty"`
	MetadataBackoff *string `json:"metadata_backoff,omitempty"`
	WriteRetries    *int    `json:"write_retries,omitempty"`

	Calibration *bool   `json:"calibration,omitempty"`
	Quicklook   *bool   `json:"quicklook,omitempty"`
	RoundStart  *bool   `json:"round_start,omitempty"`
	OutputDir   *string `json:"output_dir,omitempty"`

	// Metadata sources, tried as a chain: local catalog file, reading
	// through the campaign catalog or the HTML station table.
	MetadataDB  *string `json:"metadata_db,omitempty"`
	MetadataURL *string `json:"metadata_url,omitempty"`
	CatalogDSN  *string `json:"catalog_dsn,omitempty"`
}

// Pointer helpers for building configs in code.
func PtrString(v string) *string { return &v }
func PtrBool(v bool) *bool       { return &v }
func PtrInt(v int) *int          { return &v }

// Empty returns a config with every field unset.
func Empty() *PipelineConfig {
	return &PipelineConfig{}
}

// Load reads a PipelineConfig from a JSON file. The file must have a .json
// extension and be at most 1MB.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv loads envFile (if present; "" means ".env") and lets the
// POLLYXT_* variables override the metadata source settings and the worker
// count.
func (c *PipelineConfig) ApplyEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if v := os.Getenv(EnvMetadataURL); v != "" {
		c.MetadataURL = PtrString(v)
	}
	if v := os.Getenv(EnvMetadataDB); v != "" {
		c.MetadataDB = PtrString(v)
	}
	if v := os.Getenv(EnvCatalogDSN); v != "" {
		c.CatalogDSN = PtrString(v)
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		c.Workers = PtrInt(n)
	}
	return c.Validate()
}

// Validate checks that the set values are usable.
func (c *PipelineConfig) Validate() error {
	for name, v := range map[string]*string{
		"window":           c.Window,
		"run_timeout":      c.RunTimeout,
		"lookup_timeout":   c.LookupTimeout,
		"metadata_backoff": c.MetadataBackoff,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 || (name == "window" && d == 0) {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.Reducer != nil {
		switch strings.ToLower(strings.TrimSpace(*c.Reducer)) {
		case "", "mean", "min", "max", "sum":
		default:
			return fmt.Errorf("reducer must be one of mean, min, max, sum; got %q", *c.Reducer)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.MetadataRetries != nil && *c.MetadataRetries < 0 {
		return fmt.Errorf("metadata_retries must be non-negative, got %d", *c.MetadataRetries)
	}
	if c.WriteRetries != nil && *c.WriteRetries < 0 {
		return fmt.Errorf("write_retries must be non-negative, got %d", *c.WriteRetries)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetWindow returns the window duration or the default of 5m.
func (c *PipelineConfig) GetWindow() time.Duration {
	return durationOr(c.Window, DefaultWindow)
}

// GetReducer returns the reducer name or "mean".
func (c *PipelineConfig) GetReducer() string {
	return strings.ToLower(strings.TrimSpace(stringOr(c.Reducer, DefaultReducer)))
}

func (c *PipelineConfig) GetStrict() bool {
	return c.Strict != nil && *c.Strict
}

func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers < 1 {
		return DefaultWorkers
	}
	return *c.Workers
}

// GetRunTimeout returns the batch time limit; zero means none.
func (c *PipelineConfig) GetRunTimeout() time.Duration {
	return durationOr(c.RunTimeout, 0)
}

func (c *PipelineConfig) GetLookupTimeout() time.Duration {
	return durationOr(c.LookupTimeout, DefaultLookupTimeout)
}

func (c *PipelineConfig) GetMetadataRetries() int {
	if c.MetadataRetries == nil {
		return DefaultMetadataRetries
	}
	return *c.MetadataRetries
}

func (c *PipelineConfig) GetMetadataBackoff() time.Duration {
	return durationOr(c.MetadataBackoff, DefaultMetadataBackoff)
}

// GetWriteRetries returns how often a failed write is retried (default once).
func (c *PipelineConfig) GetWriteRetries() int {
	if c.WriteRetries == nil {
		return DefaultWriteRetries
	}
	return *c.WriteRetries
}

func (c *PipelineConfig) GetCalibration() bool {
	return c.Calibration != nil && *c.Calibration
}

func (c *PipelineConfig) GetQuicklook() bool {
	return c.Quicklook != nil && *c.Quicklook
}

func (c *PipelineConfig) GetRoundStart() bool {
	return c.RoundStart != nil && *c.RoundStart
}

func (c *PipelineConfig) GetOutputDir() string {
	return stringOr(c.OutputDir, DefaultOutputDir)
}

func (c *PipelineConfig) GetMetadataDB() string  { return stringOr(c.MetadataDB, "") }
func (c *PipelineConfig) GetMetadataURL() string { return stringOr(c.MetadataURL, "") }
func (c *PipelineConfig) GetCatalogDSN() string  { return stringOr(c.CatalogDSN, "") }
