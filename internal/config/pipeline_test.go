package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()
	assert.Equal(t, 5*time.Minute, cfg.GetWindow())
	assert.Equal(t, "mean", cfg.GetReducer())
	assert.False(t, cfg.GetStrict())
	assert.Equal(t, 1, cfg.GetWorkers())
	assert.Zero(t, cfg.GetRunTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetLookupTimeout())
	assert.Equal(t, 2, cfg.GetMetadataRetries())
	assert.Equal(t, 500*time.Millisecond, cfg.GetMetadataBackoff())
	assert.Equal(t, 1, cfg.GetWriteRetries())
	assert.False(t, cfg.GetCalibration())
	assert.False(t, cfg.GetQuicklook())
	assert.False(t, cfg.GetRoundStart())
	assert.Equal(t, ".", cfg.GetOutputDir())
	assert.Empty(t, cfg.GetMetadataDB())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "pipeline.json", `{
		"window": "1m",
		"reducer": "MAX",
		"strict": true,
		"workers": 4,
		"run_timeout": "2h",
		"metadata_retries": 0,
		"calibration": true,
		"output_dir": "/srv/scc",
		"metadata_db": "stations.db"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.GetWindow())
	assert.Equal(t, "max", cfg.GetReducer())
	assert.True(t, cfg.GetStrict())
	assert.Equal(t, 4, cfg.GetWorkers())
	assert.Equal(t, 2*time.Hour, cfg.GetRunTimeout())
	assert.Equal(t, 0, cfg.GetMetadataRetries())
	assert.True(t, cfg.GetCalibration())
	assert.Equal(t, "/srv/scc", cfg.GetOutputDir())
	assert.Equal(t, "stations.db", cfg.GetMetadataDB())
	// unset fields keep defaults
	assert.Equal(t, 1, cfg.GetWriteRetries())
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "pipeline.yaml", `{}`, ".json extension"},
		{"syntax", "pipeline.json", `{"window": }`, "parse"},
		{"unknown field", "pipeline.json", `{"windw": "5m"}`, "parse"},
		{"bad duration", "pipeline.json", `{"window": "five"}`, "invalid window"},
		{"zero window", "pipeline.json", `{"window": "0s"}`, "window must be positive"},
		{"reducer", "pipeline.json", `{"reducer": "median"}`, "reducer"},
		{"workers", "pipeline.json", `{"workers": 0}`, "workers"},
		{"retries", "pipeline.json", `{"write_retries": -1}`, "write_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(path, make([]byte, maxFileSize+1), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestApplyEnv(t *testing.T) {
	envFile := writeFile(t, "test.env", "POLLYXT_METADATA_URL=https://catalog.example/stations\nPOLLYXT_WORKERS=3\n")
	t.Setenv(EnvMetadataDB, "/var/lib/pollyxt/stations.db")
	// godotenv does not override variables that are already set
	t.Setenv(EnvMetadataURL, "")
	os.Unsetenv(EnvMetadataURL)
	t.Setenv(EnvWorkers, "")
	os.Unsetenv(EnvWorkers)

	cfg := &PipelineConfig{MetadataDB: PtrString("from-file.db")}
	require.NoError(t, cfg.ApplyEnv(envFile))
	assert.Equal(t, "https://catalog.example/stations", cfg.GetMetadataURL())
	assert.Equal(t, "/var/lib/pollyxt/stations.db", cfg.GetMetadataDB())
	assert.Equal(t, 3, cfg.GetWorkers())
}

func TestApplyEnv_MissingFileIsFine(t *testing.T) {
	t.Setenv(EnvWorkers, "nope")
	cfg := Empty()
	err := cfg.ApplyEnv(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvWorkers)
}
