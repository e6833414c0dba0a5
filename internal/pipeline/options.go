package pipeline

import (
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/config"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
)

// FromPipelineConfig builds a run Config from file settings.
func FromPipelineConfig(pc *config.PipelineConfig, enricher *metadata.Enricher) (Config, error) {
	if pc == nil {
		pc = config.Empty()
	}
	reducer, err := align.ParseReducer(pc.GetReducer())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Enricher:     enricher,
		Reducer:      reducer,
		Strict:       pc.GetStrict(),
		Workers:      pc.GetWorkers(),
		RunTimeout:   pc.GetRunTimeout(),
		WriteRetries: pc.GetWriteRetries(),
		Calibration:  pc.GetCalibration(),
		Quicklook:    pc.GetQuicklook(),
		RoundStart:   pc.GetRoundStart(),
		OutputDir:    pc.GetOutputDir(),
	}, nil
}

// EnricherConfig returns the metadata retry settings of pc.
func EnricherConfig(pc *config.PipelineConfig) metadata.EnricherConfig {
	if pc == nil {
		pc = config.Empty()
	}
	return metadata.EnricherConfig{
		Retries:       pc.GetMetadataRetries(),
		Backoff:       pc.GetMetadataBackoff(),
		LookupTimeout: pc.GetLookupTimeout(),
	}
}
