package roadsync

import (
	"os"
	"strconv"
	"strings"

	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/roadsync/source"
)

const (
	DefaultMaxCellSideKm     = 1.0
	DefaultMaxCellAreaKm2    = 1.0
	DefaultMinSegmentLengthM = 10.0
)

// Config holds configuration for the sync pipeline.
type Config struct {
	Source source.Config

	// MaxCellSideKm and MaxCellAreaKm2 are the per-request ceilings of the
	// external service. A zero value disables that ceiling.
	MaxCellSideKm  float64
	MaxCellAreaKm2 float64

	// MinSegmentLengthM is the shortest segment the splitter will produce.
	MinSegmentLengthM float64

	// ClassMapFile optionally overrides the highway to road class table.
	ClassMapFile string
}

// LoadConfigFromEnv loads pipeline configuration from environment variables.
//
// Environment variables:
//   - ROADSYNC_MAX_CELL_SIDE_KM (default: 1.0)
//   - ROADSYNC_MAX_CELL_AREA_KM2 (default: 1.0)
//   - ROADSYNC_MIN_SEGMENT_M (default: 10)
//   - ROADSYNC_CLASS_MAP_FILE: YAML file mapping highway values to classes
//
// plus everything read by source.LoadFromEnv.
func LoadConfigFromEnv() Config {
	return Config{
		Source:            source.LoadFromEnv(),
		MaxCellSideKm:     envFloat("ROADSYNC_MAX_CELL_SIDE_KM", DefaultMaxCellSideKm),
		MaxCellAreaKm2:    envFloat("ROADSYNC_MAX_CELL_AREA_KM2", DefaultMaxCellAreaKm2),
		MinSegmentLengthM: envFloat("ROADSYNC_MIN_SEGMENT_M", DefaultMinSegmentLengthM),
		ClassMapFile:      strings.TrimSpace(os.Getenv("ROADSYNC_CLASS_MAP_FILE")),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxCellSideKm <= 0 && c.MaxCellAreaKm2 <= 0 {
		return ErrBadCellLimits
	}
	if c.MinSegmentLengthM < 0 {
		return ErrBadSegmentLength
	}
	return c.Source.Validate()
}

// Limits converts the kilometre ceilings to partitioner limits.
func (c Config) Limits() geobox.Limits {
	return geobox.Limits{
		MaxSideMeters:   c.MaxCellSideKm * 1000,
		MaxAreaSqMeters: c.MaxCellAreaKm2 * 1e6,
	}
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return v
}
