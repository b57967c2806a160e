package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/osm"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
)

var (
	ErrUnknownSource = errors.New("unknown way source")
	ErrMissingURL    = errors.New("OVERPASS_URL must be set")
	ErrBadRetries    = errors.New("OVERPASS_MAX_RETRIES must be at least 1")
)

// WaySource is implemented by every external road-network provider.
// One call is one external request; retrying and pacing are the Fetcher's job.
type WaySource interface {
	// Name returns the source name for logging purposes.
	Name() string

	// FetchWays returns the routable ways intersecting box. Failures should be
	// *ExternalServiceError so the Fetcher can decide whether to retry.
	FetchWays(ctx context.Context, box geobox.GeoBox) ([]*osm.Way, error)
}

var registry = make(map[string]func(Config) (WaySource, error))

// Register adds a source constructor. Call from init() in the source package.
func Register(name string, constructor func(Config) (WaySource, error)) {
	registry[name] = constructor
}

// New builds the source selected by cfg.Source.
func New(cfg Config) (WaySource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	constructor, ok := registry[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, cfg.Source)
	}
	return constructor(cfg)
}
