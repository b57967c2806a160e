package source

import (
	"context"
	"time"

	"github.com/paulmach/osm"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/metrics"
)

// Fetcher issues one query per cell through a WaySource, pacing every
// dispatch through a RequestGate and retrying throttled or timed-out
// attempts with linearly increasing backoff (attempt n waits n × base).
type Fetcher struct {
	source      WaySource
	gate        RequestGate
	baseBackoff time.Duration
	maxRetries  int

	// sleep waits out a backoff; tests swap it to record waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher wires a source to a gate using the retry settings in cfg.
func NewFetcher(src WaySource, gate RequestGate, cfg Config) *Fetcher {
	if gate == nil {
		gate = NewIntervalGate(cfg.MinInterval)
	}
	return &Fetcher{
		source:      src,
		gate:        gate,
		baseBackoff: cfg.BaseBackoff,
		maxRetries:  cfg.MaxRetries,
		sleep:       sleepCtx,
	}
}

// SourceName returns the wrapped source's name.
func (f *Fetcher) SourceName() string { return f.source.Name() }

// MaxRetries is the configured attempt ceiling.
func (f *Fetcher) MaxRetries() int { return f.maxRetries }

// Fetch returns the ways for cell. After maxRetries attempts, or on the first
// non-retryable failure, it returns an *ExternalServiceError carrying the
// last observed kind. Context cancellation is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, cell geobox.GeoBox, maxRetries int) ([]*osm.Way, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var last *ExternalServiceError
	attempts := 0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := f.gate.Await(ctx); err != nil {
			return nil, err
		}
		attempts = attempt
		LogRequest(f.source.Name(), cell, attempt)

		ways, err := f.source.FetchWays(ctx, cell)
		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues("ok").Inc()
			return ways, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		last = Classify(err)
		metrics.FetchAttemptsTotal.WithLabelValues(string(last.Kind)).Inc()
		if !last.Kind.Retryable() || attempt == maxRetries {
			break
		}

		wait := time.Duration(attempt) * f.baseBackoff
		LogBackoff(f.source.Name(), last.Kind, attempt, wait, cell)
		metrics.FetchBackoffSeconds.Observe(wait.Seconds())
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	final := *last
	final.Attempts = attempts
	LogError(f.source.Name(), "fetch "+cell.String(), &final)
	return nil, &final
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
