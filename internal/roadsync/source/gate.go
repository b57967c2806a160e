package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RequestGate paces dispatches to the external service. Await blocks until
// the next request may be sent or ctx is done.
type RequestGate interface {
	Await(ctx context.Context) error
}

// IntervalGate enforces a minimum interval between any two dispatches,
// whichever cell or run they belong to. It is safe for concurrent use, so one
// gate can be shared by every orchestrator drawing on the same quota.
type IntervalGate struct {
	limiter *rate.Limiter
}

// NewIntervalGate returns a gate allowing one request per min interval.
// A non-positive interval disables pacing.
func NewIntervalGate(min time.Duration) *IntervalGate {
	limit := rate.Inf
	if min > 0 {
		limit = rate.Every(min)
	}
	return &IntervalGate{limiter: rate.NewLimiter(limit, 1)}
}

func (g *IntervalGate) Await(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
