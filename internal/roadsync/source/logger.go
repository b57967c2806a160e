package source

import (
	"time"

	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/logging"
)

// LogRequest logs an external request being dispatched. attempt counts from 1.
func LogRequest(source string, box geobox.GeoBox, attempt int) {
	logging.Debug().Str("source", source).Str("bbox", box.String()).
		Int("attempt", attempt).Msg("external request")
}

// LogResponse logs an external response received.
func LogResponse(source string, statusCode int, duration time.Duration, resultCount int) {
	logging.Debug().Str("source", source).Int("status", statusCode).
		Int64("duration_ms", duration.Milliseconds()).Int("results", resultCount).Msg("external response")
}

// LogError logs an error from an external operation.
func LogError(source, operation string, err error) {
	logging.Warn().Str("source", source).Str("operation", operation).Err(err).Msg("external request failed")
}

// LogBackoff logs a retry wait. Rate limiting and timeouts get distinct
// messages so throttling is visible apart from slow queries.
func LogBackoff(source string, kind ErrorKind, attempt int, wait time.Duration, box geobox.GeoBox) {
	msg := "external service timed out, retrying"
	if kind == RateLimited {
		msg = "external service rate limited (HTTP 429), retrying"
	}
	logging.Warn().Str("source", source).Str("kind", string(kind)).Int("attempt", attempt).
		Dur("retry_delay", wait).Str("bbox", box.String()).Msg(msg)
}
