package roadsync

import (
	"errors"
	"fmt"
)

var (
	// ErrRegionBoundaryNotFound is fatal for a region-scoped run and is
	// surfaced before any fetch.
	ErrRegionBoundaryNotFound = errors.New("region boundary not found")

	// ErrManualEditConflict means at least one stored segment for the external
	// id is hand-edited. It is a skip outcome, never a run failure.
	ErrManualEditConflict = errors.New("external id has manually edited segments")

	// ErrNotRoutable rejects ways with fewer than two distinct vertices.
	ErrNotRoutable = errors.New("way is not routable")

	ErrRunOverlaps   = errors.New("an active run already covers an overlapping bbox")
	ErrRunNotFound   = errors.New("sync run not found")
	ErrRunNotRunning = errors.New("sync run is not running")
	ErrEmptyRegion   = errors.New("region name is required")

	ErrBadCellLimits    = errors.New("ROADSYNC_MAX_CELL_SIDE_KM or ROADSYNC_MAX_CELL_AREA_KM2 must be positive")
	ErrBadSegmentLength = errors.New("ROADSYNC_MIN_SEGMENT_M must not be negative")
	ErrUnknownRoadClass = errors.New("unknown road class")
)

// WayProcessingError isolates the failure of one way. The run records it
// and continues with the next way.
type WayProcessingError struct {
	ExternalID int64
	Stage      string
	Err        error
}

func (e *WayProcessingError) Error() string {
	return fmt.Sprintf("way %d: %s: %v", e.ExternalID, e.Stage, e.Err)
}

func (e *WayProcessingError) Unwrap() error { return e.Err }
