package roadsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
)

// UnassignedWard labels segments when no stored region is near the run's box.
const UnassignedWard = "unassigned"

// AssetStore is the road asset table as seen by the pipeline.
type AssetStore interface {
	// FindRoadsIntersecting returns stored roads whose geometry intersects box.
	FindRoadsIntersecting(ctx context.Context, box geobox.GeoBox) ([]StoredRoad, error)

	// FindSegmentsByExternalID returns the stored segments of one way,
	// ordered by segment index.
	FindSegmentsByExternalID(ctx context.Context, externalID int64) ([]RoadSegment, error)

	// ReplaceSegmentsForExternalID atomically deletes every stored segment of
	// externalID and inserts segments. It re-checks the manual edit flag in
	// the same transaction and returns ErrManualEditConflict when set. The
	// returned count is the number of rows deleted.
	ReplaceSegmentsForExternalID(ctx context.Context, externalID int64, segments []RoadSegment) (int, error)

	// FindAnyWardNear returns the ward label of any stored segment inside box.
	FindAnyWardNear(ctx context.Context, box geobox.GeoBox) (string, bool, error)

	// CountSyncedSegments counts segments carrying an external id.
	CountSyncedSegments(ctx context.Context) (int64, error)
}

// BoundaryStore resolves named region boundaries.
type BoundaryStore interface {
	// LoadRegionBoundary returns ErrRegionBoundaryNotFound when name is unknown.
	LoadRegionBoundary(ctx context.Context, name string) (orb.Geometry, error)
}

// RunSummary aggregates the run table.
type RunSummary struct {
	RunningCount     int64
	LastRunStartedAt *time.Time
}

// RunStore persists SyncRun audit rows.
type RunStore interface {
	CreateRun(ctx context.Context, run *SyncRun) error

	// SetRunRegion patches the resolved region label and bbox of a running run.
	SetRunRegion(ctx context.Context, id uuid.UUID, region, bbox string) error

	// FinishRun writes the terminal state. It returns ErrRunNotRunning when
	// the stored row has already left the running state.
	FinishRun(ctx context.Context, run *SyncRun) error

	GetRun(ctx context.Context, id uuid.UUID) (*SyncRun, error)

	// ListRuns returns runs newest first and the total row count.
	ListRuns(ctx context.Context, limit, offset int) ([]SyncRun, int64, error)

	Summary(ctx context.Context) (RunSummary, error)

	// LastRegionRun returns the most recently started completed or partial
	// run for region, or nil.
	LastRegionRun(ctx context.Context, region string) (*SyncRun, error)

	// AbandonRunning moves every running row to partial with reason. Used at
	// startup for runs orphaned by a previous process.
	AbandonRunning(ctx context.Context, reason string) (int64, error)
}
