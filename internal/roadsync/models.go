package roadsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoadClass is the internal road classification.
type RoadClass string

const (
	RoadClassArterial  RoadClass = "arterial"
	RoadClassCollector RoadClass = "collector"
	RoadClassLocal     RoadClass = "local"
)

// LowestRoadClass is assigned to unmapped source classes.
const LowestRoadClass = RoadClassLocal

func (c RoadClass) Valid() bool {
	switch c {
	case RoadClassArterial, RoadClassCollector, RoadClassLocal:
		return true
	}
	return false
}

type Direction string

const (
	DirectionOneWay Direction = "one-way"
	DirectionTwoWay Direction = "two-way"
)

type DataOrigin string

const (
	OriginSync    DataOrigin = "sync"
	OriginManual  DataOrigin = "manual"
	OriginInitial DataOrigin = "initial"
)

// EditState is the one-way manual edit gate of a stored segment. Only the
// manual editing workflow moves a segment back to EditStateSynced.
type EditState int

const (
	EditStateSynced EditState = iota
	EditStateManual
)

// LineGeometry is a WGS84 LineString stored in a PostGIS geometry column.
// Reads must select ST_AsBinary(geometry).
type LineGeometry orb.LineString

func (g LineGeometry) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	return clause.Expr{
		SQL:  "ST_GeomFromWKB(?, 4326)",
		Vars: []interface{}{wkb.Value(orb.LineString(g))},
	}
}

func (g *LineGeometry) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*g = nil
		return nil
	case []byte:
		data = v
	case string:
		b, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("decode geometry hex: %w", err)
		}
		data = b
	default:
		return fmt.Errorf("unsupported geometry type: %T", value)
	}

	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("unmarshal geometry: %w", err)
	}
	ls, ok := geom.(orb.LineString)
	if !ok {
		return fmt.Errorf("geometry is %s, want LineString", geom.GeoJSONType())
	}
	*g = LineGeometry(ls)
	return nil
}

// RoadSegment is one stored road asset row. The pipeline only creates rows,
// deletes rows of a non-edited external id, or leaves them alone.
type RoadSegment struct {
	ID                   uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID           *int64       `gorm:"uniqueIndex:road_segments_external_segment,priority:1" json:"external_id,omitempty"`
	SegmentIndex         int          `gorm:"uniqueIndex:road_segments_external_segment,priority:2;not null" json:"segment_index"`
	Geometry             LineGeometry `gorm:"type:geometry(LineString,4326);not null" json:"geometry"`
	Name                 *string      `json:"name,omitempty"`
	NameLocal            *string      `json:"name_local,omitempty"`
	RouteRef             *string      `json:"route_ref,omitempty"`
	LocalRef             *string      `json:"local_ref,omitempty"`
	RoadClass            RoadClass    `gorm:"not null" json:"road_class"`
	LaneCount            int          `gorm:"not null;default:2" json:"lane_count"`
	Direction            Direction    `gorm:"not null;default:'two-way'" json:"direction"`
	Ward                 string       `gorm:"index" json:"ward"`
	DataOrigin           DataOrigin   `gorm:"not null;default:'manual'" json:"data_origin"`
	IsManuallyEdited     bool         `gorm:"not null;default:false" json:"is_manually_edited"`
	LastSyncedAt         *time.Time   `json:"last_synced_at,omitempty"`
	ExternalLastModified *time.Time   `json:"external_last_modified,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

func (RoadSegment) TableName() string { return "roadsync.road_segments" }

// EditState reports whether the segment is behind the manual edit gate.
func (s RoadSegment) EditState() EditState {
	if s.IsManuallyEdited {
		return EditStateManual
	}
	return EditStateSynced
}

// StoredRoad is the geometry-only view used as segmentation context.
type StoredRoad struct {
	ID         uuid.UUID
	ExternalID *int64
	Geometry   orb.LineString
}

type RunScope string

const (
	ScopeBBox   RunScope = "bbox"
	ScopeRegion RunScope = "region"
)

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool { return s != StatusRunning }

// SyncRun is the audit record of one run. Created as running, mutated once
// to a terminal status by the orchestrator that owns it.
type SyncRun struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Scope            RunScope       `gorm:"not null" json:"scope"`
	Region           *string        `gorm:"index" json:"region,omitempty"`
	BboxParam        string         `json:"bbox_param"`
	Status           RunStatus      `gorm:"not null;index" json:"status"`
	StartedAt        time.Time      `gorm:"not null;index" json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	WaysFetched      int            `gorm:"not null;default:0" json:"ways_fetched"`
	SegmentsCreated  int            `gorm:"not null;default:0" json:"segments_created"`
	SegmentsReplaced int            `gorm:"not null;default:0" json:"segments_replaced"`
	SegmentsSkipped  int            `gorm:"not null;default:0" json:"segments_skipped"`
	ErrorMessages    pq.StringArray `gorm:"type:text[]" json:"error_messages"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	TriggeredBy      string         `gorm:"not null" json:"triggered_by"`
}

func (SyncRun) TableName() string { return "roadsync.sync_runs" }

// SyncRunResult is returned to callers of a run: the final row plus cell
// accounting that is not persisted.
type SyncRunResult struct {
	SyncRun
	Cells       int `json:"cells"`
	CellsFailed int `json:"cells_failed"`
}

// SyncStatus is the dashboard/scheduler aggregate. LastRunStartedAt is the
// start of the newest completed or partial run.
type SyncStatus struct {
	RunningCount          int64      `json:"running_count"`
	LastRunStartedAt      *time.Time `json:"last_run_started_at,omitempty"`
	TotalSyncedAssetCount int64      `json:"total_synced_asset_count"`
}
