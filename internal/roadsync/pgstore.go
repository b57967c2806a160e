package roadsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"gorm.io/gorm"
)

// segmentColumns selects every RoadSegment column with geometry as WKB.
const segmentColumns = `id, external_id, segment_index, ST_AsBinary(geometry) AS geometry,
	name, name_local, route_ref, local_ref, road_class, lane_count, direction, ward,
	data_origin, is_manually_edited, last_synced_at, external_last_modified,
	created_at, updated_at`

// PGAssetStore is the PostGIS road asset table.
type PGAssetStore struct {
	db *gorm.DB
}

func NewPGAssetStore(d *gorm.DB) *PGAssetStore { return &PGAssetStore{db: d} }

func (s *PGAssetStore) FindRoadsIntersecting(ctx context.Context, box geobox.GeoBox) ([]StoredRoad, error) {
	query := `
		SELECT id, external_id, ST_AsBinary(geometry)
		FROM roadsync.road_segments
		WHERE geometry && ST_MakeEnvelope(?, ?, ?, ?, 4326)
	`
	rows, err := s.db.WithContext(ctx).Raw(query, box.MinLng, box.MinLat, box.MaxLng, box.MaxLat).Rows()
	if err != nil {
		return nil, fmt.Errorf("nearby roads query failed: %w", err)
	}
	defer rows.Close()

	var roads []StoredRoad
	for rows.Next() {
		var (
			r    StoredRoad
			ext  *int64
			geom LineGeometry
		)
		if err := rows.Scan(&r.ID, &ext, &geom); err != nil {
			return nil, fmt.Errorf("scan nearby road: %w", err)
		}
		r.ExternalID = ext
		r.Geometry = orb.LineString(geom)
		roads = append(roads, r)
	}
	return roads, rows.Err()
}

func (s *PGAssetStore) FindSegmentsByExternalID(ctx context.Context, externalID int64) ([]RoadSegment, error) {
	var segs []RoadSegment
	err := s.db.WithContext(ctx).
		Select(segmentColumns).
		Where("external_id = ?", externalID).
		Order("segment_index").
		Find(&segs).Error
	if err != nil {
		return nil, fmt.Errorf("load segments for %d: %w", externalID, err)
	}
	return segs, nil
}

func (s *PGAssetStore) ReplaceSegmentsForExternalID(ctx context.Context, externalID int64, segments []RoadSegment) (int, error) {
	var deleted int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialise writers of the same way across processes.
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtextextended(?, 0))`,
			fmt.Sprintf("roadsync.way.%d", externalID)).Error; err != nil {
			return fmt.Errorf("lock way: %w", err)
		}

		var flags []bool
		if err := tx.Raw(`
			SELECT is_manually_edited
			FROM roadsync.road_segments
			WHERE external_id = ?
			FOR UPDATE
		`, externalID).Scan(&flags).Error; err != nil {
			return fmt.Errorf("recheck manual edits: %w", err)
		}
		for _, edited := range flags {
			if edited {
				return ErrManualEditConflict
			}
		}

		res := tx.Where("external_id = ?", externalID).Delete(&RoadSegment{})
		if res.Error != nil {
			return fmt.Errorf("delete segments: %w", res.Error)
		}
		deleted = int(res.RowsAffected)

		if len(segments) == 0 {
			return nil
		}
		if err := tx.Create(&segments).Error; err != nil {
			return fmt.Errorf("insert segments: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *PGAssetStore) FindAnyWardNear(ctx context.Context, box geobox.GeoBox) (string, bool, error) {
	var ward string
	err := s.db.WithContext(ctx).Raw(`
		SELECT ward
		FROM roadsync.road_segments
		WHERE geometry && ST_MakeEnvelope(?, ?, ?, ?, 4326)
		  AND ward <> '' AND ward <> ?
		LIMIT 1
	`, box.MinLng, box.MinLat, box.MaxLng, box.MaxLat, UnassignedWard).Row().Scan(&ward)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ward lookup: %w", err)
	}
	return ward, true, nil
}

func (s *PGAssetStore) CountSyncedSegments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RoadSegment{}).Where("external_id IS NOT NULL").Count(&n).Error
	return n, err
}

// PGBoundaryStore reads roadsync.region_boundaries.
type PGBoundaryStore struct {
	db *gorm.DB
}

func NewPGBoundaryStore(d *gorm.DB) *PGBoundaryStore { return &PGBoundaryStore{db: d} }

func (s *PGBoundaryStore) LoadRegionBoundary(ctx context.Context, name string) (orb.Geometry, error) {
	var data []byte
	err := s.db.WithContext(ctx).
		Raw(`SELECT ST_AsBinary(geometry) FROM roadsync.region_boundaries WHERE name = ?`, name).
		Row().Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegionBoundaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("boundary query failed: %w", err)
	}
	geom, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode boundary %q: %w", name, err)
	}
	return geom, nil
}

// PGRunStore persists SyncRun rows.
type PGRunStore struct {
	db *gorm.DB
}

func NewPGRunStore(d *gorm.DB) *PGRunStore { return &PGRunStore{db: d} }

func (s *PGRunStore) CreateRun(ctx context.Context, run *SyncRun) error {
	if run.ErrorMessages == nil {
		run.ErrorMessages = pq.StringArray{}
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *PGRunStore) SetRunRegion(ctx context.Context, id uuid.UUID, region, bbox string) error {
	res := s.db.WithContext(ctx).Model(&SyncRun{}).
		Where("id = ? AND status = ?", id, StatusRunning).
		Updates(map[string]interface{}{"region": region, "bbox_param": bbox})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func (s *PGRunStore) FinishRun(ctx context.Context, run *SyncRun) error {
	msgs := run.ErrorMessages
	if msgs == nil {
		msgs = pq.StringArray{}
	}
	res := s.db.WithContext(ctx).Model(&SyncRun{}).
		Where("id = ? AND status = ?", run.ID, StatusRunning).
		Updates(map[string]interface{}{
			"status":            run.Status,
			"completed_at":      run.CompletedAt,
			"ways_fetched":      run.WaysFetched,
			"segments_created":  run.SegmentsCreated,
			"segments_replaced": run.SegmentsReplaced,
			"segments_skipped":  run.SegmentsSkipped,
			"error_messages":    msgs,
			"error_message":     run.ErrorMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func (s *PGRunStore) GetRun(ctx context.Context, id uuid.UUID) (*SyncRun, error) {
	var run SyncRun
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PGRunStore) ListRuns(ctx context.Context, limit, offset int) ([]SyncRun, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	runs := []SyncRun{}
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	return runs, total, err
}

func (s *PGRunStore) Summary(ctx context.Context) (RunSummary, error) {
	var out RunSummary
	if err := s.db.WithContext(ctx).Model(&SyncRun{}).
		Where("status = ?", StatusRunning).
		Count(&out.RunningCount).Error; err != nil {
		return out, err
	}

	var last sql.NullTime
	if err := s.db.WithContext(ctx).
		Raw(`SELECT MAX(started_at) FROM roadsync.sync_runs WHERE status IN (?, ?)`, StatusCompleted, StatusPartial).
		Row().Scan(&last); err != nil {
		return out, err
	}
	if last.Valid {
		t := last.Time
		out.LastRunStartedAt = &t
	}
	return out, nil
}

func (s *PGRunStore) LastRegionRun(ctx context.Context, region string) (*SyncRun, error) {
	var runs []SyncRun
	err := s.db.WithContext(ctx).
		Where("region = ? AND status IN ?", region, []RunStatus{StatusCompleted, StatusPartial}).
		Order("started_at DESC").
		Limit(1).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *PGRunStore) AbandonRunning(ctx context.Context, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&SyncRun{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]interface{}{
			"status":         StatusPartial,
			"completed_at":   time.Now().UTC(),
			"error_messages": pq.StringArray{reason},
			"error_message":  reason,
		})
	return res.RowsAffected, res.Error
}
