package roadsync

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtymac/eventflow-sub004/internal/db"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"gorm.io/gorm"
)

// testDB is nil when DATABASE_URL is unset; integration tests then skip.
var testDB *gorm.DB

func TestMain(m *testing.M) {
	// Load .env.local from the repository root (two directories up).
	_ = godotenv.Load("../../.env.local")

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		d, err := db.Open(dsn)
		if err == nil && Migrate(d) == nil {
			testDB = d
		}
	}
	os.Exit(m.Run())
}

func requireDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test (requires DATABASE_URL)")
	}
	return testDB
}

// testExternalID picks an id far outside real OSM ids.
func testExternalID(t *testing.T, d *gorm.DB) int64 {
	t.Helper()
	id := int64(9_000_000_000_000) + rand.Int63n(1_000_000_000)
	t.Cleanup(func() {
		d.Where("external_id = ?", id).Delete(&RoadSegment{})
	})
	return id
}

func testSegments(ext int64, n int) []RoadSegment {
	c := RoadCandidate{ExternalID: ext, RoadClass: RoadClassLocal, LaneCount: 2, Direction: DirectionTwoWay, Ward: "test"}
	pieces := make([]orb.LineString, n)
	for i := range pieces {
		lng := 136.9 + float64(i)*0.001
		pieces[i] = orb.LineString{{lng, 35.15}, {lng + 0.001, 35.15}}
	}
	return c.Segments(pieces, time.Now().UTC())
}

func TestPGReplaceRoundTrip(t *testing.T) {
	d := requireDB(t)
	store := NewPGAssetStore(d)
	ctx := context.Background()
	ext := testExternalID(t, d)

	deleted, err := store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 3))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	segs, err := store.FindSegmentsByExternalID(ctx, ext)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.Equal(t, i, s.SegmentIndex)
		require.Len(t, s.Geometry, 2)
		assert.InDelta(t, 136.9+float64(i)*0.001, s.Geometry[0].Lon(), 1e-9)
	}

	roads, err := store.FindRoadsIntersecting(ctx, geobox.GeoBox{MinLng: 136.8995, MinLat: 35.1495, MaxLng: 136.9005, MaxLat: 35.1505})
	require.NoError(t, err)
	var found bool
	for _, r := range roads {
		if r.ExternalID != nil && *r.ExternalID == ext {
			found = true
		}
	}
	assert.True(t, found)

	deleted, err = store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}

func TestPGReplaceIsAtomicForReaders(t *testing.T) {
	d := requireDB(t)
	store := NewPGAssetStore(d)
	ctx := context.Background()
	ext := testExternalID(t, d)

	_, err := store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 3))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			segs, err := store.FindSegmentsByExternalID(ctx, ext)
			if !assert.NoError(t, err) {
				return
			}
			n := len(segs)
			assert.True(t, n == 2 || n == 3, "reader saw %d segments", n)
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 2+i%2))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestPGReplaceRechecksManualEdit(t *testing.T) {
	d := requireDB(t)
	store := NewPGAssetStore(d)
	ctx := context.Background()
	ext := testExternalID(t, d)

	_, err := store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 2))
	require.NoError(t, err)
	require.NoError(t, d.Model(&RoadSegment{}).
		Where("external_id = ? AND segment_index = 1", ext).
		Update("is_manually_edited", true).Error)

	_, err = store.ReplaceSegmentsForExternalID(ctx, ext, testSegments(ext, 1))
	assert.ErrorIs(t, err, ErrManualEditConflict)

	segs, err := store.FindSegmentsByExternalID(ctx, ext)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
	assert.Equal(t, GuardSkip, CheckManualEdits(segs))
}

func TestPGRunLifecycle(t *testing.T) {
	d := requireDB(t)
	runs := NewPGRunStore(d)
	ctx := context.Background()

	run := &SyncRun{
		ID:          uuid.New(),
		Scope:       ScopeRegion,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
		TriggeredBy: "integration-test",
	}
	t.Cleanup(func() { d.Where("id = ?", run.ID).Delete(&SyncRun{}) })
	require.NoError(t, runs.CreateRun(ctx, run))

	region := "test-region-" + run.ID.String()[:8]
	require.NoError(t, runs.SetRunRegion(ctx, run.ID, region, "1,2,3,4"))

	done := time.Now().UTC()
	run.Status = StatusPartial
	run.CompletedAt = &done
	run.SegmentsCreated = 4
	run.ErrorMessages = []string{"cell 0: boom", "way 1: replace: boom"}
	require.NoError(t, runs.FinishRun(ctx, run))
	assert.ErrorIs(t, runs.FinishRun(ctx, run), ErrRunNotRunning)

	got, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, got.Status)
	require.NotNil(t, got.Region)
	assert.Equal(t, region, *got.Region)
	assert.Equal(t, "1,2,3,4", got.BboxParam)
	assert.Equal(t, 4, got.SegmentsCreated)
	assert.Equal(t, []string{"cell 0: boom", "way 1: replace: boom"}, []string(got.ErrorMessages))

	last, err := runs.LastRegionRun(ctx, region)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)

	_, err = runs.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPGBoundaryStore(t *testing.T) {
	d := requireDB(t)
	ctx := context.Background()
	name := "test-boundary-" + uuid.NewString()[:8]
	t.Cleanup(func() { d.Exec(`DELETE FROM roadsync.region_boundaries WHERE name = ?`, name) })

	require.NoError(t, d.Exec(`
		INSERT INTO roadsync.region_boundaries (name, geometry)
		VALUES (?, ST_Multi(ST_GeomFromText('POLYGON((136.9 35.15, 136.95 35.15, 136.95 35.2, 136.9 35.2, 136.9 35.15))', 4326)))
	`, name).Error)

	store := NewPGBoundaryStore(d)
	geom, err := store.LoadRegionBoundary(ctx, name)
	require.NoError(t, err)
	b := geom.Bound()
	assert.InDelta(t, 136.9, b.Min.Lon(), 1e-9)
	assert.InDelta(t, 35.2, b.Max.Lat(), 1e-9)

	_, err = store.LoadRegionBoundary(ctx, name+"-missing")
	assert.ErrorIs(t, err, ErrRegionBoundaryNotFound)
}
