package roadsync

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, cell geobox.GeoBox) ([]*osm.Way, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, cell geobox.GeoBox, maxRetries int) ([]*osm.Way, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(ctx, n, cell)
}

func (f *fakeFetcher) MaxRetries() int { return 3 }

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticFetcher(ways ...*osm.Way) *fakeFetcher {
	return &fakeFetcher{fn: func(ctx context.Context, call int, cell geobox.GeoBox) ([]*osm.Way, error) {
		return ways, nil
	}}
}

type memAssets struct {
	mu       sync.Mutex
	segs     map[int64][]RoadSegment
	others   []StoredRoad
	ward     string
	findErr  map[int64]error
	conflict map[int64]bool
}

func newMemAssets() *memAssets {
	return &memAssets{
		segs:     map[int64][]RoadSegment{},
		findErr:  map[int64]error{},
		conflict: map[int64]bool{},
	}
}

func (m *memAssets) FindRoadsIntersecting(ctx context.Context, box geobox.GeoBox) ([]StoredRoad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredRoad
	for _, segs := range m.segs {
		for _, s := range segs {
			if geobox.FromBound(orb.LineString(s.Geometry).Bound()).Intersects(box) {
				out = append(out, StoredRoad{ID: s.ID, ExternalID: s.ExternalID, Geometry: orb.LineString(s.Geometry)})
			}
		}
	}
	for _, r := range m.others {
		if geobox.FromBound(r.Geometry.Bound()).Intersects(box) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAssets) FindSegmentsByExternalID(ctx context.Context, externalID int64) ([]RoadSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.findErr[externalID]; err != nil {
		return nil, err
	}
	return append([]RoadSegment(nil), m.segs[externalID]...), nil
}

func (m *memAssets) ReplaceSegmentsForExternalID(ctx context.Context, externalID int64, segments []RoadSegment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict[externalID] {
		return 0, ErrManualEditConflict
	}
	for _, s := range m.segs[externalID] {
		if s.IsManuallyEdited {
			return 0, ErrManualEditConflict
		}
	}
	deleted := len(m.segs[externalID])
	m.segs[externalID] = append([]RoadSegment(nil), segments...)
	return deleted, nil
}

func (m *memAssets) FindAnyWardNear(ctx context.Context, box geobox.GeoBox) (string, bool, error) {
	return m.ward, m.ward != "", nil
}

func (m *memAssets) CountSyncedSegments(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, segs := range m.segs {
		for _, s := range segs {
			if s.ExternalID != nil {
				n++
			}
		}
	}
	return n, nil
}

func (m *memAssets) stored(externalID int64) []RoadSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RoadSegment(nil), m.segs[externalID]...)
}

type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]SyncRun
}

func newMemRuns() *memRuns { return &memRuns{runs: map[uuid.UUID]SyncRun{}} }

func (m *memRuns) CreateRun(ctx context.Context, run *SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) SetRunRegion(ctx context.Context, id uuid.UUID, region, bbox string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.Status != StatusRunning {
		return ErrRunNotRunning
	}
	r.Region = &region
	r.BboxParam = bbox
	m.runs[id] = r
	return nil
}

func (m *memRuns) FinishRun(ctx context.Context, run *SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[run.ID]
	if !ok || r.Status != StatusRunning {
		return ErrRunNotRunning
	}
	r.Status = run.Status
	r.CompletedAt = run.CompletedAt
	r.WaysFetched = run.WaysFetched
	r.SegmentsCreated = run.SegmentsCreated
	r.SegmentsReplaced = run.SegmentsReplaced
	r.SegmentsSkipped = run.SegmentsSkipped
	r.ErrorMessages = run.ErrorMessages
	r.ErrorMessage = run.ErrorMessage
	m.runs[run.ID] = r
	return nil
}

func (m *memRuns) GetRun(ctx context.Context, id uuid.UUID) (*SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &r, nil
}

func (m *memRuns) all() []SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SyncRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *memRuns) ListRuns(ctx context.Context, limit, offset int) ([]SyncRun, int64, error) {
	all := m.all()
	total := int64(len(all))
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memRuns) Summary(ctx context.Context) (RunSummary, error) {
	var out RunSummary
	for _, r := range m.all() {
		if r.Status == StatusRunning {
			out.RunningCount++
		}
		if !countsAsSynced(r.Status) {
			continue
		}
		if out.LastRunStartedAt == nil || r.StartedAt.After(*out.LastRunStartedAt) {
			t := r.StartedAt
			out.LastRunStartedAt = &t
		}
	}
	return out, nil
}

func (m *memRuns) LastRegionRun(ctx context.Context, region string) (*SyncRun, error) {
	var last *SyncRun
	for _, r := range m.all() {
		r := r
		if r.Region == nil || *r.Region != region || !countsAsSynced(r.Status) {
			continue
		}
		if last == nil || r.StartedAt.After(last.StartedAt) {
			last = &r
		}
	}
	return last, nil
}

func countsAsSynced(s RunStatus) bool {
	return s == StatusCompleted || s == StatusPartial
}

func (m *memRuns) AbandonRunning(ctx context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if r.Status == StatusRunning {
			r.Status = StatusPartial
			r.ErrorMessages = []string{reason}
			m.runs[id] = r
			n++
		}
	}
	return n, nil
}

type memBoundaries map[string]orb.Geometry

func (m memBoundaries) LoadRegionBoundary(ctx context.Context, name string) (orb.Geometry, error) {
	g, ok := m[name]
	if !ok {
		return nil, ErrRegionBoundaryNotFound
	}
	return g, nil
}

var testConfig = Config{
	MaxCellSideKm:     1,
	MaxCellAreaKm2:    1,
	MinSegmentLengthM: 10,
}

type harness struct {
	syncer  *Syncer
	fetcher *fakeFetcher
	assets  *memAssets
	runs    *memRuns
}

func newHarness(t *testing.T, f *fakeFetcher, bounds memBoundaries) *harness {
	t.Helper()
	h := &harness{fetcher: f, assets: newMemAssets(), runs: newMemRuns()}
	h.syncer = NewSyncer(Deps{
		Fetcher:    f,
		Assets:     h.assets,
		Runs:       h.runs,
		Boundaries: bounds,
	}, testConfig)
	t.Cleanup(h.syncer.Wait)
	return h
}

func testWay(id int64, tags map[string]string, pts ...orb.Point) *osm.Way {
	w := &osm.Way{ID: osm.WayID(id), Version: 1, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	for i, p := range pts {
		w.Nodes = append(w.Nodes, osm.WayNode{ID: osm.NodeID(id*100 + int64(i)), Lon: p.Lon(), Lat: p.Lat()})
	}
	for k, v := range tags {
		w.Tags = append(w.Tags, osm.Tag{Key: k, Value: v})
	}
	return w
}

// smallBox fits in a single cell under testConfig.
var smallBox = geobox.GeoBox{MinLng: 136.900, MinLat: 35.150, MaxLng: 136.905, MaxLat: 35.155}

// wideBox partitions into four cells under testConfig.
var wideBox = geobox.GeoBox{MinLng: 136.90, MinLat: 35.15, MaxLng: 136.92, MaxLat: 35.16}
