package roadsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
	"github.com/rs/zerolog"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/metrics"
)

// CellFetcher fetches the ways of one cell with retries.
type CellFetcher interface {
	Fetch(ctx context.Context, cell geobox.GeoBox, maxRetries int) ([]*osm.Way, error)
	MaxRetries() int
}

// Syncer drives sync runs. Runs in one process share the fetcher and so its
// request gate.
type Syncer struct {
	fetcher    CellFetcher
	assets     AssetStore
	runs       RunStore
	boundaries BoundaryStore
	normalizer *Normalizer
	segmenter  Segmenter
	limits     geobox.Limits
	now        func() time.Time
	log        zerolog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	box    *geobox.GeoBox
	cancel context.CancelFunc
}

// Deps are the collaborators of a Syncer.
type Deps struct {
	Fetcher    CellFetcher
	Assets     AssetStore
	Runs       RunStore
	Boundaries BoundaryStore
	Normalizer *Normalizer
}

// NewSyncer builds a Syncer. A nil Normalizer uses the built-in class table.
func NewSyncer(deps Deps, cfg Config) *Syncer {
	n := deps.Normalizer
	if n == nil {
		n = NewNormalizer(nil)
	}
	return &Syncer{
		fetcher:    deps.Fetcher,
		assets:     deps.Assets,
		runs:       deps.Runs,
		boundaries: deps.Boundaries,
		normalizer: n,
		segmenter:  Segmenter{MinLength: cfg.MinSegmentLengthM},
		limits:     cfg.Limits(),
		now:        time.Now,
		log:        logging.Component("roadsync"),
		active:     make(map[uuid.UUID]*activeRun),
	}
}

// RunBboxSync synchronises box and returns the finished run.
func (s *Syncer) RunBboxSync(ctx context.Context, box geobox.GeoBox, triggeredBy string) (*SyncRunResult, error) {
	run, runCtx, err := s.begin(ctx, ScopeBBox, &box, triggeredBy)
	if err != nil {
		return nil, err
	}
	return s.complete(runCtx, run, box, "")
}

// RunRegionSync synchronises the bbox of a stored region boundary. An
// unknown region finishes the run as failed and returns an error wrapping
// ErrRegionBoundaryNotFound.
func (s *Syncer) RunRegionSync(ctx context.Context, region, triggeredBy string) (*SyncRunResult, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, ErrEmptyRegion
	}
	run, runCtx, err := s.begin(ctx, ScopeRegion, nil, triggeredBy)
	if err != nil {
		return nil, err
	}
	return s.completeRegion(runCtx, run, region)
}

// StartBboxSync creates the run row and executes it in the background.
// The returned run is a snapshot in the running state.
func (s *Syncer) StartBboxSync(box geobox.GeoBox, triggeredBy string) (*SyncRun, error) {
	run, runCtx, err := s.begin(context.Background(), ScopeBBox, &box, triggeredBy)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	s.background(func() {
		_, _ = s.complete(runCtx, run, box, "")
	})
	return &snapshot, nil
}

// StartRegionSync is the background form of RunRegionSync.
func (s *Syncer) StartRegionSync(region, triggeredBy string) (*SyncRun, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, ErrEmptyRegion
	}
	run, runCtx, err := s.begin(context.Background(), ScopeRegion, nil, triggeredBy)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	s.background(func() {
		_, _ = s.completeRegion(runCtx, run, region)
	})
	return &snapshot, nil
}

// Cancel stops an active run of this process. The run finishes as partial.
func (s *Syncer) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	a, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	a.cancel()
	return nil
}

// Wait blocks until every background run has finished.
func (s *Syncer) Wait() { s.wg.Wait() }

// GetSyncStatus aggregates the run and asset tables.
func (s *Syncer) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	summary, err := s.runs.Summary(ctx)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("run summary: %w", err)
	}
	count, err := s.assets.CountSyncedSegments(ctx)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("count synced segments: %w", err)
	}
	return SyncStatus{
		RunningCount:          summary.RunningCount,
		LastRunStartedAt:      summary.LastRunStartedAt,
		TotalSyncedAssetCount: count,
	}, nil
}

// ListSyncRuns returns runs newest first with the total count.
func (s *Syncer) ListSyncRuns(ctx context.Context, limit, offset int) ([]SyncRun, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.runs.ListRuns(ctx, limit, offset)
}

func (s *Syncer) GetSyncRun(ctx context.Context, id uuid.UUID) (*SyncRun, error) {
	return s.runs.GetRun(ctx, id)
}

// NeedsResync reports whether region has no completed or partial run
// started within maxAge.
func (s *Syncer) NeedsResync(ctx context.Context, region string, maxAge time.Duration) (bool, error) {
	last, err := s.runs.LastRegionRun(ctx, region)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return s.now().Sub(last.StartedAt) > maxAge, nil
}

func (s *Syncer) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// begin reserves the run in this process and persists the running row.
// A bbox run is rejected before any row exists when it overlaps an active
// run.
func (s *Syncer) begin(parent context.Context, scope RunScope, box *geobox.GeoBox, triggeredBy string) (*SyncRun, context.Context, error) {
	if box != nil {
		if err := box.Validate(); err != nil {
			return nil, nil, err
		}
	}

	run := &SyncRun{
		ID:          uuid.New(),
		Scope:       scope,
		Status:      StatusRunning,
		StartedAt:   s.now().UTC(),
		TriggeredBy: triggeredBy,
	}
	if box != nil {
		run.BboxParam = box.String()
	}

	ctx, cancel := context.WithCancel(parent)
	if err := s.reserve(run.ID, box, cancel); err != nil {
		cancel()
		return nil, nil, err
	}

	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.release(run.ID)
		return nil, nil, fmt.Errorf("create sync run: %w", err)
	}

	metrics.RunsRunning.Inc()
	s.log.Info().
		Str("run_id", run.ID.String()).
		Str("scope", string(scope)).
		Str("bbox", run.BboxParam).
		Str("triggered_by", triggeredBy).
		Msg("sync run started")
	return run, ctx, nil
}

func (s *Syncer) reserve(id uuid.UUID, box *geobox.GeoBox, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if box != nil {
		if err := s.checkOverlapLocked(id, *box); err != nil {
			return err
		}
	}
	s.active[id] = &activeRun{box: box, cancel: cancel}
	return nil
}

// claim attaches a resolved box to a reserved run.
func (s *Syncer) claim(id uuid.UUID, box geobox.GeoBox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOverlapLocked(id, box); err != nil {
		return err
	}
	if a, ok := s.active[id]; ok {
		a.box = &box
	}
	return nil
}

func (s *Syncer) checkOverlapLocked(id uuid.UUID, box geobox.GeoBox) error {
	for otherID, a := range s.active {
		if otherID == id || a.box == nil {
			continue
		}
		if a.box.Intersects(box) {
			return fmt.Errorf("%w: run %s", ErrRunOverlaps, otherID)
		}
	}
	return nil
}

func (s *Syncer) release(id uuid.UUID) {
	s.mu.Lock()
	a, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if ok {
		a.cancel()
	}
}

// completeRegion resolves the region bbox, then runs it.
func (s *Syncer) completeRegion(ctx context.Context, run *SyncRun, region string) (*SyncRunResult, error) {
	box, err := s.resolveRegion(ctx, region)
	if err == nil {
		err = s.claim(run.ID, box)
	}
	if err == nil {
		err = s.runs.SetRunRegion(ctx, run.ID, region, box.String())
	}
	if err != nil {
		defer s.release(run.ID)
		res := &SyncRunResult{SyncRun: *run}
		res.Status = StatusFailed
		res.ErrorMessages = []string{err.Error()}
		s.finish(ctx, &res.SyncRun)
		return res, err
	}

	run.Region = &region
	run.BboxParam = box.String()
	return s.complete(ctx, run, box, region)
}

func (s *Syncer) resolveRegion(ctx context.Context, region string) (geobox.GeoBox, error) {
	geom, err := s.boundaries.LoadRegionBoundary(ctx, region)
	if err != nil {
		if errors.Is(err, ErrRegionBoundaryNotFound) {
			return geobox.GeoBox{}, fmt.Errorf("region %q: %w", region, err)
		}
		return geobox.GeoBox{}, fmt.Errorf("load region %q: %w", region, err)
	}
	if geom == nil {
		return geobox.GeoBox{}, fmt.Errorf("region %q: %w", region, ErrRegionBoundaryNotFound)
	}
	return geobox.FromBound(geom.Bound()), nil
}

// complete executes a reserved run and persists its terminal state.
func (s *Syncer) complete(ctx context.Context, run *SyncRun, box geobox.GeoBox, ward string) (*SyncRunResult, error) {
	defer s.release(run.ID)
	res := s.execute(ctx, run, box, ward)
	s.finish(ctx, &res.SyncRun)
	return res, nil
}

func (s *Syncer) execute(ctx context.Context, run *SyncRun, box geobox.GeoBox, ward string) *SyncRunResult {
	res := &SyncRunResult{SyncRun: *run}
	var errs []string

	cells := geobox.Partition(box, s.limits)
	res.Cells = len(cells)
	if len(cells) == 0 {
		s.log.Warn().Err(geobox.ErrDegenerate).Str("run_id", run.ID.String()).Str("bbox", box.String()).Msg("nothing to fetch")
	}

	var fetched []*osm.Way
	for i, cell := range cells {
		if ctx.Err() != nil {
			break
		}
		ways, err := s.fetcher.Fetch(ctx, cell, s.fetcher.MaxRetries())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			res.CellsFailed++
			errs = append(errs, fmt.Sprintf("cell %d %s: %v", i, cell, err))
			s.log.Warn().Err(err).Str("run_id", run.ID.String()).Str("cell", cell.String()).Msg("cell fetch failed")
			continue
		}
		fetched = append(fetched, ways...)
	}

	unique := dedupeWays(fetched)
	res.WaysFetched = len(unique)

	if ward == "" && len(unique) > 0 && ctx.Err() == nil {
		ward = s.wardNear(ctx, box, &errs)
	}

	// Every way is guarded and normalized before any is written, so each
	// candidate is segmented against the whole batch whatever the fetch order.
	pending := make([]*pendingWay, 0, len(unique))
	for _, way := range unique {
		if ctx.Err() != nil {
			break
		}
		p, out, err := s.prepareWay(ctx, way, ward)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, err.Error())
			s.log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("way failed")
			continue
		}
		res.SegmentsSkipped += out.skipped
		if p != nil {
			pending = append(pending, p)
		}
	}

	batch := make(map[int64]struct{}, len(pending))
	for _, p := range pending {
		batch[p.cand.ExternalID] = struct{}{}
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		out, err := s.writeWay(ctx, p, pending, batch)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, err.Error())
			s.log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("way failed")
			continue
		}
		res.SegmentsCreated += out.created
		res.SegmentsReplaced += out.replaced
		res.SegmentsSkipped += out.skipped
	}

	cancelled := ctx.Err() != nil
	if cancelled {
		errs = append(errs, "cancelled: "+context.Cause(ctx).Error())
	}

	switch {
	case cancelled:
		res.Status = StatusPartial
	case res.Cells > 0 && res.CellsFailed == res.Cells:
		res.Status = StatusFailed
	case len(errs) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusCompleted
	}
	res.ErrorMessages = errs
	return res
}

func (s *Syncer) wardNear(ctx context.Context, box geobox.GeoBox, errs *[]string) string {
	ward, ok, err := s.assets.FindAnyWardNear(ctx, box)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("resolve ward: %v", err))
		return UnassignedWard
	}
	if !ok || ward == "" {
		return UnassignedWard
	}
	return ward
}

type wayOutcome struct {
	created, replaced, skipped int
}

// pendingWay is a guarded, normalized way waiting to be segmented and
// written.
type pendingWay struct {
	cand     RoadCandidate
	bound    orb.Bound
	existing int
}

func recoverWay(id int64, err *error) {
	if r := recover(); r != nil {
		*err = &WayProcessingError{ExternalID: id, Stage: "panic", Err: fmt.Errorf("%v", r)}
	}
}

// prepareWay runs the guard and the normalizer. A nil pendingWay means the
// way was skipped and out says how many segments that counts for.
func (s *Syncer) prepareWay(ctx context.Context, way *osm.Way, ward string) (p *pendingWay, out wayOutcome, err error) {
	id := int64(way.ID)
	defer recoverWay(id, &err)

	existing, err := s.assets.FindSegmentsByExternalID(ctx, id)
	if err != nil {
		return nil, out, &WayProcessingError{ExternalID: id, Stage: "load existing", Err: err}
	}
	if CheckManualEdits(existing) == GuardSkip {
		out.skipped = len(existing)
		return nil, out, nil
	}

	cand, err := s.normalizer.Normalize(way, ward)
	if errors.Is(err, ErrNotRoutable) {
		out.skipped = 1
		return nil, out, nil
	}
	if err != nil {
		return nil, out, &WayProcessingError{ExternalID: id, Stage: "normalize", Err: err}
	}
	if geo.Length(cand.Geometry) < s.segmenter.MinLength {
		out.skipped = 1
		return nil, out, nil
	}

	return &pendingWay{
		cand:     cand,
		bound:    cand.Geometry.Bound().Pad(boundPad),
		existing: len(existing),
	}, out, nil
}

// writeWay segments p against stored roads and the rest of the batch, then
// replaces its stored segments. Stored rows of ways in the batch are ignored
// in favour of their fresh geometry.
func (s *Syncer) writeWay(ctx context.Context, p *pendingWay, batch []*pendingWay, batchIDs map[int64]struct{}) (out wayOutcome, err error) {
	id := p.cand.ExternalID
	defer recoverWay(id, &err)

	stored, err := s.assets.FindRoadsIntersecting(ctx, geobox.FromBound(p.bound))
	if err != nil {
		return out, &WayProcessingError{ExternalID: id, Stage: "load nearby", Err: err}
	}
	nearby := nearbyLines(stored, batchIDs)
	for _, o := range batch {
		if o == p || !o.bound.Intersects(p.bound) {
			continue
		}
		nearby = append(nearby, o.cand.Geometry)
	}

	pieces := s.segmenter.Split(p.cand.Geometry, nearby)
	segs := p.cand.Segments(pieces, s.now().UTC())

	deleted, err := s.assets.ReplaceSegmentsForExternalID(ctx, id, segs)
	if errors.Is(err, ErrManualEditConflict) {
		out.skipped = max(p.existing, 1)
		return out, nil
	}
	if err != nil {
		return out, &WayProcessingError{ExternalID: id, Stage: "replace", Err: err}
	}

	if deleted > 0 {
		out.replaced = 1
		metrics.SegmentsWrittenTotal.WithLabelValues("replaced").Add(float64(len(segs)))
	} else {
		out.created = len(segs)
		metrics.SegmentsWrittenTotal.WithLabelValues("created").Add(float64(len(segs)))
	}
	return out, nil
}

// finish writes the terminal state with a context that survives
// cancellation of the run.
func (s *Syncer) finish(ctx context.Context, run *SyncRun) {
	completed := s.now().UTC()
	run.CompletedAt = &completed
	if len(run.ErrorMessages) > 0 {
		joined := strings.Join(run.ErrorMessages, "\n")
		run.ErrorMessage = &joined
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.runs.FinishRun(persistCtx, run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("persist sync run")
	}

	metrics.RunsRunning.Dec()
	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.SegmentsWrittenTotal.WithLabelValues("skipped").Add(float64(run.SegmentsSkipped))

	s.log.Info().
		Str("run_id", run.ID.String()).
		Str("status", string(run.Status)).
		Int("ways_fetched", run.WaysFetched).
		Int("created", run.SegmentsCreated).
		Int("replaced", run.SegmentsReplaced).
		Int("skipped", run.SegmentsSkipped).
		Int("errors", len(run.ErrorMessages)).
		Dur("duration", completed.Sub(run.StartedAt)).
		Msg("sync run finished")
}

// dedupeWays keeps one way per id in first-seen order; the last copy wins.
func dedupeWays(ways []*osm.Way) []*osm.Way {
	index := make(map[osm.WayID]int, len(ways))
	out := make([]*osm.Way, 0, len(ways))
	for _, w := range ways {
		if w == nil {
			continue
		}
		if i, ok := index[w.ID]; ok {
			out[i] = w
			continue
		}
		index[w.ID] = len(out)
		out = append(out, w)
	}
	return out
}

// nearbyLines drops stored roads of ways being rewritten in this run.
func nearbyLines(roads []StoredRoad, batchIDs map[int64]struct{}) []orb.LineString {
	lines := make([]orb.LineString, 0, len(roads))
	for _, r := range roads {
		if r.ExternalID != nil {
			if _, ok := batchIDs[*r.ExternalID]; ok {
				continue
			}
		}
		lines = append(lines, r.Geometry)
	}
	return lines
}
