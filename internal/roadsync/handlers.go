package roadsync

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/utils"
)

// DefaultTriggeredBy is recorded for API runs without an actor.
const DefaultTriggeredBy = "api"

type handlers struct {
	syncer *Syncer
}

type bboxRequest struct {
	// Either BBox ("minLng,minLat,maxLng,maxLat") or the four fields.
	BBox string `json:"bbox"`
	geobox.GeoBox
	Wait bool `json:"wait"`
}

type regionRequest struct {
	Region string `json:"region"`
	Wait   bool   `json:"wait"`
}

type listResponse struct {
	Runs   []SyncRun `json:"runs"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type staleResponse struct {
	Region      string `json:"region"`
	MaxAge      string `json:"max_age"`
	NeedsResync bool   `json:"needs_resync"`
}

func (h *handlers) startBbox(w http.ResponseWriter, r *http.Request) {
	var in bboxRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	box := in.GeoBox
	if in.BBox != "" {
		parsed, err := geobox.Parse(in.BBox)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		box = parsed
	}

	actor := actorFrom(r)
	if in.Wait {
		res, err := h.syncer.RunBboxSync(r.Context(), box, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	run, err := h.syncer.StartBboxSync(box, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *handlers) startRegion(w http.ResponseWriter, r *http.Request) {
	var in regionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	actor := actorFrom(r)
	if in.Wait {
		res, err := h.syncer.RunRegionSync(r.Context(), in.Region, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	run, err := h.syncer.StartRegionSync(in.Region, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	runs, total, err := h.syncer.ListSyncRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Runs: runs, Total: total, Limit: limit, Offset: offset})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}
	run, err := h.syncer.GetSyncRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}
	if err := h.syncer.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	logging.Info().Str("component", "roadsync").Str("run_id", id.String()).Str("actor", actorFrom(r)).Msg("cancel requested")
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.GetSyncStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) stale(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "name")
	maxAge := 24 * time.Hour
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid max_age", http.StatusBadRequest)
			return
		}
		maxAge = d
	}

	needs, err := h.syncer.NeedsResync(r.Context(), region, maxAge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, staleResponse{Region: region, MaxAge: maxAge.String(), NeedsResync: needs})
}

func actorFrom(r *http.Request) string {
	if actor, ok := utils.GetActorFromContext(r.Context()); ok {
		return actor
	}
	return DefaultTriggeredBy
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, geobox.ErrInvalidBox), errors.Is(err, ErrEmptyRegion):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRegionBoundaryNotFound), errors.Is(err, ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrRunOverlaps):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logging.Error().Err(err).Str("component", "roadsync").Msg("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Str("component", "roadsync").Msg("encode response")
	}
}
