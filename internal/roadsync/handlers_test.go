package roadsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "test-admin-token"

func newTestRouter(t *testing.T, h *harness) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return NewRouter(h.syncer, string(hash))
}

func do(t *testing.T, router http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+adminToken)
		req.Header.Set("X-Actor", "ops")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBboxRunWait(t *testing.T) {
	h := newHarness(t, staticFetcher(parallelA, parallelB), nil)
	router := newTestRouter(t, h)

	rec := do(t, router, http.MethodPost, "/runs/bbox", `{"bbox":"`+smallBox.String()+`","wait":true}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res SyncRunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.SegmentsCreated)
	assert.Equal(t, "ops", res.TriggeredBy)
}

func TestHandlerBboxRunBackground(t *testing.T) {
	h := newHarness(t, staticFetcher(parallelA), nil)
	router := newTestRouter(t, h)

	body := `{"min_lng":136.9,"min_lat":35.15,"max_lng":136.905,"max_lat":35.155}`
	rec := do(t, router, http.MethodPost, "/runs/bbox", body, true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var run SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, StatusRunning, run.Status)

	h.syncer.Wait()
	rec = do(t, router, http.MethodGet, "/runs/"+run.ID.String(), "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, StatusCompleted, run.Status)
}

func TestHandlerRequiresToken(t *testing.T) {
	h := newHarness(t, staticFetcher(), nil)
	router := newTestRouter(t, h)

	rec := do(t, router, http.MethodPost, "/runs/bbox", `{"bbox":"`+smallBox.String()+`"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.runs.all())
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t, staticFetcher(), memBoundaries{})
	router := newTestRouter(t, h)

	rec := do(t, router, http.MethodPost, "/runs/bbox", `{"bbox":"1,2,3"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/runs/bbox", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/runs/region", `{"region":"Atlantis","wait":true}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/runs/region", `{"region":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/runs/"+uuid.NewString(), "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/runs/not-a-uuid", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodDelete, "/runs/"+uuid.NewString(), "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListAndStatus(t *testing.T) {
	h := newHarness(t, staticFetcher(parallelA), nil)
	router := newTestRouter(t, h)

	for i := 0; i < 3; i++ {
		_, err := h.syncer.RunBboxSync(context.Background(), smallBox, "test")
		require.NoError(t, err)
	}

	rec := do(t, router, http.MethodGet, "/runs?limit=2", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 2)
	assert.Equal(t, int64(3), list.Total)

	rec = do(t, router, http.MethodGet, "/status", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var st SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.TotalSyncedAssetCount)
	assert.NotNil(t, st.LastRunStartedAt)
}

func TestHandlerStale(t *testing.T) {
	h := newHarness(t, staticFetcher(), nil)
	router := newTestRouter(t, h)

	rec := do(t, router, http.MethodGet, "/regions/Naka/stale?max_age=2h", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var out staleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.NeedsResync)
	assert.Equal(t, (2 * time.Hour).String(), out.MaxAge)

	rec = do(t, router, http.MethodGet, "/regions/Naka/stale?max_age=soon", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
