package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/roadsync/source"
)

var box = geobox.GeoBox{MinLng: 136.90, MinLat: 35.15, MaxLng: 136.91, MaxLat: 35.16}

const sampleResponse = `{
  "version": 0.6,
  "generator": "Overpass API",
  "elements": [
    {
      "type": "way",
      "id": 12345,
      "timestamp": "2024-03-01T09:30:00Z",
      "version": 7,
      "nodes": [1, 2, 3],
      "geometry": [
        {"lat": 35.1510, "lon": 136.9010},
        {"lat": 35.1520, "lon": 136.9020},
        {"lat": 35.1530, "lon": 136.9030}
      ],
      "tags": {"highway": "primary", "name": "若宮大通", "lanes": "4"}
    },
    {
      "type": "way",
      "id": 12346,
      "nodes": [4, 5, 6],
      "geometry": [
        {"lat": 35.1540, "lon": 136.9010},
        null,
        {"lat": 35.1560, "lon": 136.9030}
      ],
      "tags": {"highway": "residential"}
    },
    {"type": "node", "id": 9, "lat": 35.15, "lon": 136.90}
  ]
}`

func TestFetchWaysDecodesElements(t *testing.T) {
	var gotQuery, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("data")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	c := NewClient(server.URL, "roadsync-test/1.0", 10*time.Second)
	ways, err := c.FetchWays(context.Background(), box)
	require.NoError(t, err)
	require.Len(t, ways, 1)

	w := ways[0]
	assert.Equal(t, osm.WayID(12345), w.ID)
	assert.Equal(t, 7, w.Version)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), w.Timestamp)
	require.Len(t, w.Nodes, 3)
	assert.Equal(t, osm.NodeID(1), w.Nodes[0].ID)
	assert.Equal(t, osm.NodeID(3), w.Nodes[2].ID)
	assert.InDelta(t, 136.9030, w.Nodes[2].Lon, 1e-9)
	assert.Equal(t, "若宮大通", w.Tags.Find("name"))
	assert.Equal(t, "4", w.Tags.Find("lanes"))

	assert.Equal(t, "roadsync-test/1.0", gotAgent)
	assert.Contains(t, gotQuery, "[out:json][timeout:10]")
	assert.Contains(t, gotQuery, "(35.1500000,136.9000000,35.1600000,136.9100000)")
	assert.Contains(t, gotQuery, "out geom meta;")
}

func TestElementWithNullVertexIsRejected(t *testing.T) {
	el := Element{
		Type:     "way",
		ID:       7,
		Nodes:    []int64{1, 2, 3},
		Geometry: []*LatLon{{Lat: 35.151, Lon: 136.901}, nil, {Lat: 35.153, Lon: 136.903}},
	}
	way, ok := el.toWay()
	assert.False(t, ok)
	assert.Nil(t, way)

	el.Geometry[1] = &LatLon{Lat: 35.152, Lon: 136.902}
	way, ok = el.toWay()
	require.True(t, ok)
	assert.Len(t, way.Nodes, 3)
}

func TestFetchWaysClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   source.ErrorKind
	}{
		{http.StatusTooManyRequests, source.RateLimited},
		{http.StatusGatewayTimeout, source.Timeout},
		{http.StatusInternalServerError, source.ServerError},
		{http.StatusBadRequest, source.ServerError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "", time.Second).FetchWays(context.Background(), box)
			var ese *source.ExternalServiceError
			require.ErrorAs(t, err, &ese)
			assert.Equal(t, tt.want, ese.Kind)
			assert.Equal(t, tt.status, ese.StatusCode)
		})
	}
}

func TestFetchWaysRemarkTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"elements":[],"remark":"runtime error: Query timed out in \"query\" at line 2 after 26 seconds."}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).FetchWays(context.Background(), box)
	var ese *source.ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.Equal(t, source.Timeout, ese.Kind)
}

func TestFetchWaysMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).FetchWays(context.Background(), box)
	var ese *source.ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.Equal(t, source.ServerError, ese.Kind)
}

func TestFetcherRetriesAgainstServer(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	cfg := source.Config{
		Source:      "overpass",
		BaseURL:     server.URL,
		Timeout:     time.Second,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
	}
	src, err := source.New(cfg)
	require.NoError(t, err)

	f := source.NewFetcher(src, source.NewIntervalGate(0), cfg)
	ways, err := f.Fetch(context.Background(), box, cfg.MaxRetries)
	require.NoError(t, err)
	assert.Len(t, ways, 1)
	assert.Equal(t, 3, attempts)
}

func TestBuildQueryListsHighways(t *testing.T) {
	q := BuildQuery(box, 0)
	assert.True(t, strings.HasPrefix(q, "[out:json][timeout:1];"))
	assert.Contains(t, q, "residential|living_street|service")
}
