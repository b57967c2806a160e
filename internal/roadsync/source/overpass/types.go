package overpass

import (
	"sort"
	"time"

	"github.com/paulmach/osm"
)

// Response is the [out:json] envelope returned by the interpreter.
type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

// Element is one way as returned by "out geom meta".
type Element struct {
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Timestamp string            `json:"timestamp,omitempty"`
	Version   int               `json:"version,omitempty"`
	Nodes     []int64           `json:"nodes,omitempty"`
	Geometry  []*LatLon         `json:"geometry,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// LatLon is a geometry vertex. Vertices outside the returned extent come
// back as null and decode to nil.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// toWay converts a way element, preserving vertex order. It reports false
// when any vertex is null, since dropping one would join vertices that are
// not adjacent on the road.
func (e Element) toWay() (*osm.Way, bool) {
	way := &osm.Way{
		ID:      osm.WayID(e.ID),
		Version: e.Version,
		Visible: true,
	}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		way.Timestamp = ts
	}

	way.Nodes = make(osm.WayNodes, 0, len(e.Geometry))
	for i, g := range e.Geometry {
		if g == nil {
			return nil, false
		}
		wn := osm.WayNode{Lat: g.Lat, Lon: g.Lon}
		if i < len(e.Nodes) {
			wn.ID = osm.NodeID(e.Nodes[i])
		}
		way.Nodes = append(way.Nodes, wn)
	}

	keys := make([]string, 0, len(e.Tags))
	for k := range e.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	way.Tags = make(osm.Tags, 0, len(keys))
	for _, k := range keys {
		way.Tags = append(way.Tags, osm.Tag{Key: k, Value: e.Tags[k]})
	}

	return way, true
}
