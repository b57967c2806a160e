package overpass

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtymac/eventflow-sub004/internal/geobox"
)

// RoutableHighways are the highway values requested from the interpreter.
// Footways, cycleways and tracks are not road assets.
var RoutableHighways = []string{
	"motorway", "motorway_link",
	"trunk", "trunk_link",
	"primary", "primary_link",
	"secondary", "secondary_link",
	"tertiary", "tertiary_link",
	"unclassified", "residential", "living_street", "service",
}

// BuildQuery renders the way query for one cell. Overpass bboxes are
// (south,west,north,east).
func BuildQuery(box geobox.GeoBox, timeout time.Duration) string {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("[out:json][timeout:%d];\nway[\"highway\"~\"^(%s)$\"](%.7f,%.7f,%.7f,%.7f);\nout geom meta;\n",
		secs, strings.Join(RoutableHighways, "|"),
		box.MinLat, box.MinLng, box.MaxLat, box.MaxLng)
}
