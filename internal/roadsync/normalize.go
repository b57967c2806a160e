package roadsync

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"golang.org/x/text/unicode/norm"
)

// DefaultLaneCount is used when the lanes tag is missing or unusable.
const DefaultLaneCount = 2

// LocalNameTag carries the local-script name.
const LocalNameTag = "name:ja"

// defaultClasses maps highway tag values to internal road classes.
// Values not listed fall back to LowestRoadClass.
var defaultClasses = map[string]RoadClass{
	"motorway":       RoadClassArterial,
	"motorway_link":  RoadClassArterial,
	"trunk":          RoadClassArterial,
	"trunk_link":     RoadClassArterial,
	"primary":        RoadClassArterial,
	"primary_link":   RoadClassArterial,
	"secondary":      RoadClassCollector,
	"secondary_link": RoadClassCollector,
	"tertiary":       RoadClassCollector,
	"tertiary_link":  RoadClassCollector,
}

// RoadCandidate is a way translated to the internal vocabulary, before
// segmentation.
type RoadCandidate struct {
	ExternalID           int64
	Geometry             orb.LineString
	Name                 string
	NameLocal            string
	RouteRef             string
	LocalRef             string
	RoadClass            RoadClass
	LaneCount            int
	Direction            Direction
	Ward                 string
	ExternalLastModified *time.Time
}

// Segments stamps the candidate's properties onto each piece. Pieces are
// indexed in the order given.
func (c RoadCandidate) Segments(pieces []orb.LineString, syncedAt time.Time) []RoadSegment {
	extID := c.ExternalID
	segs := make([]RoadSegment, len(pieces))
	for i, piece := range pieces {
		synced := syncedAt
		segs[i] = RoadSegment{
			ID:                   uuid.New(),
			ExternalID:           &extID,
			SegmentIndex:         i,
			Geometry:             LineGeometry(piece),
			Name:                 optional(c.Name),
			NameLocal:            optional(c.NameLocal),
			RouteRef:             optional(c.RouteRef),
			LocalRef:             optional(c.LocalRef),
			RoadClass:            c.RoadClass,
			LaneCount:            c.LaneCount,
			Direction:            c.Direction,
			Ward:                 c.Ward,
			DataOrigin:           OriginSync,
			LastSyncedAt:         &synced,
			ExternalLastModified: c.ExternalLastModified,
		}
	}
	return segs
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Normalizer converts external ways to road candidates. It is safe for
// concurrent use once built.
type Normalizer struct {
	classes map[string]RoadClass
}

// NewNormalizer returns a normalizer using the built-in class table with
// overrides applied on top.
func NewNormalizer(overrides map[string]RoadClass) *Normalizer {
	classes := make(map[string]RoadClass, len(defaultClasses)+len(overrides))
	for k, v := range defaultClasses {
		classes[k] = v
	}
	for k, v := range overrides {
		classes[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Normalizer{classes: classes}
}

// LoadClassMap reads a YAML document of the form
//
//	residential: local
//	unclassified: collector
//
// and validates every class name.
func LoadClassMap(path string) (map[string]RoadClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class map: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse class map %s: %w", path, err)
	}

	out := make(map[string]RoadClass, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		class := RoadClass(strings.ToLower(strings.TrimSpace(raw[k])))
		if !class.Valid() {
			return nil, fmt.Errorf("%w %q for highway %q", ErrUnknownRoadClass, raw[k], k)
		}
		out[k] = class
	}
	return out, nil
}

// Classify maps a highway tag value to a road class.
func (n *Normalizer) Classify(highway string) RoadClass {
	if c, ok := n.classes[strings.ToLower(strings.TrimSpace(highway))]; ok {
		return c
	}
	return LowestRoadClass
}

// Normalize converts way into a candidate labelled with ward. Ways with
// fewer than two distinct consecutive vertices return ErrNotRoutable.
func (n *Normalizer) Normalize(way *osm.Way, ward string) (RoadCandidate, error) {
	if way == nil {
		return RoadCandidate{}, ErrNotRoutable
	}

	line := wayLine(way)
	if len(line) < 2 {
		return RoadCandidate{}, fmt.Errorf("%w: way %d has %d usable vertices", ErrNotRoutable, way.ID, len(line))
	}

	c := RoadCandidate{
		ExternalID: int64(way.ID),
		Geometry:   line,
		Name:       cleanName(way.Tags.Find("name")),
		NameLocal:  cleanName(way.Tags.Find(LocalNameTag)),
		RouteRef:   strings.TrimSpace(way.Tags.Find("ref")),
		LocalRef:   strings.TrimSpace(way.Tags.Find("local_ref")),
		RoadClass:  n.Classify(way.Tags.Find("highway")),
		LaneCount:  ParseLaneCount(way.Tags.Find("lanes")),
		Direction:  ParseDirection(way.Tags.Find("oneway")),
		Ward:       ward,
	}
	if !way.Timestamp.IsZero() {
		ts := way.Timestamp.UTC()
		c.ExternalLastModified = &ts
	}
	return c, nil
}

// wayLine builds the line from node coordinates, dropping repeated vertices.
func wayLine(way *osm.Way) orb.LineString {
	line := make(orb.LineString, 0, len(way.Nodes))
	for _, node := range way.Nodes {
		p := orb.Point{node.Lon, node.Lat}
		if len(line) > 0 && line[len(line)-1] == p {
			continue
		}
		line = append(line, p)
	}
	return line
}

func cleanName(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// ParseLaneCount reads a lanes tag. For lists like "2;3" the first value
// wins. Missing, non-numeric and non-positive values yield DefaultLaneCount.
func ParseLaneCount(tag string) int {
	first, _, _ := strings.Cut(tag, ";")
	n, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || n <= 0 {
		return DefaultLaneCount
	}
	return n
}

// ParseDirection reads a oneway tag. Reverse one-ways ("-1") are still
// one-way.
func ParseDirection(tag string) Direction {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "yes", "true", "1", "-1":
		return DirectionOneWay
	}
	return DirectionTwoWay
}
