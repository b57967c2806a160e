package roadsync

import (
	"math"
	"sort"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// cutEpsilon is the smallest distance between two cuts, in meters. It keeps
// coincident crossings from producing empty pieces when the minimum segment
// length is zero.
const cutEpsilon = 1e-6

// Segmenter splits candidate lines where they cross stored roads.
//
// Every crossing with a nearby line is a cut candidate. Cuts are accepted in
// order along the line; a cut closer than MinLength to the previous accepted
// cut (or to the start) is dropped, which merges the short piece into the
// next one. A cut closer than MinLength to the end is dropped, which merges
// the tail into the previous piece.
type Segmenter struct {
	MinLength float64
}

// Split returns the pieces of line in order. A line without accepted cuts is
// returned as a single piece.
func (s Segmenter) Split(line orb.LineString, nearby []orb.LineString) []orb.LineString {
	if len(line) < 2 {
		return nil
	}
	cum := cumulativeLengths(line)
	total := cum[len(cum)-1]

	if len(nearby) == 0 || total < 2*s.MinLength {
		return []orb.LineString{line.Clone()}
	}

	cuts := s.acceptCuts(crossings(line, cum, nearby), total)
	if len(cuts) == 0 {
		return []orb.LineString{line.Clone()}
	}
	return cutLine(line, cum, cuts)
}

func (s Segmenter) acceptCuts(candidates []float64, total float64) []float64 {
	minLen := math.Max(s.MinLength, cutEpsilon)
	var accepted []float64
	last := 0.0
	for _, d := range candidates {
		if d-last < minLen || total-d < minLen {
			continue
		}
		accepted = append(accepted, d)
		last = d
	}
	return accepted
}

// touchTolerance is how close, in meters, a vertex must come to an edge to
// count as touching it. Stored pieces of an already segmented road end
// exactly on the roads they were cut at, so this only absorbs rounding.
const touchTolerance = 0.01

// boundPad widens edge bounds, in degrees, so edges within touchTolerance
// survive the bound prefilter.
const boundPad = 1e-6

// crossings returns the sorted distances along line at which it meets any of
// the nearby lines: proper crossings, plus every point where a vertex of one
// line lies on an edge of the other (T-junctions, shared vertices and the
// ends of stored pieces).
func crossings(line orb.LineString, cum []float64, nearby []orb.LineString) []float64 {
	pts := toS2(line)

	type other struct {
		bound orb.Bound
		line  orb.LineString
		pts   []s2.Point
	}
	others := make([]other, 0, len(nearby))
	for _, n := range nearby {
		if len(n) < 2 {
			continue
		}
		others = append(others, other{bound: n.Bound().Pad(boundPad), line: n, pts: toS2(n)})
	}

	var out []float64
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		// at snaps positions within touchTolerance of a vertex onto it.
		at := func(p s2.Point) float64 {
			pos := cum[i] + geo.Distance(line[i], fromS2(p))
			switch {
			case pos-cum[i] <= touchTolerance:
				return cum[i]
			case cum[i+1]-pos <= touchTolerance:
				return cum[i+1]
			}
			return pos
		}

		edge := orb.MultiPoint{line[i], line[i+1]}.Bound().Pad(boundPad)
		for _, o := range others {
			if !edge.Intersects(o.bound) {
				continue
			}
			for j := 0; j < len(o.pts)-1; j++ {
				if !edge.Intersects(orb.MultiPoint{o.line[j], o.line[j+1]}.Bound()) {
					continue
				}
				c, d := o.pts[j], o.pts[j+1]

				if s2.CrossingSign(a, b, c, d) == s2.Cross {
					out = append(out, at(s2.Intersection(a, b, c, d)))
					continue
				}
				for _, v := range [2]s2.Point{c, d} {
					if touches(v, a, b) {
						out = append(out, at(s2.Project(v, a, b)))
					}
				}
				if touches(a, c, d) {
					out = append(out, cum[i])
				}
				if touches(b, c, d) {
					out = append(out, cum[i+1])
				}
			}
		}
	}
	sort.Float64s(out)
	return out
}

// touches reports whether x lies on the edge ab within touchTolerance.
func touches(x, a, b s2.Point) bool {
	return s2.DistanceFromSegment(x, a, b).Radians()*orb.EarthRadius <= touchTolerance
}

// cutLine splits line at the given ascending distances.
func cutLine(line orb.LineString, cum []float64, cuts []float64) []orb.LineString {
	pieces := make([]orb.LineString, 0, len(cuts)+1)
	cur := orb.LineString{line[0]}
	k := 0
	for i := 0; i < len(line)-1; i++ {
		edgeLen := cum[i+1] - cum[i]
		for k < len(cuts) && cuts[k] <= cum[i+1] {
			var p orb.Point
			switch {
			case cuts[k] >= cum[i+1]:
				p = line[i+1]
			case edgeLen <= 0:
				p = line[i]
			default:
				p = interpolate(line[i], line[i+1], (cuts[k]-cum[i])/edgeLen)
			}
			if cur[len(cur)-1] != p {
				cur = append(cur, p)
			}
			pieces = append(pieces, cur)
			cur = orb.LineString{p}
			k++
		}
		if cur[len(cur)-1] != line[i+1] {
			cur = append(cur, line[i+1])
		}
	}
	return append(pieces, cur)
}

// cumulativeLengths returns the geodesic distance from line[0] to each vertex.
func cumulativeLengths(line orb.LineString) []float64 {
	cum := make([]float64, len(line))
	for i := 1; i < len(line); i++ {
		cum[i] = cum[i-1] + geo.Distance(line[i-1], line[i])
	}
	return cum
}

func interpolate(a, b orb.Point, t float64) orb.Point {
	return fromS2(s2.Interpolate(t, toS2Point(a), toS2Point(b)))
}

func toS2Point(p orb.Point) s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat(), p.Lon()))
}

func toS2(line orb.LineString) []s2.Point {
	pts := make([]s2.Point, len(line))
	for i, p := range line {
		pts[i] = toS2Point(p)
	}
	return pts
}

func fromS2(p s2.Point) orb.Point {
	ll := s2.LatLngFromPoint(p)
	return orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()}
}
