// Package geobox provides the geographic rectangle used to scope sync runs
// and the partitioner that splits large rectangles into query-sized cells.
package geobox

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

var (
	ErrInvalidBox = errors.New("invalid bbox")
	ErrDegenerate = errors.New("bbox has zero area")
)

// GeoBox is a WGS84 rectangle in degrees.
type GeoBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// FromBound converts an orb bound.
func FromBound(b orb.Bound) GeoBox {
	return GeoBox{MinLng: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLng: b.Max.Lon(), MaxLat: b.Max.Lat()}
}

// Bound returns the box as an orb.Bound.
func (b GeoBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLng, b.MinLat}, Max: orb.Point{b.MaxLng, b.MaxLat}}
}

// Validate checks coordinate ranges and ordering. A zero-area box is valid;
// callers treat it as a no-op.
func (b GeoBox) Validate() error {
	for _, v := range []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBox)
		}
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidBox)
	}
	if b.MinLng < -180 || b.MaxLng > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidBox)
	}
	if b.MinLng > b.MaxLng || b.MinLat > b.MaxLat {
		return fmt.Errorf("%w: min exceeds max", ErrInvalidBox)
	}
	return nil
}

// IsDegenerate reports whether the box has no area.
func (b GeoBox) IsDegenerate() bool {
	return !(b.MaxLng > b.MinLng) || !(b.MaxLat > b.MinLat)
}

// Intersects reports whether two boxes share any point, edges included.
func (b GeoBox) Intersects(o GeoBox) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// WidthMeters is the great-circle length of the longer east-west edge.
func (b GeoBox) WidthMeters() float64 {
	south := geo.Distance(orb.Point{b.MinLng, b.MinLat}, orb.Point{b.MaxLng, b.MinLat})
	north := geo.Distance(orb.Point{b.MinLng, b.MaxLat}, orb.Point{b.MaxLng, b.MaxLat})
	return math.Max(south, north)
}

// HeightMeters is the great-circle length of the north-south edge.
func (b GeoBox) HeightMeters() float64 {
	return geo.Distance(orb.Point{b.MinLng, b.MinLat}, orb.Point{b.MinLng, b.MaxLat})
}

// AreaSqMeters is the planar approximation width × height.
func (b GeoBox) AreaSqMeters() float64 {
	return b.WidthMeters() * b.HeightMeters()
}

// String renders minLng,minLat,maxLng,maxLat.
func (b GeoBox) String() string {
	return fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// Parse reads the String format.
func Parse(s string) (GeoBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return GeoBox{}, fmt.Errorf("%w: want minLng,minLat,maxLng,maxLat", ErrInvalidBox)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return GeoBox{}, fmt.Errorf("%w: %v", ErrInvalidBox, err)
		}
		v[i] = f
	}
	b := GeoBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	return b, b.Validate()
}
