package geobox

const (
	// MaxDepth caps quadrant recursion for pathological inputs.
	MaxDepth = 20

	// MinCellMeters is the smallest side length worth splitting further.
	MinCellMeters = 1.0
)

// Limits are the per-cell ceilings accepted by the external service.
type Limits struct {
	MaxSideMeters   float64
	MaxAreaSqMeters float64
}

func (l Limits) fits(b GeoBox) bool {
	w, h := b.WidthMeters(), b.HeightMeters()
	if l.MaxSideMeters > 0 && (w > l.MaxSideMeters || h > l.MaxSideMeters) {
		return false
	}
	if l.MaxAreaSqMeters > 0 && w*h > l.MaxAreaSqMeters {
		return false
	}
	return true
}

// Partition splits box into quadrants until every cell is within limits.
// A box already within limits is returned as the only cell; a zero-area box
// yields no cells. Output order is deterministic: south-west, south-east,
// north-west, north-east at every level.
func Partition(box GeoBox, limits Limits) []GeoBox {
	if box.IsDegenerate() {
		return nil
	}
	var cells []GeoBox
	partition(box, limits, 0, &cells)
	return cells
}

func partition(b GeoBox, limits Limits, depth int, out *[]GeoBox) {
	if limits.fits(b) || depth >= MaxDepth ||
		b.WidthMeters() < MinCellMeters || b.HeightMeters() < MinCellMeters {
		*out = append(*out, b)
		return
	}

	midLng := (b.MinLng + b.MaxLng) / 2
	midLat := (b.MinLat + b.MaxLat) / 2

	quadrants := [4]GeoBox{
		{MinLng: b.MinLng, MinLat: b.MinLat, MaxLng: midLng, MaxLat: midLat},
		{MinLng: midLng, MinLat: b.MinLat, MaxLng: b.MaxLng, MaxLat: midLat},
		{MinLng: b.MinLng, MinLat: midLat, MaxLng: midLng, MaxLat: b.MaxLat},
		{MinLng: midLng, MinLat: midLat, MaxLng: b.MaxLng, MaxLat: b.MaxLat},
	}
	for _, q := range quadrants {
		partition(q, limits, depth+1, out)
	}
}
