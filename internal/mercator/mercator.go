package mercator

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MaxLatitude is the latitude limit of the Web Mercator projection. The
// y-index formula is undefined at the poles; callers must stay within
// [-MaxLatitude, MaxLatitude].
const MaxLatitude = 85.0511

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (b BBox) Validate() error {
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("mercator: minLat %v greater than maxLat %v", b.MinLat, b.MaxLat)
	}
	if b.MinLon > b.MaxLon {
		return fmt.Errorf("mercator: minLon %v greater than maxLon %v", b.MinLon, b.MaxLon)
	}
	if b.MinLat < -MaxLatitude || b.MaxLat > MaxLatitude {
		return fmt.Errorf("mercator: latitude outside mercator range ±%v", MaxLatitude)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("mercator: longitude outside ±180")
	}
	return nil
}

// FromGeoJSON derives the bounding box covering every feature geometry in a
// GeoJSON file.
func FromGeoJSON(path string) (BBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BBox{}, fmt.Errorf("read geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return BBox{}, fmt.Errorf("unmarshal geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return BBox{}, fmt.Errorf("geojson %s has no features", path)
	}

	bound := fc.Features[0].Geometry.Bound()
	for _, f := range fc.Features[1:] {
		bound = bound.Union(f.Geometry.Bound())
	}

	return FromBound(bound), nil
}

// FromBound converts an orb bound (lon/lat order) to a BBox.
func FromBound(b orb.Bound) BBox {
	return BBox{
		MinLat: b.Min[1],
		MaxLat: b.Max[1],
		MinLon: b.Min[0],
		MaxLon: b.Max[0],
	}
}

// TileIndex converts a geographic point to slippy-map tile indices at the
// given zoom. x grows eastward from lon -180, y grows southward from the
// projection's north limit. Results are clamped to [0, 2^zoom-1] so the
// exact edge case lon=180 (or lat at the projection limit) lands on the
// last tile instead of one past it.
func TileIndex(lat, lon float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))

	x = int(math.Floor((lon + 180.0) / 360.0 * n))

	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	}
	if y > max {
		y = max
	}
	return x, y
}

// Rect is an inclusive tile-index rectangle at one zoom level.
type Rect struct {
	XMin, XMax int
	YMin, YMax int
}

func (r Rect) Width() int  { return r.XMax - r.XMin + 1 }
func (r Rect) Height() int { return r.YMax - r.YMin + 1 }

// Count returns the number of tiles in the rectangle.
func (r Rect) Count() int64 {
	return int64(r.Width()) * int64(r.Height())
}

// RectForBBox computes the inclusive tile rectangle covering the bounding box
// at the given zoom. The min and max of each axis are taken independently
// because tile y decreases as latitude increases: the minLat corner yields
// the numerically larger y.
func RectForBBox(b BBox, zoom int) Rect {
	x1, y1 := TileIndex(b.MinLat, b.MinLon, zoom)
	x2, y2 := TileIndex(b.MaxLat, b.MaxLon, zoom)

	return Rect{
		XMin: min(x1, x2),
		XMax: max(x1, x2),
		YMin: min(y1, y2),
		YMax: max(y1, y2),
	}
}
