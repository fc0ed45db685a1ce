// Package contours filters candidate shapes found in a thresholded image
// before they are handed to marker decoding.
package contours

import (
	"fmt"
	"math"

	"github.com/banshee-data/fieldpose/internal/monitoring"
)

var logf = monitoring.Subsystem("contours")

// Contour is the geometry the filter needs from one detected shape.
type Contour interface {
	// Area is the enclosed pixel area.
	Area() float64
	// MinAreaRect returns the size of the smallest rotated rectangle that
	// encloses the contour.
	MinAreaRect() (width, height float64)
	// BoundingBox returns the size of the axis-aligned bounding rectangle.
	BoundingBox() (width, height float64)
}

// Range is a lower and upper bound pair.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Params configures Keep.
type Params struct {
	// Area bounds the fraction of the image a contour covers. Both ends are
	// given in logit space and mapped through the logistic function, so the
	// usable range of -10..10 covers fractions from about 4.5e-5 to 0.99995.
	Area Range `json:"area"`
	// Ratio bounds bounding-box width divided by height, inclusive.
	Ratio Range `json:"ratio"`
	// Extent bounds the contour area as a percentage of its minimum-area
	// rectangle, exclusive at both ends.
	Extent Range `json:"extent"`
}

// DefaultParams accepts nearly every non-degenerate contour.
func DefaultParams() Params {
	return Params{
		Area:   Range{Min: -10, Max: 10},
		Ratio:  Range{Min: 0, Max: 20},
		Extent: Range{Min: 0, Max: 100},
	}
}

// Validate rejects inverted ranges and negative ratio or extent bounds.
func (p Params) Validate() error {
	for _, r := range []struct {
		name string
		rng  Range
	}{{"area", p.Area}, {"ratio", p.Ratio}, {"extent", p.Extent}} {
		if math.IsNaN(r.rng.Min) || math.IsNaN(r.rng.Max) {
			return fmt.Errorf("%s bounds must be numbers", r.name)
		}
		if r.rng.Min > r.rng.Max {
			return fmt.Errorf("%s min %g exceeds max %g", r.name, r.rng.Min, r.rng.Max)
		}
	}
	if p.Ratio.Min < 0 {
		return fmt.Errorf("ratio min must be non-negative, got %g", p.Ratio.Min)
	}
	if p.Extent.Min < 0 {
		return fmt.Errorf("extent min must be non-negative, got %g", p.Extent.Min)
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Keep reports whether c passes the area, extent and aspect ratio checks for
// an image of imageArea pixels.
func (p Params) Keep(c Contour, imageArea float64) bool {
	area := c.Area()

	areaRatio := area / imageArea
	if areaRatio < sigmoid(p.Area.Min) || areaRatio > sigmoid(p.Area.Max) {
		return false
	}

	rw, rh := c.MinAreaRect()
	rectArea := rw * rh
	minExtent := p.Extent.Min * rectArea / 100
	maxExtent := p.Extent.Max * rectArea / 100
	if area <= minExtent || area >= maxExtent {
		return false
	}

	bw, bh := c.BoundingBox()
	aspect := bw / bh
	if aspect < p.Ratio.Min || aspect > p.Ratio.Max {
		return false
	}
	return true
}

// Filter returns the contours that Keep accepts, in input order. A contour
// whose geometry cannot be evaluated is logged and dropped; the rest of the
// batch is still processed.
func Filter[C Contour](in []C, p Params, imageArea float64) []C {
	out := make([]C, 0, len(in))
	for i, c := range in {
		ok, err := keepSafe(p, c, imageArea)
		if err != nil {
			logf("skipping contour %d: %v", i, err)
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func keepSafe(p Params, c Contour, imageArea float64) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filter panicked: %v", r)
		}
	}()
	return p.Keep(c, imageArea), nil
}
