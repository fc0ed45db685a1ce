package contours

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fieldpose/internal/monitoring"
)

type box struct {
	name         string
	area         float64
	rectW, rectH float64
	bbW, bbH     float64
	explode      bool
}

func (b box) Area() float64 {
	if b.explode {
		panic("degenerate contour")
	}
	return b.area
}
func (b box) MinAreaRect() (float64, float64) { return b.rectW, b.rectH }
func (b box) BoundingBox() (float64, float64) { return b.bbW, b.bbH }

// square returns an axis-aligned filled square of side s.
func square(name string, s float64) box {
	return box{name: name, area: s * s * 0.9, rectW: s, rectH: s, bbW: s, bbH: s}
}

const imageArea = 640 * 480

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
	assert.InDelta(t, 0.7310585786, sigmoid(1), 1e-9)
	assert.Less(t, sigmoid(-10), 1e-4)
	assert.Greater(t, sigmoid(10), 1-1e-4)
}

func TestKeep_DefaultsAcceptOrdinaryShape(t *testing.T) {
	assert.True(t, DefaultParams().Keep(square("sq", 50), imageArea))
}

func TestKeep_Area(t *testing.T) {
	p := DefaultParams()
	// between 1% and 50% of the image
	p.Area = Range{Min: -4.59511985, Max: 0}

	tiny := square("tiny", 10)  // ~0.03%
	mid := square("mid", 100)   // ~2.9%
	huge := square("huge", 470) // ~65%
	assert.False(t, p.Keep(tiny, imageArea))
	assert.True(t, p.Keep(mid, imageArea))
	assert.False(t, p.Keep(huge, imageArea))
}

func TestKeep_Extent(t *testing.T) {
	p := DefaultParams()
	p.Extent = Range{Min: 50, Max: 95}

	solid := box{area: 960, rectW: 40, rectH: 25, bbW: 40, bbH: 25}  // 96%
	filled := box{area: 800, rectW: 40, rectH: 25, bbW: 40, bbH: 25} // 80%
	hollow := box{area: 300, rectW: 40, rectH: 25, bbW: 40, bbH: 25} // 30%
	edge := box{area: 500, rectW: 40, rectH: 25, bbW: 40, bbH: 25}   // exactly 50%

	assert.False(t, p.Keep(solid, imageArea))
	assert.True(t, p.Keep(filled, imageArea))
	assert.False(t, p.Keep(hollow, imageArea))
	assert.False(t, p.Keep(edge, imageArea), "extent bounds are exclusive")
}

func TestKeep_AspectRatio(t *testing.T) {
	p := DefaultParams()
	p.Ratio = Range{Min: 0.5, Max: 2}

	wide := box{area: 900, rectW: 100, rectH: 10, bbW: 100, bbH: 10}
	tall := box{area: 900, rectW: 10, rectH: 100, bbW: 10, bbH: 100}
	atMax := box{area: 1700, rectW: 60, rectH: 30, bbW: 60, bbH: 30}

	assert.False(t, p.Keep(wide, imageArea))
	assert.False(t, p.Keep(tall, imageArea))
	assert.True(t, p.Keep(atMax, imageArea), "ratio bounds are inclusive")
}

func TestFilter_KeepsOrderAndSkipsFailures(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	p := DefaultParams()
	p.Ratio = Range{Min: 0.5, Max: 2}

	in := []box{
		square("a", 40),
		{name: "bad", explode: true},
		{name: "wide", area: 900, rectW: 100, rectH: 10, bbW: 100, bbH: 10},
		square("b", 60),
	}
	out := Filter(in, p, imageArea)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].name)
	assert.Equal(t, "b", out[1].name)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "[contours] skipping contour 1")
}

func TestFilter_Empty(t *testing.T) {
	assert.Empty(t, Filter([]box(nil), DefaultParams(), imageArea))
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.Area = Range{Min: 1, Max: -1}
	assert.ErrorContains(t, p.Validate(), "area min")

	p = DefaultParams()
	p.Ratio.Min = -1
	assert.ErrorContains(t, p.Validate(), "ratio min")

	p = DefaultParams()
	p.Extent = Range{Min: -5, Max: 10}
	assert.ErrorContains(t, p.Validate(), "extent min")
}
