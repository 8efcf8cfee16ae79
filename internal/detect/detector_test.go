package detect

import (
	"math"
	"testing"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/stretchr/testify/require"
)

// drawSyntheticRoad renders a flat gray RGB frame with two straight white
// lane lines between the given endpoints, used by the lane round-trip test
// (spec §8 invariant 8) and the frame-ID/processing-time propagation test.
func drawSyntheticRoad(width, height int, leftX1, leftY1, leftX2, leftY2, rightX1, rightY1, rightX2, rightY2 float64) []byte {
	rgb := make([]byte, width*height*3)
	for i := range rgb {
		rgb[i] = 40
	}
	drawLine(rgb, width, height, leftX1, leftY1, leftX2, leftY2)
	drawLine(rgb, width, height, rightX1, rightY1, rightX2, rightY2)
	return rgb
}

// drawLine rasterizes a thick white segment via dense linear sampling
// (resolution well beyond pixel spacing, so no gaps appear at steep
// slopes); it is test-only scaffolding, not a general line rasterizer.
func drawLine(rgb []byte, width, height int, x1, y1, x2, y2 float64) {
	steps := int(math.Hypot(x2-x1, y2-y1)) * 2
	if steps < 1 {
		steps = 1
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := x1 + (x2-x1)*t
		y := y1 + (y2-y1)*t
		for dx := -2; dx <= 2; dx++ {
			px, py := int(x)+dx, int(y)
			if px < 0 || px >= width || py < 0 || py >= height {
				continue
			}
			o := (py*width + px) * 3
			rgb[o], rgb[o+1], rgb[o+2] = 230, 230, 230
		}
	}
}

func TestClassicalLaneRoundTrip(t *testing.T) {
	cfg := lkcore.Default().CV
	cfg.SmoothingFactor = 0 // invariant 8 requires no smoothing

	width, height := 800, 600
	leftX1, leftY1, leftX2, leftY2 := 240.0, 600.0, 360.0, 360.0
	rightX1, rightY1, rightX2, rightY2 := 560.0, 600.0, 440.0, 360.0

	rgb := drawSyntheticRoad(width, height, leftX1, leftY1, leftX2, leftY2, rightX1, rightY1, rightX2, rightY2)

	d := NewClassical(cfg)
	result := d.Detect(rgb, width, height, 3, 1)

	require.NotNil(t, result.LeftLane, "left lane must be detected on a clean synthetic road")
	require.NotNil(t, result.RightLane, "right lane must be detected on a clean synthetic road")

	const tolerance = 3.0
	require.InDelta(t, leftX1, result.LeftLane.X1, tolerance)
	require.InDelta(t, leftX2, result.LeftLane.X2, tolerance)
	require.InDelta(t, rightX1, result.RightLane.X1, tolerance)
	require.InDelta(t, rightX2, result.RightLane.X2, tolerance)
}

func TestClassicalFrameIDAndProcessingTimePropagate(t *testing.T) {
	cfg := lkcore.Default().CV
	width, height := 320, 240
	rgb := drawSyntheticRoad(width, height, 80, 240, 140, 140, 240, 240, 180, 140)

	d := NewClassical(cfg)
	result := d.Detect(rgb, width, height, 3, 42)
	require.Equal(t, uint64(42), result.FrameID)
	require.GreaterOrEqual(t, result.ProcessingTimeMs, 0.0)
}

func TestUpdateParamRejectsUnknownName(t *testing.T) {
	d := NewClassical(lkcore.Default().CV)
	require.False(t, d.UpdateParam("not_a_real_param", 1))
	require.True(t, d.UpdateParam("canny_low", 10))
}

func TestResetClearsSmoothingState(t *testing.T) {
	cfg := lkcore.Default().CV
	d := NewClassical(cfg)
	d.left = emaLaneState{x1: 1, y1: 1, x2: 1, y2: 1, initialized: true}
	d.Reset()
	require.False(t, d.left.initialized)
}

func TestClassifyRejectsNearHorizontalAndWrongHalf(t *testing.T) {
	width := 800
	// Near-horizontal: slope below min_slope must be rejected regardless of side.
	flat := Segment{X1: 100, Y1: 300, X2: 700, Y2: 302}
	require.Equal(t, sideNone, classify(flat, 0.3, width))

	// Negative slope in the right half is neither a valid left nor right candidate.
	wrongHalf := Segment{X1: 600, Y1: 600, X2: 700, Y2: 300}
	require.Equal(t, sideNone, classify(wrongHalf, 0.3, width))

	left := Segment{X1: 240, Y1: 600, X2: 360, Y2: 360}
	require.Equal(t, sideLeft, classify(left, 0.3, width))

	right := Segment{X1: 560, Y1: 600, X2: 440, Y2: 360}
	require.Equal(t, sideRight, classify(right, 0.3, width))
}
