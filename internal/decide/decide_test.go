package decide

import (
	"math"
	"testing"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/stretchr/testify/require"
)

func defaultCfg() lkcore.Config { return lkcore.Default() }

func laneEndpoints(x1, y1, x2, y2 float64) *lkcore.Lane {
	return &lkcore.Lane{X1: x1, Y1: y1, X2: x2, Y2: y2, Confidence: 1}
}

func TestS1StraightRoadCentered(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	det := lkcore.DetectionResult{
		LeftLane:  laneEndpoints(240, 600, 360, 360),
		RightLane: laneEndpoints(560, 600, 440, 360),
	}
	metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
	require.InDelta(t, 0, metrics.LateralOffsetPx, 1e-9)
	require.Equal(t, lkcore.StatusCentered, metrics.Status)

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.InDelta(t, 0, cmd.Steering, 0.02)
	require.InDelta(t, float64(cfg.Throttle.Base), float64(cmd.Throttle), 1e-6)
}

func TestS2LaneDriftingRight(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	// Both lanes shifted right by 60px => lane center sits 60px right of
	// the vehicle (image center) => lateral_offset_px ~= +60.
	det := lkcore.DetectionResult{
		LeftLane:  laneEndpoints(240+60, 600, 360+60, 360),
		RightLane: laneEndpoints(560+60, 600, 440+60, 360),
	}
	metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
	require.InDelta(t, 60, metrics.LateralOffsetPx, 1e-9)
	require.Equal(t, lkcore.StatusDrift, metrics.Status)

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	// steer_raw = -(Kp*offset_norm + Kd*heading_angle_norm): a positive
	// lateral offset (lane center right of vehicle) drives steering
	// negative in this sign convention — the command corrects by turning
	// toward the lane center, not away from it.
	require.Less(t, float64(cmd.Steering), -0.05)
}

func TestS3Departure(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	det := lkcore.DetectionResult{
		LeftLane:  laneEndpoints(240-180, 600, 360-180, 360),
		RightLane: laneEndpoints(560-180, 600, 440-180, 360),
	}
	metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
	require.Equal(t, lkcore.StatusDeparture, metrics.Status)

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.LessOrEqual(t, math.Abs(float64(cmd.Steering)), 1.0)

	// A larger drift (departure) must produce a larger-magnitude
	// correction than a 60px drift (the size TestS2LaneDriftingRight uses).
	driftDet := lkcore.DetectionResult{
		LeftLane:  laneEndpoints(240-60, 600, 360-60, 360),
		RightLane: laneEndpoints(560-60, 600, 440-60, 360),
	}
	driftMetrics := a.Analyze(driftDet, cfg.Analyzer, cfg.LaneWidthPx())
	driftCmd := c.Decide(driftMetrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.Greater(t, math.Abs(float64(cmd.Steering)), math.Abs(float64(driftCmd.Steering)))
}

func TestS4MissingRightLaneFiniteOffset(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	det := lkcore.DetectionResult{LeftLane: laneEndpoints(240, 600, 360, 360)}
	metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
	require.False(t, math.IsNaN(metrics.LateralOffsetPx))
	require.False(t, math.IsInf(metrics.LateralOffsetPx, 0))
	require.Contains(t, []lkcore.LaneStatus{lkcore.StatusCentered, lkcore.StatusDrift, lkcore.StatusDeparture}, metrics.Status)

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.False(t, math.IsNaN(float64(cmd.Steering)))
	require.GreaterOrEqual(t, float64(cmd.Steering), -1.0)
	require.LessOrEqual(t, float64(cmd.Steering), 1.0)
}

func TestOnlyRightLaneSymmetric(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	det := lkcore.DetectionResult{RightLane: laneEndpoints(560, 600, 440, 360)}
	metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
	require.False(t, math.IsNaN(metrics.LateralOffsetPx))

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.False(t, math.IsNaN(float64(cmd.Steering)))
}

func TestNoLanesFailsafe(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)

	metrics := a.Analyze(lkcore.DetectionResult{}, cfg.Analyzer, cfg.LaneWidthPx())
	require.Equal(t, lkcore.StatusNoLanes, metrics.Status)

	c := NewController()
	cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
	require.Equal(t, float32(0), cmd.Steering)
	require.Equal(t, cfg.Throttle.Base, cmd.Throttle)
	require.Equal(t, float32(0), cmd.Brake)
	require.Equal(t, lkcore.ModeFailsafe, cmd.Mode)
}

func TestControlCommandBoundsInvariant(t *testing.T) {
	cfg := defaultCfg()
	geo := Geometry{ImageWidth: cfg.Camera.Width, ImageHeight: cfg.Camera.Height, ROITopY: cfg.CV.ROITopY}
	a := NewAnalyzer(geo)
	c := NewController()

	offsets := []float64{-500, -60, 0, 60, 500}
	for _, off := range offsets {
		det := lkcore.DetectionResult{
			LeftLane:  laneEndpoints(240+off, 600, 360+off, 360),
			RightLane: laneEndpoints(560+off, 600, 440+off, 360),
		}
		metrics := a.Analyze(det, cfg.Analyzer, cfg.LaneWidthPx())
		cmd := c.Decide(metrics, cfg.Controller, cfg.Throttle, cfg.Camera.Width)
		require.GreaterOrEqual(t, float64(cmd.Steering), -1.0)
		require.LessOrEqual(t, float64(cmd.Steering), 1.0)
		require.GreaterOrEqual(t, float64(cmd.Throttle), 0.0)
		require.LessOrEqual(t, float64(cmd.Throttle), 1.0)
		require.GreaterOrEqual(t, float64(cmd.Brake), 0.0)
		require.LessOrEqual(t, float64(cmd.Brake), 1.0)
		require.Zero(t, cmd.Throttle*cmd.Brake)
	}
}
