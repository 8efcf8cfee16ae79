// Package decide implements the decision layer: mapping a DetectionResult
// to LaneMetrics (analyzer.go) and LaneMetrics to a ControlCommand
// (controller.go). Both are pure functions of their inputs (spec §4.C).
package decide

import (
	"math"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// Geometry carries the image dimensions and ROI horizon the analyzer needs
// to project lanes to the image bottom and compute heading angle.
type Geometry struct {
	ImageWidth, ImageHeight int
	ROITopY                 float64 // fraction of image height
}

// Analyzer computes LaneMetrics from a DetectionResult (spec §4.C). It
// holds no state of its own; AnalyzerConfig is threaded through each call
// rather than captured, so a live parameter update never mutates an
// in-flight computation.
type Analyzer struct {
	geometry Geometry
}

func NewAnalyzer(geometry Geometry) *Analyzer {
	return &Analyzer{geometry: geometry}
}

// Analyze implements spec §4.C's lateral offset, heading angle, and status
// computation. laneWidthPxFallback is used when only one lane is present.
func (a *Analyzer) Analyze(det lkcore.DetectionResult, cfg lkcore.AnalyzerConfig, laneWidthPxFallback float64) lkcore.LaneMetrics {
	bottom := float64(a.geometry.ImageHeight)
	halfWidth := float64(a.geometry.ImageWidth) / 2
	roiTop := a.geometry.ROITopY * bottom

	switch {
	case det.HasNone():
		return lkcore.LaneMetrics{Status: lkcore.StatusNoLanes}

	case det.HasBoth():
		leftX := det.LeftLane.XAt(bottom)
		rightX := det.RightLane.XAt(bottom)
		laneCenterX := (leftX + rightX) / 2
		laneWidthPx := rightX - leftX

		leftTopX := det.LeftLane.XAt(roiTop)
		rightTopX := det.RightLane.XAt(roiTop)
		topCenterX := (leftTopX + rightTopX) / 2

		return a.buildMetrics(laneCenterX, laneWidthPx, topCenterX, halfWidth, bottom, roiTop, cfg)

	case det.LeftLane != nil:
		leftX := det.LeftLane.XAt(bottom)
		laneCenterX := leftX + laneWidthPxFallback/2
		leftTopX := det.LeftLane.XAt(roiTop)
		topCenterX := leftTopX + laneWidthPxFallback/2
		return a.buildMetrics(laneCenterX, laneWidthPxFallback, topCenterX, halfWidth, bottom, roiTop, cfg)

	default: // RightLane != nil
		rightX := det.RightLane.XAt(bottom)
		laneCenterX := rightX - laneWidthPxFallback/2
		rightTopX := det.RightLane.XAt(roiTop)
		topCenterX := rightTopX - laneWidthPxFallback/2
		return a.buildMetrics(laneCenterX, laneWidthPxFallback, topCenterX, halfWidth, bottom, roiTop, cfg)
	}
}

func (a *Analyzer) buildMetrics(laneCenterX, laneWidthPx, topCenterX, halfWidth, bottom, roiTop float64, cfg lkcore.AnalyzerConfig) lkcore.LaneMetrics {
	offsetPx := laneCenterX - halfWidth

	var offsetM float64
	if laneWidthPx != 0 {
		offsetM = offsetPx / laneWidthPx * cfg.LaneWidthM
	}
	offsetNorm := 0.0
	if halfWidth != 0 {
		offsetNorm = clamp(offsetPx/halfWidth, -1, 1)
	}

	// Heading angle: slope of the line from (laneCenterX, bottom) to
	// (topCenterX, roiTop), converted to radians (spec §4.C).
	dy := roiTop - bottom
	dx := topCenterX - laneCenterX
	heading := 0.0
	if dy != 0 {
		heading = math.Atan2(dx, -dy)
	}

	status := lkcore.StatusCentered
	switch {
	case math.Abs(offsetNorm) >= cfg.DepartureThreshold:
		status = lkcore.StatusDeparture
	case math.Abs(offsetNorm) >= cfg.DriftThreshold:
		status = lkcore.StatusDrift
	}

	return lkcore.LaneMetrics{
		LateralOffsetPx:   offsetPx,
		LateralOffsetM:    offsetM,
		LateralOffsetNorm: offsetNorm,
		HeadingAngleRad:   heading,
		LaneCenterXPx:     laneCenterX,
		LaneWidthPx:       laneWidthPx,
		Status:            status,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
