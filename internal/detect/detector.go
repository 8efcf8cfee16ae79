package detect

import (
	"sync"
	"time"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// Detector is the sum type spec §4.B describes as {ClassicalCV,
// DeepLearning}: both variants honor the same detect(rgb, frame_id)
// contract and processing budget.
type Detector interface {
	Detect(rgb []byte, width, height, channels int, frameID uint64) lkcore.DetectionResult
	// UpdateParam applies a live parameter update (§4.B "Live parameter
	// updates"). Unknown names are logged and ignored by the caller, not
	// here — UpdateParam itself reports whether the name was recognized so
	// the worker can decide how to log it.
	UpdateParam(name string, value float64) (recognized bool)
	// Reset clears temporal smoothing state, used on respawn (spec §4.D).
	Reset()
}

// Params is the live-tunable subset of lkcore.CVConfig. It is copied out of
// Config at detector construction and mutated only by UpdateParam, never
// read from a package-level global (SPEC_FULL §1 ambient-config rule).
type Params struct {
	mu sync.RWMutex
	lkcore.CVConfig
}

func newParams(cfg lkcore.CVConfig) *Params {
	return &Params{CVConfig: cfg}
}

func (p *Params) snapshot() lkcore.CVConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.CVConfig
}

// set applies one named field update; returns false for unrecognized names.
func (p *Params) set(name string, value float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch name {
	case "canny_low":
		p.CannyLow = value
	case "canny_high":
		p.CannyHigh = value
	case "hough_threshold":
		p.HoughThreshold = int(value)
	case "hough_min_line_len":
		p.HoughMinLineLen = value
	case "hough_max_line_gap":
		p.HoughMaxLineGap = value
	case "min_slope":
		p.MinSlope = value
	case "smoothing_factor":
		p.SmoothingFactor = value
	case "roi_top_y":
		p.ROITopY = value
	case "roi_top_left_x":
		p.ROITopLeftX = value
	case "roi_top_right_x":
		p.ROITopRightX = value
	case "roi_bottom_left_x":
		p.ROIBottomLeftX = value
	case "roi_bottom_right_x":
		p.ROIBottomRightX = value
	default:
		return false
	}
	return true
}

// Classical is the real-time default detector: the deterministic CV
// pipeline from spec §4.B, steps 1-9.
type Classical struct {
	params *Params
	left   emaLaneState
	right  emaLaneState
}

func NewClassical(cfg lkcore.CVConfig) *Classical {
	return &Classical{params: newParams(cfg)}
}

func (c *Classical) UpdateParam(name string, value float64) bool { return c.params.set(name, value) }

func (c *Classical) Reset() {
	c.left = emaLaneState{}
	c.right = emaLaneState{}
}

func (c *Classical) Detect(rgb []byte, width, height, channels int, frameID uint64) lkcore.DetectionResult {
	start := time.Now()
	cfg := c.params.snapshot()

	gray := ToGrayscale(rgb, width, height, channels)
	blurred := GaussianBlur(gray)
	edges := Canny(blurred, cfg.CannyLow, cfg.CannyHigh)
	masked := ApplyROIMask(edges, cfg.ROITopY, cfg.ROITopLeftX, cfg.ROITopRightX, cfg.ROIBottomLeftX, cfg.ROIBottomRightX)
	segments := ProbabilisticHough(masked, cfg.HoughThreshold, cfg.HoughMinLineLen, cfg.HoughMaxLineGap)

	var leftSegs, rightSegs []Segment
	for _, s := range segments {
		switch classify(s, cfg.MinSlope, width) {
		case sideLeft:
			leftSegs = append(leftSegs, s)
		case sideRight:
			rightSegs = append(rightSegs, s)
		}
	}

	scale := float64(width) / 4
	leftLane := c.resolveSide(&c.left, leftSegs, cfg, float64(height), scale)
	rightLane := c.resolveSide(&c.right, rightSegs, cfg, float64(height), scale)

	return lkcore.DetectionResult{
		FrameID:          frameID,
		Timestamp:        float64(time.Now().UnixNano()) / 1e9,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		LeftLane:         leftLane,
		RightLane:        rightLane,
	}
}

func (c *Classical) resolveSide(state *emaLaneState, segs []Segment, cfg lkcore.CVConfig, imageHeight, scale float64) *lkcore.Lane {
	fit := weightedLeastSquaresFit(segs)
	present := fit.ok
	var rawX1, rawY1, rawX2, rawY2 float64
	if present {
		rawX1, rawY1, rawX2, rawY2 = fit.extrapolate(imageHeight, cfg.ROITopY)
	}

	x1, y1, x2, y2, ok := state.update(present, rawX1, rawY1, rawX2, rawY2, cfg.SmoothingFactor, cfg.SmoothingResetN)
	if !ok {
		return nil
	}

	conf := 0.0
	if present {
		conf = confidence(fit.residual, scale)
	} else {
		// Carried over from smoothing state during a brief absence: report
		// the midpoint confidence rather than 0, since the line itself is
		// still the last known-good fit rather than a fresh measurement.
		conf = 0.5
	}

	return &lkcore.Lane{X1: x1, Y1: y1, X2: x2, Y2: y2, Confidence: conf}
}
