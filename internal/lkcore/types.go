// Package lkcore defines the data model shared by every layer of the
// lane-keeping core: lanes, detections, metrics, and control commands.
// Nothing in this package performs I/O.
package lkcore

import "math"

// Lane is a single detected lane line in image pixel coordinates.
// Endpoint 1 is the bottom of the image (larger Y), endpoint 2 is the top.
type Lane struct {
	X1, Y1     float64
	X2, Y2     float64
	Confidence float64
}

// Slope returns (y2-y1)/(x2-x1). The second return is false when the line
// is vertical (x1 == x2), in which case Slope is undefined.
func (l Lane) Slope() (float64, bool) {
	dx := l.X2 - l.X1
	if dx == 0 {
		return 0, false
	}
	return (l.Y2 - l.Y1) / dx, true
}

// Length returns the Euclidean length of the segment.
func (l Lane) Length() float64 {
	dx := l.X2 - l.X1
	dy := l.Y2 - l.Y1
	return math.Sqrt(dx*dx + dy*dy)
}

// XAt projects the lane line to the given Y, assuming the line extends
// infinitely. Returns the X1 endpoint unmodified when the line is vertical.
func (l Lane) XAt(y float64) float64 {
	slope, ok := l.Slope()
	if !ok {
		return l.X1
	}
	// y = y1 + slope*(x-x1)  =>  x = x1 + (y-y1)/slope
	if slope == 0 {
		return l.X1
	}
	return l.X1 + (y-l.Y1)/slope
}

// Valid reports whether the lane satisfies the producer invariant: the
// bottom endpoint (Y1) must lie below the top endpoint (Y2) in image space.
func (l Lane) Valid() bool {
	return l.Y1 > l.Y2
}

// DetectionResult is the output of one detector pass over a single frame.
type DetectionResult struct {
	FrameID          uint64
	Timestamp        float64
	ProcessingTimeMs float64
	LeftLane         *Lane
	RightLane        *Lane
}

// HasBoth reports whether both lanes were detected.
func (d DetectionResult) HasBoth() bool {
	return d.LeftLane != nil && d.RightLane != nil
}

// HasNone reports whether neither lane was detected.
func (d DetectionResult) HasNone() bool {
	return d.LeftLane == nil && d.RightLane == nil
}

// LaneStatus classifies how far the vehicle has drifted from lane center.
type LaneStatus int

const (
	StatusCentered LaneStatus = iota
	StatusDrift
	StatusDeparture
	StatusNoLanes
)

func (s LaneStatus) String() string {
	switch s {
	case StatusCentered:
		return "CENTERED"
	case StatusDrift:
		return "DRIFT"
	case StatusDeparture:
		return "DEPARTURE"
	case StatusNoLanes:
		return "NO_LANES"
	default:
		return "UNKNOWN"
	}
}

// LaneMetrics is derived from a DetectionResult plus image geometry.
type LaneMetrics struct {
	LateralOffsetPx   float64
	LateralOffsetM    float64
	LateralOffsetNorm float64
	HeadingAngleRad   float64
	LaneCenterXPx     float64
	LaneWidthPx       float64
	Status            LaneStatus
}

// ControlMode is the mode tag carried on every ControlCommand.
type ControlMode int

const (
	ModeLaneKeeping ControlMode = iota
	ModeWarmup
	ModeFailsafe
)

func (m ControlMode) String() string {
	switch m {
	case ModeLaneKeeping:
		return "LANE_KEEPING"
	case ModeWarmup:
		return "WARMUP"
	case ModeFailsafe:
		return "FAILSAFE"
	default:
		return "UNKNOWN"
	}
}

// ControlCommand is the output of the decision controller, applied to the
// simulator/actuator once per tick.
type ControlCommand struct {
	Steering float32
	Throttle float32
	Brake    float32
	Mode     ControlMode
}

// Clamp enforces the invariants in spec §3: steering in [-1,1], throttle and
// brake in [0,1], and throttle/brake mutually exclusive (when both are
// positive, throttle is kept and brake is zeroed).
func (c ControlCommand) Clamp() ControlCommand {
	c.Steering = clampF32(c.Steering, -1, 1)
	c.Throttle = clampF32(c.Throttle, 0, 1)
	c.Brake = clampF32(c.Brake, 0, 1)
	if c.Throttle > 0 && c.Brake > 0 {
		c.Brake = 0
	}
	return c
}

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParamCategory distinguishes which subsystem a ParamUpdate targets, per
// spec §4.E's parameter channel: {detection, decision}.
type ParamCategory int

const (
	ParamCategoryDetection ParamCategory = iota
	ParamCategoryDecision
)

// ParamUpdate is one live parameter change delivered over the parameter
// channel: {category, name, value}. Updates apply at the next frame
// boundary, never mid-frame (spec §4.E).
type ParamUpdate struct {
	Category ParamCategory
	Name     string
	Value    float64
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
