package decide

import (
	"math"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// Controller implements the PD steering law and adaptive throttle from
// spec §4.C: a pure function of its inputs. Spec §4.C permits the PD
// controller to retain its own last error as state, but the steering law
// it actually specifies (steer_raw = -(Kp*offset_norm + Kd*heading_norm))
// takes the derivative term directly from the detection's heading angle
// rather than differencing against a stored previous error, so there is no
// history for this controller to carry between calls.
type Controller struct{}

func NewController() *Controller {
	return &Controller{}
}

// Decide maps LaneMetrics to a ControlCommand (spec §4.C). cfg and
// throttle are passed explicitly per call so a live parameter update never
// races an in-flight decision.
func (c *Controller) Decide(metrics lkcore.LaneMetrics, cfg lkcore.ControllerConfig, throttle lkcore.ThrottlePolicyConfig, imageWidth int) lkcore.ControlCommand {
	if metrics.Status == lkcore.StatusNoLanes {
		// Failsafe rule (spec §4.C): continue moving straight rather than
		// brake suddenly.
		return lkcore.ControlCommand{
			Steering: 0,
			Throttle: throttle.Base,
			Brake:    0,
			Mode:     lkcore.ModeFailsafe,
		}.Clamp()
	}

	halfWidth := float64(imageWidth) / 2
	offsetNorm := 0.0
	if halfWidth != 0 {
		offsetNorm = clamp(metrics.LateralOffsetPx/halfWidth, -1, 1)
	}
	headingNorm := clamp(metrics.HeadingAngleRad/(math.Pi/4), -1, 1)

	steerRaw := -(cfg.Kp*offsetNorm + cfg.Kd*headingNorm)
	steer := clamp(steerRaw, -1, 1)

	return lkcore.ControlCommand{
		Steering: float32(steer),
		Throttle: adaptiveThrottle(steer, throttle),
		Brake:    0,
		Mode:     lkcore.ModeLaneKeeping,
	}.Clamp()
}

// adaptiveThrottle implements spec §4.C's linear interpolation between
// base and min throttle once |steer| exceeds steer_threshold.
func adaptiveThrottle(steer float64, cfg lkcore.ThrottlePolicyConfig) float32 {
	mag := math.Abs(steer)
	threshold := float64(cfg.SteerThreshold)
	max := float64(cfg.SteerMax)
	if mag <= threshold {
		return cfg.Base
	}
	span := max - threshold
	t := 1.0
	if span > 0 {
		t = clamp((mag-threshold)/span, 0, 1)
	}
	return cfg.Base - (cfg.Base-cfg.Min)*float32(t)
}
