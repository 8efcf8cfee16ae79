package orchestrate

import (
	"context"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// ActionKind is the set of inbound control-socket actions spec §4.D/§6
// names: `{"action": "respawn"|"pause"|"resume"}`.
type ActionKind int

const (
	ActionRespawn ActionKind = iota
	ActionPause
	ActionResume
)

// Action is one inbound action message, queued non-blockingly by the
// broadcaster and drained by poll_actions() each tick (spec §4.D).
type Action struct {
	Kind ActionKind
}

// handleAction applies one inbound action to the orchestrator's lifecycle
// state. Respawn resets the EMA smoothing state (via the detection
// parameter channel) and the warm-up counter, per spec §4.D "Respawn":
// "teleport the vehicle to a configured spawn point... reset the EMA
// smoothing in the detector (via parameter channel); reset warm-up
// counter."
func (o *Orchestrator) handleAction(ctx context.Context, a Action) {
	switch a.Kind {
	case ActionRespawn:
		if err := o.sim.Respawn(ctx); err != nil {
			o.log.Warn("respawn failed", telemetry.Err(err))
			return
		}
		o.frameID = 0
		o.state.ResetWarmup()
		o.resetDetectorSmoothing()
		o.log.Info("vehicle respawned, warm-up restarted")

	case ActionPause:
		o.state.Pause()
		o.log.Info("orchestrator paused")

	case ActionResume:
		o.state.Resume()
		o.log.Info("orchestrator resumed")
	}
}

// resetDetectorSmoothing asks the detector to clear its EMA state by
// sending the reserved "_reset" parameter name on the detection category
// channel; the detector's Params.set treats unknown names as a no-op,
// so the worker recognizes this one explicitly (see detect.Classical.Reset
// wiring via the parameter channel consumer, cmd/detector).
func (o *Orchestrator) resetDetectorSmoothing() {
	select {
	case o.paramOut <- lkcore.ParamUpdate{Category: lkcore.ParamCategoryDetection, Name: "_reset", Value: 0}:
	default:
		o.log.Warn("detector parameter channel full, dropped smoothing reset")
	}
}
