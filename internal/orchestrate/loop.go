package orchestrate

import (
	"context"
	"errors"
	"time"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/shm"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// stalenessBoundFrames is spec §5's "small staleness bound (default 2
// frames)": a detection older than this relative to the frame just
// written is treated as too stale to apply.
const stalenessBoundFrames = 2

// pausedPollInterval is spec §4.D's pause-loop sleep: "if paused: sleep(10
// ms); continue."
const pausedPollInterval = 10 * time.Millisecond

// Run executes the fixed-rate tick loop (spec §4.D) until ctx is
// cancelled. It returns nil on a clean ctx cancellation, or a wrapped
// lkcore.ErrSimulatorTickTimeout when the simulator fails to advance
// within its deadline (spec §4.D "Failure semantics": fatal, exit
// non-zero).
func (o *Orchestrator) Run(ctx context.Context) error {
	dt := o.cfg.Loop.Delta()
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		o.pollActions(ctx)
		o.pollDecisionParams()

		if o.state.Mode() == ModePaused {
			time.Sleep(pausedPollInterval)
			continue
		}

		if err := o.tick.Tick(ctx, o.sim); err != nil {
			o.log.Error("simulator tick failed", telemetry.Err(err))
			return err
		}

		frame, ok := o.sim.Latest()
		if !ok {
			// Sim is late; skip this tick's SHM write and detection read,
			// matching the pseudocode's "if image is None: continue".
			continue
		}
		frame.FrameID = o.frameID

		if err := o.writeFrame(frame); err != nil {
			o.log.Warn("image ring write failed", telemetry.Err(err))
		}

		detection, detectionValid := o.readDetection(dt, frame.FrameID)

		var metrics lkcore.LaneMetrics
		if detectionValid {
			metrics = o.analyzer.Analyze(detection, o.cfg.Analyzer, o.cfg.LaneWidthPx())
		} else {
			metrics = lkcore.LaneMetrics{Status: lkcore.StatusNoLanes}
		}

		mode := o.state.Advance(frame.FrameID, detectionValid && metrics.Status != lkcore.StatusNoLanes)

		cmd := o.decideCommand(mode, metrics)

		if mode != ModePaused {
			if err := o.sim.Apply(cmd); err != nil {
				o.log.Warn("simulator apply failed", telemetry.Err(err))
			}
		}

		o.publish(frame, detection, metrics, cmd, mode)
		o.frameID++
	}
}

// writeFrame publishes the simulator's latest camera frame into the
// camera_feed ring.
func (o *Orchestrator) writeFrame(frame Frame) error {
	header := shm.ImageHeader{
		FrameID:   frame.FrameID,
		Timestamp: frame.Timestamp,
		Width:     frame.Width,
		Height:    frame.Height,
		Channels:  frame.Channels,
	}
	recovered, err := o.imageRing.Write(header, frame.Pixels)
	if err != nil {
		return err
	}
	if recovered {
		o.log.Warn("recovered a poisoned image ring lock", telemetry.Uint64("frame_id", frame.FrameID))
	}
	return nil
}

// readDetection implements spec §4.D's detection_ring.read(timeout=Δt·0.8)
// plus the staleness/timeout-tolerance rules from §4.D and §5: a timeout or
// any other read error reuses the previous detection only if it is at most
// one frame old; anything staler is reported as invalid so the caller
// enters/stays in FAILSAFE.
func (o *Orchestrator) readDetection(dt time.Duration, currentFrameID uint64) (lkcore.DetectionResult, bool) {
	timeout := time.Duration(float64(dt) * 0.8)
	header, left, right, err := o.detectionRing.Read(timeout)
	if err != nil {
		if !errors.Is(err, shm.ErrReadTimeout) {
			o.log.Warn("detection ring read failed", telemetry.Err(err))
		}
		o.timeoutStreak++
		if o.haveLastDetection && currentFrameID-o.lastDetection.FrameID <= 1 {
			return o.lastDetection, true
		}
		return lkcore.DetectionResult{}, false
	}
	o.timeoutStreak = 0

	result := lkcore.DetectionResult{
		FrameID:          header.FrameID,
		Timestamp:        header.Timestamp,
		ProcessingTimeMs: header.ProcessingTimeMs,
	}
	if header.HasLeft {
		l := laneFromRecord(left)
		result.LeftLane = &l
	}
	if header.HasRight {
		r := laneFromRecord(right)
		result.RightLane = &r
	}

	// Ordering guarantee (spec §5): don't apply a detection older than the
	// frame just written minus the staleness bound.
	if currentFrameID > result.FrameID && currentFrameID-result.FrameID > stalenessBoundFrames {
		return lkcore.DetectionResult{}, false
	}

	o.lastDetection = result
	o.haveLastDetection = true
	return result, true
}

func laneFromRecord(r shm.LaneRecord) lkcore.Lane {
	return lkcore.Lane{
		X1: float64(r.X1), Y1: float64(r.Y1),
		X2: float64(r.X2), Y2: float64(r.Y2),
		Confidence: r.Confidence,
	}
}

// decideCommand runs the decision controller and then applies warm-up
// gating (spec §4.D: "Steering forced to 0; throttle forced to base;
// detections recorded but not applied" during WARMUP) and failsafe
// override, matching the pseudocode's
// "cmd = decide(metrics) if detection_valid else FAILSAFE; cmd =
// gate_warmup(cmd, frame_id)".
func (o *Orchestrator) decideCommand(mode Mode, metrics lkcore.LaneMetrics) lkcore.ControlCommand {
	if mode == ModeFailsafe {
		return lkcore.ControlCommand{
			Steering: 0, Throttle: o.cfg.Throttle.Base, Brake: 0, Mode: lkcore.ModeFailsafe,
		}.Clamp()
	}

	cmd := o.controller.Decide(metrics, o.cfg.Controller, o.cfg.Throttle, o.cfg.Camera.Width)

	if mode == ModeWarmup {
		cmd.Steering = 0
		cmd.Throttle = o.cfg.Throttle.Base
		cmd.Brake = 0
		cmd.Mode = lkcore.ModeWarmup
		return cmd.Clamp()
	}
	return cmd
}

// pollActions drains the non-blocking action queue (spec §4.D
// "poll_actions()"); it is the only place Action messages are consumed.
func (o *Orchestrator) pollActions(ctx context.Context) {
	for {
		select {
		case a := <-o.actions:
			o.handleAction(ctx, a)
		default:
			return
		}
	}
}

// pollDecisionParams applies any queued "decision"-category parameter
// updates before this tick's Decide call, never mid-frame (spec §4.E).
func (o *Orchestrator) pollDecisionParams() {
	for {
		select {
		case update := <-o.paramIn:
			o.applyDecisionParam(update)
		default:
			return
		}
	}
}

// applyDecisionParam routes a live Kp/Kd update into cfg.Controller and a
// drift_threshold/departure_threshold update into cfg.Analyzer. Config
// is otherwise immutable (spec §9); this is the one live-tunable path the
// decision side exposes, mirroring detect.Params for the detection side.
func (o *Orchestrator) applyDecisionParam(update lkcore.ParamUpdate) {
	switch update.Name {
	case "Kp":
		o.cfg.Controller.Kp = update.Value
	case "Kd":
		o.cfg.Controller.Kd = update.Value
	case "drift_threshold":
		o.cfg.Analyzer.DriftThreshold = update.Value
	case "departure_threshold":
		o.cfg.Analyzer.DepartureThreshold = update.Value
	default:
		o.log.Warn("unknown decision parameter, ignoring", telemetry.String("name", update.Name))
	}
}

func (o *Orchestrator) publish(frame Frame, detection lkcore.DetectionResult, metrics lkcore.LaneMetrics, cmd lkcore.ControlCommand, mode Mode) {
	snap := TelemetrySnapshot{
		FrameID:      frame.FrameID,
		Mode:         mode,
		Metrics:      metrics,
		Detection:    detection,
		Command:      cmd,
		NoLaneStreak: o.state.NoLaneStreak(),
	}
	o.snapshot.Publish(snap)

	if o.publisher == nil {
		return
	}
	msg := PublishMessage{
		FrameID:   frame.FrameID,
		Detection: detection,
		Metrics:   metrics,
		Command:   cmd,
		Mode:      mode,
	}
	if o.cfg.Broadcast.SendFrames {
		f := frame
		msg.Frame = &f
	}
	o.publisher.Publish(msg)
}
