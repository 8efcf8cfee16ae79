// Package orchestrate implements the orchestrator: the tick loop, vehicle
// lifecycle (warm-up/respawn/pause), and the state machine gating which
// control commands actually reach the simulator (spec §4.D).
package orchestrate

// Mode is the orchestrator's own state machine, a superset of
// lkcore.ControlMode: PAUSED is orthogonal to the other three and has no
// equivalent on a ControlCommand (spec §4.D's state table).
type Mode int

const (
	ModeWarmup Mode = iota
	ModeLaneKeeping
	ModeFailsafe
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModeWarmup:
		return "WARMUP"
	case ModeLaneKeeping:
		return "LANE_KEEPING"
	case ModeFailsafe:
		return "FAILSAFE"
	case ModePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// StateMachine tracks the orchestrator's mode and the counters that drive
// its transitions (spec §4.D). Exactly one mode holds at any instant
// (invariant 4); Paused is tracked separately from the underlying
// detection-driven mode so resuming restores whichever of
// Warmup/LaneKeeping/Failsafe was active before the pause.
type StateMachine struct {
	mode               Mode
	underPause         Mode // mode to restore on resume
	paused             bool
	warmupFrames       uint64
	failsafeConsecutive int
	noLaneStreak       int
}

func NewStateMachine(warmupFrames uint64, failsafeConsecutive int) *StateMachine {
	return &StateMachine{mode: ModeWarmup, warmupFrames: warmupFrames, failsafeConsecutive: failsafeConsecutive}
}

// Mode returns the externally visible mode: Paused wins over whatever the
// underlying detection-driven mode is.
func (s *StateMachine) Mode() Mode {
	if s.paused {
		return ModePaused
	}
	return s.mode
}

// Advance applies one tick's detection outcome to the state machine and
// returns the resulting mode. frameID is used for the warm-up exit check
// (invariant 5: "frame_id < warmup_frames").
func (s *StateMachine) Advance(frameID uint64, detectionValid bool) Mode {
	if s.paused {
		return ModePaused
	}

	if frameID < s.warmupFrames {
		s.mode = ModeWarmup
		return s.mode
	}
	if s.mode == ModeWarmup {
		s.mode = ModeLaneKeeping
	}

	if detectionValid {
		s.noLaneStreak = 0
		if s.mode == ModeFailsafe {
			s.mode = ModeLaneKeeping
		}
		return s.mode
	}

	s.noLaneStreak++
	if s.noLaneStreak > s.failsafeConsecutive {
		s.mode = ModeFailsafe
	}
	return s.mode
}

// Pause and Resume are idempotent (invariant 9): a second Pause or a
// Resume with no prior Pause is a no-op.
func (s *StateMachine) Pause() {
	if s.paused {
		return
	}
	s.paused = true
	s.underPause = s.mode
}

func (s *StateMachine) Resume() {
	if !s.paused {
		return
	}
	s.paused = false
	s.mode = s.underPause
}

// ResetWarmup restarts the warm-up envelope, used on respawn (spec §4.D).
// The caller is expected to also reset the frame_id counter to 0.
func (s *StateMachine) ResetWarmup() {
	s.mode = ModeWarmup
	s.noLaneStreak = 0
}

// NoLaneStreak exposes the consecutive-miss counter for tests and
// telemetry; it is not used for control decisions outside Advance.
func (s *StateMachine) NoLaneStreak() int { return s.noLaneStreak }
