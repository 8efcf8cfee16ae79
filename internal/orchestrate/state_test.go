package orchestrate

import "testing"

func TestStateMachineWarmupEnvelope(t *testing.T) {
	sm := NewStateMachine(5, 3)
	for frame := uint64(0); frame < 5; frame++ {
		if got := sm.Advance(frame, true); got != ModeWarmup {
			t.Fatalf("frame %d: got %s, want WARMUP", frame, got)
		}
	}
	if got := sm.Advance(5, true); got != ModeLaneKeeping {
		t.Fatalf("frame 5: got %s, want LANE_KEEPING", got)
	}
}

func TestStateMachineEntersFailsafeAfterKConsecutiveMisses(t *testing.T) {
	sm := NewStateMachine(0, 3)
	sm.Advance(0, true) // exit warmup immediately

	for i := 0; i < 3; i++ {
		if got := sm.Advance(uint64(i+1), false); got != ModeLaneKeeping {
			t.Fatalf("miss %d: got %s, want still LANE_KEEPING (K=3 not yet exceeded)", i, got)
		}
	}
	if got := sm.Advance(4, false); got != ModeFailsafe {
		t.Fatalf("4th consecutive miss: got %s, want FAILSAFE", got)
	}
}

func TestStateMachineRecoversOnFirstValidDetection(t *testing.T) {
	sm := NewStateMachine(0, 1)
	sm.Advance(0, true)
	sm.Advance(1, false)
	if got := sm.Advance(2, false); got != ModeFailsafe {
		t.Fatalf("got %s, want FAILSAFE", got)
	}
	if got := sm.Advance(3, true); got != ModeLaneKeeping {
		t.Fatalf("got %s, want LANE_KEEPING after recovery", got)
	}
}

func TestStateMachinePauseResumeIsIdempotentAndRestoresMode(t *testing.T) {
	sm := NewStateMachine(0, 3)
	sm.Advance(0, false)
	sm.Advance(1, false)
	sm.Advance(2, false)
	sm.Advance(3, false) // now FAILSAFE
	if sm.Mode() != ModeFailsafe {
		t.Fatalf("precondition: expected FAILSAFE, got %s", sm.Mode())
	}

	sm.Pause()
	sm.Pause() // idempotent
	if sm.Mode() != ModePaused {
		t.Fatalf("got %s, want PAUSED", sm.Mode())
	}

	sm.Resume()
	sm.Resume() // idempotent
	if sm.Mode() != ModeFailsafe {
		t.Fatalf("got %s, want restored FAILSAFE after resume", sm.Mode())
	}
}

func TestStateMachineResetWarmupRestartsEnvelope(t *testing.T) {
	sm := NewStateMachine(5, 3)
	for frame := uint64(0); frame < 6; frame++ {
		sm.Advance(frame, true)
	}
	if sm.Mode() != ModeLaneKeeping {
		t.Fatalf("precondition failed: got %s", sm.Mode())
	}
	sm.ResetWarmup()
	if sm.Mode() != ModeWarmup {
		t.Fatalf("got %s, want WARMUP after reset", sm.Mode())
	}
}
