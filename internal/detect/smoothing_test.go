package detect

import "testing"

func TestEMALaneStateResetsAfterMissingStreak(t *testing.T) {
	var s emaLaneState
	_, _, _, _, ok := s.update(true, 10, 600, 20, 360, 0.8, 3)
	if !ok {
		t.Fatal("expected present update to initialize state")
	}

	for i := 0; i < 3; i++ {
		_, _, _, _, ok = s.update(false, 0, 0, 0, 0, 0.8, 3)
		if !ok {
			t.Fatalf("missing frame %d within resetAfter window should still report last known line", i)
		}
	}
	_, _, _, _, ok = s.update(false, 0, 0, 0, 0, 0.8, 3)
	if ok {
		t.Fatal("exceeding resetAfter consecutive misses must reset the state")
	}
}

func TestEMALaneStateBlendsTowardNewMeasurement(t *testing.T) {
	var s emaLaneState
	s.update(true, 0, 600, 0, 360, 0.5, 3)
	x1, _, _, _, ok := s.update(true, 100, 600, 0, 360, 0.5, 3)
	if !ok {
		t.Fatal("expected update to succeed")
	}
	if x1 <= 0 || x1 >= 100 {
		t.Fatalf("blended x1 must lie strictly between old (0) and new (100) values, got %f", x1)
	}
}
