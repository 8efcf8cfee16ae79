package detect

// emaLaneState holds the temporal smoothing state for one side (left or
// right), implementing spec §4.B step 8: EMA over the four endpoints,
// reset once absence runs past resetAfter consecutive frames (on the
// (resetAfter+1)th missing frame).
type emaLaneState struct {
	x1, y1, x2, y2 float64
	initialized    bool
	missingStreak  int
}

// update folds in a new raw fit (or absence) and returns the smoothed
// endpoints. alpha is the EMA factor: prior*alpha + current*(1-alpha).
func (s *emaLaneState) update(present bool, x1, y1, x2, y2, alpha float64, resetAfter int) (ox1, oy1, ox2, oy2 float64, ok bool) {
	if !present {
		s.missingStreak++
		if s.missingStreak > resetAfter {
			s.initialized = false
		}
		if !s.initialized {
			return 0, 0, 0, 0, false
		}
		return s.x1, s.y1, s.x2, s.y2, true
	}

	s.missingStreak = 0
	if !s.initialized {
		s.x1, s.y1, s.x2, s.y2 = x1, y1, x2, y2
		s.initialized = true
		return s.x1, s.y1, s.x2, s.y2, true
	}

	s.x1 = s.x1*alpha + x1*(1-alpha)
	s.y1 = s.y1*alpha + y1*(1-alpha)
	s.x2 = s.x2*alpha + x2*(1-alpha)
	s.y2 = s.y2*alpha + y2*(1-alpha)
	return s.x1, s.y1, s.x2, s.y2, true
}
