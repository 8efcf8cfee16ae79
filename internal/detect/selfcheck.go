package detect

import (
	"fmt"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// SelfCheck runs the detector's own startup validation (SPEC_FULL §3
// supplemented feature): beyond lkcore.Config.Validate's generic schema
// checks, it feeds a synthetic blank frame through the pipeline once to
// confirm the configured dimensions and CV parameters don't panic or
// divide-by-zero before the worker attaches to any shared memory.
func SelfCheck(cfg lkcore.Config, detector Detector) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	width, height := cfg.Camera.Width, cfg.Camera.Height
	blank := make([]byte, width*height*3)
	for i := 0; i < len(blank); i += 3 {
		// A faint gradient rather than pure black exercises the Sobel and
		// Hough stages without producing spurious strong edges.
		blank[i] = uint8((i / 3) % 32)
	}

	var selfCheckErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				selfCheckErr = fmt.Errorf("detector self-check panicked on synthetic frame: %v", r)
			}
		}()
		_ = detector.Detect(blank, width, height, 3, 0)
	}()
	return selfCheckErr
}
