package lkcore

import (
	"flag"
	"fmt"
	"time"
)

// CameraConfig describes sensor geometry (spec §6 group "camera").
type CameraConfig struct {
	Width, Height int
	FOV           float64
	Position      [3]float64
	Rotation      [3]float64
}

// CVConfig configures the classical detection pipeline (§6 "detector.cv").
type CVConfig struct {
	CannyLow         float64
	CannyHigh        float64
	HoughThreshold   int
	HoughMinLineLen  float64
	HoughMaxLineGap  float64
	MinSlope         float64
	SmoothingFactor  float64
	ROITopY          float64
	ROITopLeftX      float64
	ROITopRightX     float64
	ROIBottomLeftX   float64
	ROIBottomRightX  float64
	SmoothingResetN  int // frames of absence before EMA reset (default 3)
}

// AnalyzerConfig configures lane-status thresholds (§6 "analyzer").
type AnalyzerConfig struct {
	LaneWidthM        float64
	DriftThreshold    float64
	DepartureThreshold float64
}

// ControllerConfig configures the PD steering law (§6 "controller").
type ControllerConfig struct {
	Kp float64
	Kd float64
}

// ThrottlePolicyConfig configures adaptive throttle (§6 "throttle_policy").
type ThrottlePolicyConfig struct {
	Base          float32
	Min           float32
	SteerThreshold float32
	SteerMax       float32
}

// LoopConfig configures the tick loop (§6 "loop").
type LoopConfig struct {
	TickHz             int
	WarmupFrames       uint64
	FailsafeConsecutive int // K, default 5
}

// Delta returns the configured per-tick duration (1/TickHz).
func (l LoopConfig) Delta() time.Duration {
	if l.TickHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(l.TickHz)
}

// SHMConfig configures the IPC substrate (§6 "shm").
type SHMConfig struct {
	ImageName         string
	DetectionName     string
	AttachRetryCount  int
	AttachRetryDelay  time.Duration
}

// BroadcastConfig configures telemetry fan-out (§6 "broadcast").
type BroadcastConfig struct {
	Enabled      bool
	BroadcastURL string
	ActionURL    string
	JPEGQuality  int
	SendFrames   bool
}

// Config is the immutable, fully-resolved configuration for one process.
// It is built once at startup and passed explicitly into constructors;
// nothing in this codebase reads from a package-level global config.
type Config struct {
	Camera    CameraConfig
	CV        CVConfig
	Analyzer  AnalyzerConfig
	Controller ControllerConfig
	Throttle  ThrottlePolicyConfig
	Loop      LoopConfig
	SHM       SHMConfig
	Broadcast BroadcastConfig
}

// Default returns the configuration used in spec §8's end-to-end scenarios.
func Default() Config {
	return Config{
		Camera: CameraConfig{Width: 800, Height: 600, FOV: 90},
		CV: CVConfig{
			CannyLow: 50, CannyHigh: 150,
			HoughThreshold: 20, HoughMinLineLen: 20, HoughMaxLineGap: 300,
			MinSlope:        0.3,
			SmoothingFactor: 0.8,
			ROITopY:         0.6,
			ROITopLeftX:     0.42, ROITopRightX: 0.58,
			ROIBottomLeftX: 0.1, ROIBottomRightX: 0.9,
			SmoothingResetN: 3,
		},
		Analyzer: AnalyzerConfig{
			LaneWidthM:         3.7,
			DriftThreshold:     0.15,
			DepartureThreshold: 0.35,
		},
		Controller: ControllerConfig{Kp: 0.5, Kd: 0.2},
		Throttle: ThrottlePolicyConfig{
			Base: 0.45, Min: 0.15, SteerThreshold: 0.3, SteerMax: 1.0,
		},
		Loop: LoopConfig{TickHz: 20, WarmupFrames: 50, FailsafeConsecutive: 5},
		SHM: SHMConfig{
			ImageName: "camera_feed", DetectionName: "detection_results",
			AttachRetryCount: 20, AttachRetryDelay: 500 * time.Millisecond,
		},
		Broadcast: BroadcastConfig{
			Enabled: true, BroadcastURL: ":8765", ActionURL: ":8766",
			JPEGQuality: 80, SendFrames: true,
		},
	}
}

// LaneWidthPx derives the default pixel lane width, used when only one lane
// side is present (§4.C), from the ROI bottom span and the image width; the
// physical lane width and the camera position/rotation/FOV are not used.
func (c Config) LaneWidthPx() float64 {
	// Approximate: assume the configured ROI bottom span covers one lane
	// width at the image bottom. This is a deliberately simple geometric
	// stand-in.
	span := (c.CV.ROIBottomRightX - c.CV.ROIBottomLeftX) * float64(c.Camera.Width)
	if span <= 0 {
		return float64(c.Camera.Width) / 3
	}
	return span
}

// Validate checks the invariants the detector's self-check (SPEC_FULL §3)
// and the orchestrator's startup both rely on. Returns a ConfigError (§7)
// wrapped with details on the first violation found.
func (c Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("%w: camera width/height must be positive", ErrConfig)
	}
	if c.CV.CannyLow >= c.CV.CannyHigh {
		return fmt.Errorf("%w: canny_low must be < canny_high", ErrConfig)
	}
	if c.CV.SmoothingFactor < 0 || c.CV.SmoothingFactor > 1 {
		return fmt.Errorf("%w: smoothing_factor must be in [0,1]", ErrConfig)
	}
	if c.CV.ROITopY <= 0 || c.CV.ROITopY >= 1 {
		return fmt.Errorf("%w: roi_top_y must be in (0,1)", ErrConfig)
	}
	if c.CV.ROITopLeftX >= c.CV.ROITopRightX {
		return fmt.Errorf("%w: roi_top_left_x must be < roi_top_right_x", ErrConfig)
	}
	if c.CV.ROIBottomLeftX >= c.CV.ROIBottomRightX {
		return fmt.Errorf("%w: roi_bottom_left_x must be < roi_bottom_right_x", ErrConfig)
	}
	if c.CV.ROITopLeftX < 0 || c.CV.ROITopRightX > 1 || c.CV.ROIBottomLeftX < 0 || c.CV.ROIBottomRightX > 1 {
		return fmt.Errorf("%w: roi x fractions must be in [0,1]", ErrConfig)
	}
	if c.Loop.TickHz <= 0 {
		return fmt.Errorf("%w: tick_hz must be positive", ErrConfig)
	}
	if c.Throttle.SteerThreshold >= c.Throttle.SteerMax {
		return fmt.Errorf("%w: steer_threshold must be < steer_max", ErrConfig)
	}
	if c.SHM.ImageName == "" || c.SHM.DetectionName == "" {
		return fmt.Errorf("%w: shm image_name/detection_name required", ErrConfig)
	}
	return nil
}

// BindFlags registers one flag per §6 schema key onto fs, defaulting to the
// values already present in c, and returns a function that must be called
// after fs.Parse to obtain the resolved Config. Camera position, camera
// rotation and the CV smoothing reset count have no flag; they keep the
// values from c.
func BindFlags(fs *flag.FlagSet, c Config) func() Config {
	width := fs.Int("camera.width", c.Camera.Width, "camera sensor width in pixels")
	height := fs.Int("camera.height", c.Camera.Height, "camera sensor height in pixels")
	fov := fs.Float64("camera.fov", c.Camera.FOV, "camera field of view in degrees")

	cannyLow := fs.Float64("detector.cv.canny_low", c.CV.CannyLow, "Canny low threshold")
	cannyHigh := fs.Float64("detector.cv.canny_high", c.CV.CannyHigh, "Canny high threshold")
	houghThreshold := fs.Int("detector.cv.hough_threshold", c.CV.HoughThreshold, "Hough accumulator threshold")
	houghMinLen := fs.Float64("detector.cv.hough_min_line_len", c.CV.HoughMinLineLen, "Hough min line length")
	houghMaxGap := fs.Float64("detector.cv.hough_max_line_gap", c.CV.HoughMaxLineGap, "Hough max line gap")
	minSlope := fs.Float64("detector.cv.min_slope", c.CV.MinSlope, "minimum |slope| to keep a segment")
	smoothing := fs.Float64("detector.cv.smoothing_factor", c.CV.SmoothingFactor, "EMA smoothing factor")
	roiTopY := fs.Float64("detector.cv.roi_top_y", c.CV.ROITopY, "ROI top as a fraction of image height")
	roiTopLeft := fs.Float64("detector.cv.roi_top_left_x", c.CV.ROITopLeftX, "ROI top-left x fraction")
	roiTopRight := fs.Float64("detector.cv.roi_top_right_x", c.CV.ROITopRightX, "ROI top-right x fraction")
	roiBottomLeft := fs.Float64("detector.cv.roi_bottom_left_x", c.CV.ROIBottomLeftX, "ROI bottom-left x fraction")
	roiBottomRight := fs.Float64("detector.cv.roi_bottom_right_x", c.CV.ROIBottomRightX, "ROI bottom-right x fraction")

	laneWidthM := fs.Float64("analyzer.lane_width_m", c.Analyzer.LaneWidthM, "physical lane width in meters")
	driftThreshold := fs.Float64("analyzer.drift_threshold", c.Analyzer.DriftThreshold, "|offset_norm| drift threshold")
	departureThreshold := fs.Float64("analyzer.departure_threshold", c.Analyzer.DepartureThreshold, "|offset_norm| departure threshold")

	kp := fs.Float64("controller.kp", c.Controller.Kp, "PD proportional gain")
	kd := fs.Float64("controller.kd", c.Controller.Kd, "PD derivative gain")

	throttleBase := fs.Float64("throttle_policy.base", float64(c.Throttle.Base), "base throttle")
	throttleMin := fs.Float64("throttle_policy.min", float64(c.Throttle.Min), "minimum throttle under heavy steering")
	steerThreshold := fs.Float64("throttle_policy.steer_threshold", float64(c.Throttle.SteerThreshold), "steering magnitude before throttle decays")
	steerMax := fs.Float64("throttle_policy.steer_max", float64(c.Throttle.SteerMax), "steering magnitude at minimum throttle")

	tickHz := fs.Int("loop.tick_hz", c.Loop.TickHz, "tick rate in Hz")
	warmupFrames := fs.Uint64("loop.warmup_frames", c.Loop.WarmupFrames, "frames of forced zero-steer warm-up")
	failsafeConsecutive := fs.Int("loop.failsafe_consecutive", c.Loop.FailsafeConsecutive, "consecutive missed detections before failsafe")

	imageName := fs.String("shm.image_name", c.SHM.ImageName, "image ring SHM name")
	detectionName := fs.String("shm.detection_name", c.SHM.DetectionName, "detection ring SHM name")
	attachRetryCount := fs.Int("shm.attach_retry_count", c.SHM.AttachRetryCount, "SHM attach retry attempts")
	attachRetryDelay := fs.Duration("shm.attach_retry_delay", c.SHM.AttachRetryDelay, "SHM attach retry delay")

	broadcastEnabled := fs.Bool("broadcast.enabled", c.Broadcast.Enabled, "enable telemetry broadcast")
	broadcastURL := fs.String("broadcast.broadcast_url", c.Broadcast.BroadcastURL, "telemetry listen address")
	actionURL := fs.String("broadcast.action_url", c.Broadcast.ActionURL, "control listen address")
	jpegQuality := fs.Int("broadcast.jpeg_quality", c.Broadcast.JPEGQuality, "JPEG quality for frame topic")
	sendFrames := fs.Bool("broadcast.send_frames", c.Broadcast.SendFrames, "broadcast the frame topic")

	return func() Config {
		return Config{
			Camera: CameraConfig{Width: *width, Height: *height, FOV: *fov,
				Position: c.Camera.Position, Rotation: c.Camera.Rotation},
			CV: CVConfig{
				CannyLow: *cannyLow, CannyHigh: *cannyHigh,
				HoughThreshold: *houghThreshold, HoughMinLineLen: *houghMinLen, HoughMaxLineGap: *houghMaxGap,
				MinSlope: *minSlope, SmoothingFactor: *smoothing,
				ROITopY: *roiTopY, ROITopLeftX: *roiTopLeft, ROITopRightX: *roiTopRight,
				ROIBottomLeftX: *roiBottomLeft, ROIBottomRightX: *roiBottomRight,
				SmoothingResetN: c.CV.SmoothingResetN,
			},
			Analyzer: AnalyzerConfig{
				LaneWidthM: *laneWidthM, DriftThreshold: *driftThreshold, DepartureThreshold: *departureThreshold,
			},
			Controller: ControllerConfig{Kp: *kp, Kd: *kd},
			Throttle: ThrottlePolicyConfig{
				Base: float32(*throttleBase), Min: float32(*throttleMin),
				SteerThreshold: float32(*steerThreshold), SteerMax: float32(*steerMax),
			},
			Loop: LoopConfig{
				TickHz: *tickHz, WarmupFrames: *warmupFrames, FailsafeConsecutive: *failsafeConsecutive,
			},
			SHM: SHMConfig{
				ImageName: *imageName, DetectionName: *detectionName,
				AttachRetryCount: *attachRetryCount, AttachRetryDelay: *attachRetryDelay,
			},
			Broadcast: BroadcastConfig{
				Enabled: *broadcastEnabled, BroadcastURL: *broadcastURL, ActionURL: *actionURL,
				JPEGQuality: jpegQualityOrDefault(*jpegQuality), SendFrames: *sendFrames,
			},
		}
	}
}

func jpegQualityOrDefault(q int) int {
	if q <= 0 || q > 100 {
		return 80
	}
	return q
}
