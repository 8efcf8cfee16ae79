package detect

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/shm"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// imageReadTimeout is the detector's own SHM read timeout (spec §5:
// "short timeout, e.g., 100 ms, then retry").
const imageReadTimeout = 100 * time.Millisecond

// Worker runs the detector's independent loop (spec §4.B, §5): attach to
// the image ring, create the detection ring, and forever read the
// latest frame, detect, and publish — never terminating on a bad frame,
// only on an unrecoverable SHM attach failure.
type Worker struct {
	cfg      lkcore.Config
	detector Detector
	log      *telemetry.Logger

	imageRing     *shm.ImageRing
	detectionRing *shm.DetectionRing
	attachBreaker *gobreaker.CircuitBreaker

	paramCh <-chan lkcore.ParamUpdate
}

// NewWorker wires a Worker from config. detector is injected so callers
// choose Classical vs DeepLearning (spec §4.B's sum type) at startup.
func NewWorker(cfg lkcore.Config, detector Detector, log *telemetry.Logger, paramCh <-chan lkcore.ParamUpdate) *Worker {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "detector-shm-attach",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Worker{cfg: cfg, detector: detector, log: log, attachBreaker: breaker, paramCh: paramCh}
}

// Attach consumes the camera_feed region the orchestrator produces and
// creates the detection_results region the detector itself produces (spec
// §4.A: "the producer creates... the consumer attaches"; the detector is
// the consumer of images and the producer of detections). The attach side
// is wrapped in the breaker, tripping after repeated consecutive failures
// so a detector started against a long-dead orchestrator fails fast
// instead of hammering the filesystem for the full retry budget on every
// call site; creating the detection ring cannot itself time out so it sits
// outside the breaker.
func (w *Worker) Attach() error {
	_, err := w.attachBreaker.Execute(func() (interface{}, error) {
		img, err := shm.AttachImageRing(w.cfg.SHM.ImageName, int32(w.cfg.Camera.Width), int32(w.cfg.Camera.Height), 3,
			w.cfg.SHM.AttachRetryCount, w.cfg.SHM.AttachRetryDelay)
		if err != nil {
			return nil, err
		}
		w.imageRing = img
		return nil, nil
	})
	if err != nil {
		return lkcore.NewStageError("detector.attach.camera_feed", lkcore.ErrSHMAttachTimeout, err)
	}

	det, err := shm.CreateDetectionRing(w.cfg.SHM.DetectionName)
	if err != nil {
		w.imageRing.Close()
		return lkcore.NewStageError("detector.attach.detection_results", lkcore.ErrSHMAttachTimeout, err)
	}
	w.detectionRing = det
	return nil
}

// Run executes the detect loop until ctx is cancelled. It never returns an
// error for an individual bad frame (spec §4.B "never terminates on a bad
// frame"); only ctx cancellation ends it, and ring read errors are logged
// and retried.
func (w *Worker) Run(ctx context.Context) error {
	// The detector owns detection_results (it created it) and destroys it on
	// exit (spec §5 "Cancellation... destroys the detection ring it owns");
	// camera_feed is the orchestrator's region, so the detector only closes
	// its local mapping.
	defer w.detectionRing.Destroy()
	defer w.imageRing.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-w.paramCh:
			if ok {
				w.applyParamUpdate(update)
			}
			continue
		default:
		}

		header, pixels, err := w.imageRing.Read(imageReadTimeout)
		if err != nil {
			if errors.Is(err, shm.ErrReadTimeout) {
				continue
			}
			w.log.Warn("image ring read failed, retrying", telemetry.Err(err))
			continue
		}

		result := w.detectSafely(pixels, w.cfg.Camera.Width, w.cfg.Camera.Height, 3, header.FrameID)
		w.publish(result)
	}
}

// detectSafely implements spec §4.B's failure semantics: any panic inside
// detection is caught and converted into an absent-lanes result rather
// than crashing the worker.
func (w *Worker) detectSafely(pixels []byte, width, height, channels int, frameID uint64) (result lkcore.DetectionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("detector pipeline panicked, publishing empty result",
				telemetry.Any("recover", r), telemetry.Uint64("frame_id", frameID))
			result = lkcore.DetectionResult{
				FrameID:          frameID,
				Timestamp:        float64(time.Now().UnixNano()) / 1e9,
				ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			}
		}
	}()
	return w.detector.Detect(pixels, width, height, channels, frameID)
}

func (w *Worker) publish(result lkcore.DetectionResult) {
	var left, right lkcore.Lane
	hasLeft := result.LeftLane != nil
	hasRight := result.RightLane != nil
	if hasLeft {
		left = *result.LeftLane
	}
	if hasRight {
		right = *result.RightLane
	}

	header := shm.DetectionHeader{
		FrameID:          result.FrameID,
		Timestamp:        result.Timestamp,
		ProcessingTimeMs: result.ProcessingTimeMs,
		HasLeft:          hasLeft,
		HasRight:         hasRight,
	}
	recovered, err := w.detectionRing.Write(header,
		laneToRecord(left), laneToRecord(right))
	if err != nil {
		w.log.Warn("detection ring write failed", telemetry.Err(err))
		return
	}
	if recovered {
		w.log.Warn("recovered a poisoned detection ring lock", telemetry.Uint64("frame_id", result.FrameID))
	}
}

func laneToRecord(l lkcore.Lane) shm.LaneRecord {
	return shm.LaneRecord{
		X1: int32(l.X1), Y1: int32(l.Y1), X2: int32(l.X2), Y2: int32(l.Y2),
		Confidence: l.Confidence,
	}
}

// applyParamUpdate routes a "detection"-category parameter update to the
// active detector, per spec §4.E. Updates for other categories are not
// delivered on this channel at all (ParamClient drops every other category
// before forwarding), so any name miss here is a genuinely unknown key.
func (w *Worker) applyParamUpdate(update lkcore.ParamUpdate) {
	if update.Name == resetParamName {
		w.detector.Reset()
		w.log.Info("detector smoothing state reset via parameter channel")
		return
	}
	if ok := w.detector.UpdateParam(update.Name, update.Value); !ok {
		w.log.Warn("unknown detection parameter, ignoring", telemetry.String("name", update.Name))
	}
}

// resetParamName is the reserved parameter name the orchestrator sends on
// respawn to clear the detector's EMA smoothing state (spec §4.D
// "Respawn... reset the EMA smoothing in the detector (via parameter
// channel)"), distinct from the twelve real CVConfig fields Params.set
// recognizes.
const resetParamName = "_reset"
