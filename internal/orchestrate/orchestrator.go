package orchestrate

import (
	"github.com/lkasproject/lkas-core/internal/decide"
	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/shm"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// Publisher is the broadcaster's inbound contract: the tick loop hands it
// one message per tick and never blocks on it (spec §4.D "Broadcast publish
// is non-blocking (fire-and-forget... The broadcaster never blocks the
// tick."). internal/broadcast.Broadcaster implements this; orchestrate
// depends only on the interface to avoid importing the transport stack.
type Publisher interface {
	Publish(msg PublishMessage)
}

// PublishMessage is one tick's worth of telemetry, matching spec §4.D's
// three topics (frame/detection/state) plus the mode the state machine
// landed in.
type PublishMessage struct {
	FrameID   uint64
	Frame     *Frame // nil when send_frames is disabled or no frame this tick
	Detection lkcore.DetectionResult
	Metrics   lkcore.LaneMetrics
	Command   lkcore.ControlCommand
	Mode      Mode
}

// Orchestrator wires together the simulator, the two SHM rings, the
// decision layer, the state machine, and the broadcaster into spec §4.D's
// tick loop. It is the producer of camera_feed and the consumer of
// detection_results — the mirror image of detect.Worker's roles.
type Orchestrator struct {
	cfg lkcore.Config
	log *telemetry.Logger

	sim   Simulator
	state *StateMachine
	tick  *tickBreaker

	imageRing     *shm.ImageRing
	detectionRing *shm.DetectionRing

	analyzer   *decide.Analyzer
	controller *decide.Controller
	snapshot   *SnapshotExchange
	publisher  Publisher

	actions  chan Action
	paramIn  chan lkcore.ParamUpdate // decision-category updates, applied in-loop
	paramOut chan lkcore.ParamUpdate // detection-category + reset updates for the broadcaster to forward to the detector process

	frameID       uint64
	timeoutStreak int

	lastDetection    lkcore.DetectionResult
	haveLastDetection bool
}

// NewOrchestrator builds an Orchestrator. sim and publisher are injected so
// tests can substitute fakes (spec §8's scenario suite); publisher may be
// nil, in which case publish only stores the telemetry snapshot (useful for
// SHM-only integration
// tests that don't stand up a broadcaster).
func NewOrchestrator(cfg lkcore.Config, sim Simulator, publisher Publisher, log *telemetry.Logger) *Orchestrator {
	geo := decide.Geometry{
		ImageWidth:  cfg.Camera.Width,
		ImageHeight: cfg.Camera.Height,
		ROITopY:     cfg.CV.ROITopY,
	}
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		sim:        sim,
		state:      NewStateMachine(cfg.Loop.WarmupFrames, cfg.Loop.FailsafeConsecutive),
		tick:       newTickBreaker(cfg.Loop.Delta()),
		analyzer:   decide.NewAnalyzer(geo),
		controller: decide.NewController(),
		snapshot:   &SnapshotExchange{},
		publisher:  publisher,
		actions:    make(chan Action, 16),
		paramIn:    make(chan lkcore.ParamUpdate, 16),
		paramOut:   make(chan lkcore.ParamUpdate, 16),
	}
}

// Attach creates the camera_feed region (the orchestrator is its producer)
// and attaches to detection_results (the detector is its producer), per
// spec §4.A's create/attach role split.
func (o *Orchestrator) Attach() error {
	img, err := shm.CreateImageRing(o.cfg.SHM.ImageName, int32(o.cfg.Camera.Width), int32(o.cfg.Camera.Height), 3)
	if err != nil {
		return lkcore.NewStageError("orchestrator.attach.camera_feed", lkcore.ErrSHMAttachTimeout, err)
	}
	o.imageRing = img

	det, err := shm.AttachDetectionRing(o.cfg.SHM.DetectionName, o.cfg.SHM.AttachRetryCount, o.cfg.SHM.AttachRetryDelay)
	if err != nil {
		o.imageRing.Destroy()
		return lkcore.NewStageError("orchestrator.attach.detection_results", lkcore.ErrSHMAttachTimeout, err)
	}
	o.detectionRing = det
	return nil
}

// Actions returns the channel poll_actions() drains each tick. The
// broadcaster's inbound /control socket feeds this.
func (o *Orchestrator) Actions() chan<- Action { return o.actions }

// DecisionParams returns the channel carrying "decision"-category
// parameter updates, applied directly to this orchestrator's controller.
func (o *Orchestrator) DecisionParams() chan<- lkcore.ParamUpdate { return o.paramIn }

// DetectionParamsOut exposes the channel of outbound "detection"-category
// (and smoothing-reset) updates this orchestrator produces, for the
// broadcaster to forward on to the detector process.
func (o *Orchestrator) DetectionParamsOut() <-chan lkcore.ParamUpdate { return o.paramOut }

// Snapshot returns the last published TelemetrySnapshot, for a status
// endpoint or a just-connected viewer (SPEC_FULL §3's supplemented
// "Orchestrator status snapshot endpoint" feature).
func (o *Orchestrator) Snapshot() (TelemetrySnapshot, bool) { return o.snapshot.Load() }

// SetPublisher attaches the broadcaster after construction. It exists
// because the broadcaster itself is built from this orchestrator's action
// and parameter channels, so the two can't be constructed in one step.
func (o *Orchestrator) SetPublisher(p Publisher) { o.publisher = p }

// RegisterShutdownHooks wires this orchestrator's owned resources into a
// GracefulShutdown per spec §5: "destroy SHM regions it owns, disconnect
// the simulator." The detection ring is attached, not owned, so it is only
// closed, never destroyed.
func (o *Orchestrator) RegisterShutdownHooks(g *telemetry.GracefulShutdown) {
	g.Register(func() error {
		return o.sim.Apply(lkcore.ControlCommand{Steering: 0, Throttle: 0, Brake: 0, Mode: lkcore.ModeFailsafe})
	})
	g.Register(o.sim.Close)
	g.Register(o.imageRing.Destroy)
	g.Register(o.detectionRing.Close)
}
