package orchestrate

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/shm"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// fakeSimulator is a synchronous, in-memory Simulator double: Tick
// advances a frame counter, Latest returns a tiny synthetic frame, Apply
// records the last command it was given.
type fakeSimulator struct {
	width, height, channels int32
	frame                   int
	respawns                int
	lastCmd                 lkcore.ControlCommand
	haveCmd                 bool
	closed                  bool
}

func newFakeSimulator() *fakeSimulator {
	return &fakeSimulator{width: 4, height: 4, channels: 3}
}

func (s *fakeSimulator) Tick(ctx context.Context) error {
	s.frame++
	return nil
}

func (s *fakeSimulator) Latest() (Frame, bool) {
	pixels := make([]byte, int(s.width*s.height*s.channels))
	for i := range pixels {
		pixels[i] = byte(s.frame)
	}
	return Frame{
		Timestamp: float64(s.frame),
		Width:     s.width, Height: s.height, Channels: s.channels,
		Pixels: pixels,
	}, true
}

func (s *fakeSimulator) Apply(cmd lkcore.ControlCommand) error {
	s.lastCmd = cmd
	s.haveCmd = true
	return nil
}

func (s *fakeSimulator) Respawn(ctx context.Context) error {
	s.respawns++
	return nil
}

func (s *fakeSimulator) Close() error {
	s.closed = true
	return nil
}

// recordingPublisher counts how many messages it received, standing in
// for internal/broadcast.Broadcaster in these tests.
type recordingPublisher struct {
	count atomic.Int64
}

func (p *recordingPublisher) Publish(msg PublishMessage) { p.count.Add(1) }

func testConfig(t *testing.T) lkcore.Config {
	cfg := lkcore.Default()
	cfg.Camera.Width, cfg.Camera.Height = 4, 4
	cfg.Loop.TickHz = 200 // fast ticks so the test doesn't wait on wall-clock Δt
	cfg.Loop.WarmupFrames = 2
	cfg.Loop.FailsafeConsecutive = 2
	cfg.SHM.ImageName = fmt.Sprintf("orch_test_img_%d", time.Now().UnixNano())
	cfg.SHM.DetectionName = fmt.Sprintf("orch_test_det_%d", time.Now().UnixNano())
	cfg.SHM.AttachRetryCount = 5
	cfg.SHM.AttachRetryDelay = 10 * time.Millisecond

	// Stand in for the detector process, which creates detection_results;
	// Orchestrator.Attach only attaches to it. Nothing writes to it.
	det, err := shm.CreateDetectionRing(cfg.SHM.DetectionName)
	require.NoError(t, err)
	t.Cleanup(func() { det.Destroy() })
	return cfg
}

// TestOrchestratorRunsWithoutADetectorLeavesFailsafeAfterWarmup exercises
// the tick loop end to end against real SHM with no detector process
// attached: detection reads time out every tick, so after warm-up exits
// the orchestrator must settle into FAILSAFE (spec §4.D's K-consecutive-
// miss rule) rather than hang or crash.
func TestOrchestratorRunsWithoutADetectorLeavesFailsafeAfterWarmup(t *testing.T) {
	cfg := testConfig(t)
	sim := newFakeSimulator()
	pub := &recordingPublisher{}
	log := telemetry.DefaultLogger("test")

	o := NewOrchestrator(cfg, sim, pub, log)
	require.NoError(t, o.Attach())
	defer o.imageRing.Destroy()
	defer o.detectionRing.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := o.Run(ctx)
	require.NoError(t, err)
	require.Greater(t, sim.frame, 0)
	require.True(t, sim.haveCmd)
	require.Equal(t, ModeFailsafe, o.state.Mode())
	require.Greater(t, pub.count.Load(), int64(0))
}

// TestOrchestratorPauseResumeSkipsSimulatorTickAndApply verifies spec
// §4.D's pause contract: while paused, simulator.tick()/apply() are never
// called. (Action polling continues while paused; this test sends no
// resume action.)
func TestOrchestratorPauseResumeSkipsSimulatorTickAndApply(t *testing.T) {
	cfg := testConfig(t)
	sim := newFakeSimulator()
	log := telemetry.DefaultLogger("test")

	o := NewOrchestrator(cfg, sim, nil, log)
	require.NoError(t, o.Attach())
	defer o.imageRing.Destroy()
	defer o.detectionRing.Close()

	o.state.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, o.Run(ctx))

	require.Equal(t, 0, sim.frame)
	require.False(t, sim.haveCmd)
}

// TestOrchestratorRespawnResetsWarmupAndFrameID exercises the respawn
// lifecycle action (spec §4.D "Respawn").
func TestOrchestratorRespawnResetsWarmupAndFrameID(t *testing.T) {
	cfg := testConfig(t)
	sim := newFakeSimulator()
	log := telemetry.DefaultLogger("test")

	o := NewOrchestrator(cfg, sim, nil, log)
	require.NoError(t, o.Attach())
	defer o.imageRing.Destroy()
	defer o.detectionRing.Close()

	o.frameID = 9
	o.state.Advance(9, true) // past warm-up

	o.handleAction(context.Background(), Action{Kind: ActionRespawn})

	require.Equal(t, 1, sim.respawns)
	require.Equal(t, uint64(0), o.frameID)
	require.Equal(t, ModeWarmup, o.state.Mode())
}
