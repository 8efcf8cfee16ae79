package orchestrate

import (
	"context"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// Frame is one camera frame as the simulator hands it to the orchestrator,
// ready to be written into the image ring (spec §4.A's camera_feed
// region).
type Frame struct {
	FrameID   uint64
	Timestamp float64
	Width     int32
	Height    int32
	Channels  int32
	Pixels    []byte
}

// Simulator is the synchronous tick+apply contract spec §5 mandates
// between the orchestrator and the external vehicle actuator/simulator:
// "the orchestrator communicates with them through a synchronous tick +
// apply API." Only the synchronous mode is modeled — asynchronous/replay
// simulator backends are a named Non-goal.
type Simulator interface {
	// Tick blocks until the simulator has advanced one fixed Δt step.
	// A failure to advance within the caller's deadline must be reported
	// as ctx.Err(); the orchestrator treats any error here as fatal after
	// 2·Δt (spec §4.D "Failure semantics").
	Tick(ctx context.Context) error

	// Latest returns the most recent camera frame produced by the tick
	// that just completed. ok is false when the simulator has nothing new
	// yet (spec's tick-loop pseudocode: "if image is None: continue").
	Latest() (Frame, bool)

	// Apply pushes a control command to the vehicle actuator. It is
	// called once per tick except while paused.
	Apply(cmd lkcore.ControlCommand) error

	// Respawn teleports the vehicle to a spawn point, cycling through the
	// configured list when called repeatedly (spec §4.D "Respawn").
	Respawn(ctx context.Context) error

	// Close disconnects from the simulator (spec §5 "Cancellation").
	Close() error
}
