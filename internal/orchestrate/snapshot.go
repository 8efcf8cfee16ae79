package orchestrate

import (
	"sync/atomic"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// TelemetrySnapshot is the last tick's publishable state, consumed by the
// broadcaster thread (spec §5 "Shared-resource policy": "the broadcaster
// thread reads a snapshot of the latest telemetry published by the tick
// thread through a lock-free single-slot exchange").
type TelemetrySnapshot struct {
	FrameID   uint64
	Mode      Mode
	Metrics   lkcore.LaneMetrics
	Detection lkcore.DetectionResult
	Command   lkcore.ControlCommand
	NoLaneStreak int
}

// SnapshotExchange is a single-slot producer/consumer exchange: the tick
// thread publishes, any number of readers (the broadcaster, a status
// endpoint) load the latest value. Grounded on the teacher's
// `atomic.Value`-backed status field in
// kernel/core/mesh/transport/transport.go (`signalingStatus atomic.Value`).
type SnapshotExchange struct {
	v atomic.Value
}

// Publish stores the latest snapshot. Only the tick thread calls this.
func (e *SnapshotExchange) Publish(s TelemetrySnapshot) {
	e.v.Store(s)
}

// Load returns the most recently published snapshot. ok is false if
// nothing has been published yet.
func (e *SnapshotExchange) Load() (TelemetrySnapshot, bool) {
	v := e.v.Load()
	if v == nil {
		return TelemetrySnapshot{}, false
	}
	return v.(TelemetrySnapshot), true
}
