package orchestrate

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lkasproject/lkas-core/internal/lkcore"
)

// tickBreaker wraps Simulator.Tick so a simulator that fails to advance
// within its deadline trips the breaker open on that first failure rather
// than being retried inline in the tick loop — spec §4.D: "a simulator failure to tick within
// 2·Δt surfaces as a fatal error and the orchestrator exits non-zero."
// Grounded on the same `sony/gobreaker` wiring as detect/worker.go's
// attachBreaker; here it guards the tick call instead of the SHM attach.
type tickBreaker struct {
	cb *gobreaker.CircuitBreaker
	dt time.Duration
}

func newTickBreaker(dt time.Duration) *tickBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "orchestrator-simulator-tick",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	return &tickBreaker{cb: cb, dt: dt}
}

// Tick calls sim.Tick under a 2*Δt deadline. Any error from sim.Tick
// (a missed deadline included) or an open breaker is wrapped in
// lkcore.ErrSimulatorTickTimeout for the caller to treat as
// fatal per spec §4.D.
func (b *tickBreaker) Tick(ctx context.Context, sim Simulator) error {
	tickCtx, cancel := context.WithTimeout(ctx, 2*b.dt)
	defer cancel()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, sim.Tick(tickCtx)
	})
	if err != nil {
		return lkcore.NewStageError("orchestrator.tick.simulator", lkcore.ErrSimulatorTickTimeout, err)
	}
	return nil
}
