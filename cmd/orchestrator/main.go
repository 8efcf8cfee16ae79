// Command orchestrator runs the lane-keeping tick loop: it drives the
// external simulator, writes camera frames into the camera_feed SHM ring,
// reads detection results back, decides a control command, and publishes
// telemetry over the broadcaster (spec §4.D).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lkasproject/lkas-core/internal/broadcast"
	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/orchestrate"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := telemetry.DefaultLogger("orchestrator")

	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	simulatorURL := fs.String("simulator", "", "websocket endpoint of the external simulator/actuator (required)")
	resolve := lkcore.BindFlags(fs, lkcore.Default())
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *simulatorURL == "" {
		log.Error("missing required -simulator flag")
		return 2
	}
	cfg := resolve()
	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", telemetry.Err(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := orchestrate.NewSimulatorClient(ctx, *simulatorURL, log)
	if err != nil {
		log.Error("failed to connect to simulator", telemetry.Err(err))
		return 1
	}

	o := orchestrate.NewOrchestrator(cfg, sim, nil, log)
	if err := o.Attach(); err != nil {
		log.Error("failed to attach shared-memory regions", telemetry.Err(err))
		return 1
	}

	shutdown := telemetry.NewGracefulShutdown(2*time.Second, log)
	o.RegisterShutdownHooks(shutdown)

	if cfg.Broadcast.Enabled {
		bc, err := broadcast.NewBroadcaster(cfg.Broadcast, o.Actions(), o.DecisionParams(), o.DetectionParamsOut(), o.Snapshot, log)
		if err != nil {
			log.Error("failed to build broadcaster", telemetry.Err(err))
			return 1
		}
		if err := bc.Start(ctx); err != nil {
			log.Error("failed to start broadcaster", telemetry.Err(err))
			return 1
		}
		o.SetPublisher(bc)
		shutdown.Register(bc.Close)
	}

	runErr := o.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown did not complete cleanly", telemetry.Err(err))
	}

	if runErr != nil {
		log.Error("orchestrator exited with error", telemetry.Err(runErr))
		return 1
	}
	log.Info("orchestrator shut down cleanly")
	return 0
}
