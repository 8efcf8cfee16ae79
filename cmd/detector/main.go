// Command detector runs the lane-detection worker: it attaches to the
// orchestrator's camera_feed SHM ring, runs the classical (or
// deep-learning-calibrated) detection pipeline on every frame, and
// publishes results into the detection_results SHM ring it owns (spec
// §4.B, §5).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lkasproject/lkas-core/internal/detect"
	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := telemetry.DefaultLogger("detector")

	fs := flag.NewFlagSet("detector", flag.ContinueOnError)
	deepLearning := fs.Bool("deep_learning", false, "use the goml-calibrated DeepLearning variant instead of Classical")
	controlURL := fs.String("control_url", "", "websocket URL of the orchestrator's /control socket, for live parameter updates (optional)")
	resolve := lkcore.BindFlags(fs, lkcore.Default())
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	cfg := resolve()
	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", telemetry.Err(err))
		return 2
	}

	var detector detect.Detector
	if *deepLearning {
		detector = detect.NewDeepLearning(cfg.CV)
	} else {
		detector = detect.NewClassical(cfg.CV)
	}

	if err := detect.SelfCheck(cfg, detector); err != nil {
		log.Error("detector self-check failed", telemetry.Err(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paramCh := make(chan lkcore.ParamUpdate, 16)
	if *controlURL != "" {
		client := detect.NewParamClient(*controlURL, paramCh, log)
		go client.Run(ctx)
	}

	worker := detect.NewWorker(cfg, detector, log, paramCh)
	if err := worker.Attach(); err != nil {
		log.Error("failed to attach shared-memory regions", telemetry.Err(err))
		return 1
	}

	if err := worker.Run(ctx); err != nil {
		log.Error("detector worker exited with error", telemetry.Err(err))
		return 1
	}
	log.Info("detector shut down cleanly")
	return 0
}
