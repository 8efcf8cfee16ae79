// Command viewer is a minimal reference client for the telemetry/control
// sockets. Spec §4.E specifies the viewer only at its interface ("external;
// renders overlays locally") — rendering is explicitly out of scope here;
// this binary subscribes, logs a summary of each topic, and can issue a
// single respawn/pause/resume action on startup, before subscribing,
// exercising the same
// control path a real overlay client would use.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkasproject/lkas-core/internal/broadcast"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := telemetry.DefaultLogger("viewer")

	fs := flag.NewFlagSet("viewer", flag.ContinueOnError)
	telemetryURL := fs.String("telemetry_url", "", "websocket URL of the broadcaster's /telemetry socket (required)")
	controlURL := fs.String("control_url", "", "websocket URL of the broadcaster's /control socket")
	action := fs.String("action", "", "one-shot action to send over the control socket: respawn|pause|resume")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *telemetryURL == "" {
		log.Error("missing required -telemetry_url flag")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *action != "" {
		if *controlURL == "" {
			log.Error("-action requires -control_url")
			return 2
		}
		if err := sendAction(ctx, *controlURL, *action); err != nil {
			log.Error("failed to send action", telemetry.Err(err))
			return 1
		}
		log.Info("action sent", telemetry.String("action", *action))
	}

	client := broadcast.NewViewerClient(*telemetryURL, logFrame(log), log)
	client.Run(ctx)
	return 0
}

func logFrame(log *telemetry.Logger) broadcast.Handler {
	return func(f broadcast.Frame) {
		switch f.Topic {
		case broadcast.TopicFrame:
			log.Info("frame", telemetry.Int("bytes", len(f.Payload)))
		case broadcast.TopicDetection:
			log.Info("detection", telemetry.String("payload", string(f.Payload)))
		case broadcast.TopicState:
			log.Info("state", telemetry.String("payload", string(f.Payload)))
		}
	}
}

func sendAction(ctx context.Context, rawURL, action string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid control url: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rawURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := json.Marshal(broadcast.ActionMessage{Action: action})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
