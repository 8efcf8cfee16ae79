package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/orchestrate"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

func TestFrameDedupFlagsRepeatedFrameID(t *testing.T) {
	d := newFrameDedup()
	require.False(t, d.seenBefore(42))
	require.True(t, d.seenBefore(42))
	require.False(t, d.seenBefore(43))
}

func TestParameterMessageToUpdateRejectsUnknownCategory(t *testing.T) {
	_, ok := ParameterMessage{Category: "bogus", Name: "Kp", Value: 1}.ToUpdate()
	require.False(t, ok)

	update, ok := ParameterMessage{Category: "decision", Name: "Kp", Value: 0.7}.ToUpdate()
	require.True(t, ok)
	require.Equal(t, lkcore.ParamCategoryDecision, update.Category)
	require.Equal(t, 0.7, update.Value)
}

func TestDetectionWireFromResultOmitsAbsentLanes(t *testing.T) {
	w := detectionWireFromResult(lkcore.DetectionResult{FrameID: 7})
	require.Nil(t, w.LeftLane)
	require.Nil(t, w.RightLane)

	lane := &lkcore.Lane{X1: 1, Y1: 2, X2: 3, Y2: 4, Confidence: 0.9}
	w = detectionWireFromResult(lkcore.DetectionResult{LeftLane: lane})
	require.NotNil(t, w.LeftLane)
	require.Equal(t, 0.9, w.LeftLane.Confidence)
}

// TestBroadcasterPublishReachesSubscriberOverWebsocket exercises the full
// telemetry fan-out path: Publish -> fanOut -> websocket write -> a real
// client connection reads detection and state frames.
func TestBroadcasterPublishReachesSubscriberOverWebsocket(t *testing.T) {
	actions := make(chan orchestrate.Action, 4)
	decisionParams := make(chan lkcore.ParamUpdate, 4)
	detectionParams := make(chan lkcore.ParamUpdate, 4)
	log := telemetry.DefaultLogger("test")

	cfg := lkcore.BroadcastConfig{
		BroadcastURL: fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		ActionURL:    fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		JPEGQuality:  80,
		SendFrames:   false,
	}

	b, err := NewBroadcaster(cfg, actions, decisionParams, detectionParams, nil, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()
	time.Sleep(50 * time.Millisecond) // let the listeners bind

	telemetryURL := url.URL{Scheme: "ws", Host: cfg.BroadcastURL, Path: "/telemetry"}
	conn, _, err := websocket.DefaultDialer.Dial(telemetryURL.String(), nil)
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let the server register the subscriber

	b.Publish(orchestrate.PublishMessage{
		FrameID: 5,
		Metrics: lkcore.LaneMetrics{Status: lkcore.StatusCentered},
		Command: lkcore.ControlCommand{Throttle: 0.4, Mode: lkcore.ModeLaneKeeping},
		Mode:    orchestrate.ModeLaneKeeping,
	})

	sawState := false
	for i := 0; i < 4; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		topic, payload, ok := splitTopicFrame(message)
		require.True(t, ok)
		if topic == TopicState {
			decoded, err := decompressBrotli(payload)
			require.NoError(t, err)
			var state StateWire
			require.NoError(t, json.Unmarshal(decoded, &state))
			require.Equal(t, uint64(5), state.FrameID)
			sawState = true
			break
		}
	}
	require.True(t, sawState, "expected to observe a state topic message")
}

// TestControlSocketRoutesActionMessage verifies an inbound respawn action
// reaches the orchestrator's action queue.
func TestControlSocketRoutesActionMessage(t *testing.T) {
	actions := make(chan orchestrate.Action, 4)
	decisionParams := make(chan lkcore.ParamUpdate, 4)
	detectionParams := make(chan lkcore.ParamUpdate, 4)
	log := telemetry.DefaultLogger("test")

	cfg := lkcore.BroadcastConfig{
		BroadcastURL: fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		ActionURL:    fmt.Sprintf("127.0.0.1:%d", freePort(t)),
	}
	b, err := NewBroadcaster(cfg, actions, decisionParams, detectionParams, nil, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()
	time.Sleep(50 * time.Millisecond)

	controlURL := url.URL{Scheme: "ws", Host: cfg.ActionURL, Path: "/control"}
	conn, _, err := websocket.DefaultDialer.Dial(controlURL.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	payload, err := json.Marshal(ActionMessage{Action: "respawn"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	select {
	case a := <-actions:
		require.Equal(t, orchestrate.ActionRespawn, a.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routed action")
	}
}

// TestTelemetryConnectReceivesInitialSnapshot verifies a newly connected
// viewer is pushed the orchestrator's last snapshot immediately, rather
// than having to wait for the next tick's Publish call.
func TestTelemetryConnectReceivesInitialSnapshot(t *testing.T) {
	actions := make(chan orchestrate.Action, 4)
	decisionParams := make(chan lkcore.ParamUpdate, 4)
	detectionParams := make(chan lkcore.ParamUpdate, 4)
	log := telemetry.DefaultLogger("test")

	cfg := lkcore.BroadcastConfig{
		BroadcastURL: fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		ActionURL:    fmt.Sprintf("127.0.0.1:%d", freePort(t)),
	}
	snapshot := func() (orchestrate.TelemetrySnapshot, bool) {
		return orchestrate.TelemetrySnapshot{
			FrameID: 99,
			Mode:    orchestrate.ModeLaneKeeping,
			Command: lkcore.ControlCommand{Throttle: 0.5, Mode: lkcore.ModeLaneKeeping},
		}, true
	}

	b, err := NewBroadcaster(cfg, actions, decisionParams, detectionParams, snapshot, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()
	time.Sleep(50 * time.Millisecond)

	telemetryURL := url.URL{Scheme: "ws", Host: cfg.BroadcastURL, Path: "/telemetry"}
	conn, _, err := websocket.DefaultDialer.Dial(telemetryURL.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	sawState := false
	for i := 0; i < 2 && !sawState; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		topic, payload, ok := splitTopicFrame(message)
		require.True(t, ok)
		if topic == TopicState {
			decoded, err := decompressBrotli(payload)
			require.NoError(t, err)
			var state StateWire
			require.NoError(t, json.Unmarshal(decoded, &state))
			require.Equal(t, uint64(99), state.FrameID)
			sawState = true
		}
	}
	require.True(t, sawState, "expected the initial snapshot's state topic without any Publish call")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
