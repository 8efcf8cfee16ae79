package broadcast

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gorilla/websocket"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/orchestrate"
	"github.com/lkasproject/lkas-core/internal/telemetry"
)

// outboundHWM is spec §4.E's "High-water mark 10 on the outbound;
// oldest-drop on overflow."
const outboundHWM = 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// telemetrySub is one connected viewer on the outbound socket. send is a
// bounded, drop-oldest mailbox so a slow viewer never backs up the
// publisher (spec §4.D "The broadcaster never blocks the tick.").
type telemetrySub struct {
	conn  *websocket.Conn
	send  chan []byte
	frame *frameChannel // non-nil once a WebRTC data channel is negotiated
}

// controlSub is one connected client on the inbound /control socket. Most
// control traffic is inbound-only (actions, parameter tweaks), but the
// detector process also subscribes here to receive the orchestrator's
// rebroadcast detection-category parameter updates (spec §4.E), so each
// connection needs its own outbound mailbox too.
type controlSub struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster implements orchestrate.Publisher: a pub/sub hub with two
// listeners (spec §4.E), grounded on
// kernel/core/mesh/transport/transport.go's signaling-connection and
// connection-map shape, adapted from a mesh RPC transport to a one-way
// telemetry fan-out plus a small inbound control channel.
type Broadcaster struct {
	cfg lkcore.BroadcastConfig
	log *telemetry.Logger

	mu          sync.RWMutex
	subs        map[*telemetrySub]struct{}
	controlSubs map[*controlSub]struct{}

	dedup   *frameDedup
	limiter *controlRateLimiter

	actionsOut       chan<- orchestrate.Action
	decisionParamOut chan<- lkcore.ParamUpdate
	detectionParamIn <-chan lkcore.ParamUpdate
	snapshot         SnapshotSource

	telemetryServer *http.Server
	controlServer   *http.Server
}

// SnapshotSource returns the orchestrator's last published
// TelemetrySnapshot; ok is false if nothing has been published yet.
// Satisfied by orchestrate.Orchestrator.Snapshot.
type SnapshotSource func() (orchestrate.TelemetrySnapshot, bool)

// NewBroadcaster wires a Broadcaster. actionsOut/decisionParamOut are the
// orchestrator's inbound queues; detectionParamIn is the orchestrator's
// outbound queue of detection-category updates (including the respawn
// smoothing reset) that this broadcaster rebroadcasts to any detector
// process subscribed on the control socket. snapshot, when non-nil, is
// pushed to a viewer immediately on connect (SPEC_FULL.md §3's "status
// snapshot endpoint": a reconnecting viewer sees current state without
// waiting for the next tick).
func NewBroadcaster(cfg lkcore.BroadcastConfig, actionsOut chan<- orchestrate.Action, decisionParamOut chan<- lkcore.ParamUpdate, detectionParamIn <-chan lkcore.ParamUpdate, snapshot SnapshotSource, log *telemetry.Logger) (*Broadcaster, error) {
	limiter, err := newControlRateLimiter(20, 40)
	if err != nil {
		return nil, fmt.Errorf("broadcast: build rate limiter: %w", err)
	}
	return &Broadcaster{
		cfg:              cfg,
		log:              log,
		subs:             make(map[*telemetrySub]struct{}),
		controlSubs:      make(map[*controlSub]struct{}),
		dedup:            newFrameDedup(),
		limiter:          limiter,
		actionsOut:       actionsOut,
		decisionParamOut: decisionParamOut,
		detectionParamIn: detectionParamIn,
		snapshot:         snapshot,
	}, nil
}

// Start binds both listeners and begins the detection-parameter forwarder.
// It returns once both sockets are bound — binding at startup, never
// blocking the tick, per spec §4.E.
func (b *Broadcaster) Start(ctx context.Context) error {
	telemetryMux := http.NewServeMux()
	telemetryMux.HandleFunc("/telemetry", b.handleTelemetryConn)
	b.telemetryServer = &http.Server{Addr: b.cfg.BroadcastURL, Handler: telemetryMux}

	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/control", b.handleControlConn)
	b.controlServer = &http.Server{Addr: b.cfg.ActionURL, Handler: controlMux}

	errCh := make(chan error, 2)
	go func() { errCh <- b.telemetryServer.ListenAndServe() }()
	go func() { errCh <- b.controlServer.ListenAndServe() }()
	go b.forwardDetectionParams(ctx)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("broadcast: listen: %w", err)
		}
	default:
	}
	return nil
}

// Close shuts down both listeners (spec §5 "close broadcaster sockets").
func (b *Broadcaster) Close() error {
	var firstErr error
	if b.telemetryServer != nil {
		if err := b.telemetryServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.controlServer != nil {
		if err := b.controlServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Publish implements orchestrate.Publisher. It is fire-and-forget: every
// subscriber write is non-blocking with drop-oldest overflow, so a stalled
// viewer can never slow the tick loop.
func (b *Broadcaster) Publish(msg orchestrate.PublishMessage) {
	if msg.Frame != nil && b.cfg.SendFrames && !b.dedup.seenBefore(msg.FrameID) {
		if payload, err := b.encodeFramePayload(msg); err == nil {
			b.fanOut(TopicFrame, payload, msg.FrameID)
		} else {
			b.log.Warn("frame encode failed, dropping frame topic this tick", telemetry.Err(err))
		}
	}

	detWire := detectionWireFromResult(msg.Detection)
	if payload, err := b.compressJSON(detWire); err == nil {
		b.fanOut(TopicDetection, payload, msg.FrameID)
	}

	state := StateWire{
		FrameID: msg.FrameID, Mode: msg.Mode.String(),
		Steering: msg.Command.Steering, Throttle: msg.Command.Throttle, Brake: msg.Command.Brake,
	}
	if payload, err := b.compressJSON(state); err == nil {
		b.fanOut(TopicState, payload, msg.FrameID)
	}
}

func (b *Broadcaster) compressJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Broadcaster) encodeFramePayload(msg orchestrate.PublishMessage) ([]byte, error) {
	f := msg.Frame
	jpegBytes, err := encodeJPEG(f.Pixels, f.Width, f.Height, f.Channels, b.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	metaBytes, err := marshalFrameMeta(FrameMeta{
		FrameID: f.FrameID, Timestamp: f.Timestamp,
		Width: f.Width, Height: f.Height, JPEGSize: len(jpegBytes),
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(metaBytes)+len(jpegBytes))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(metaBytes)))
	copy(out[4:], metaBytes)
	copy(out[4+len(metaBytes):], jpegBytes)
	return out, nil
}

// fanOut delivers payload to every subscriber's mailbox, preferring an
// open WebRTC data channel for the frame topic and falling back to the
// websocket write loop otherwise.
func (b *Broadcaster) fanOut(topic Topic, payload []byte, frameID uint64) {
	framed := append([]byte(topic+"|"), payload...)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if topic == TopicFrame && sub.frame != nil && sub.frame.send(framed) {
			continue
		}
		select {
		case sub.send <- framed:
		default:
			select {
			case <-sub.send:
			default:
			}
			select {
			case sub.send <- framed:
			default:
			}
		}
	}
}

// sendInitialSnapshot pushes the orchestrator's last published
// TelemetrySnapshot to a newly connected viewer, so it doesn't have to
// wait for the next tick to see current state (SPEC_FULL.md §3).
func (b *Broadcaster) sendInitialSnapshot(sub *telemetrySub) {
	if b.snapshot == nil {
		return
	}
	snap, ok := b.snapshot()
	if !ok {
		return
	}

	detWire := detectionWireFromResult(snap.Detection)
	if payload, err := b.compressJSON(detWire); err == nil {
		b.sendTo(sub, TopicDetection, payload)
	}

	state := StateWire{
		FrameID: snap.FrameID, Mode: snap.Mode.String(),
		Steering: snap.Command.Steering, Throttle: snap.Command.Throttle, Brake: snap.Command.Brake,
	}
	if payload, err := b.compressJSON(state); err == nil {
		b.sendTo(sub, TopicState, payload)
	}
}

// sendTo enqueues a single framed payload onto one subscriber's mailbox,
// non-blocking like fanOut.
func (b *Broadcaster) sendTo(sub *telemetrySub, topic Topic, payload []byte) {
	framed := append([]byte(topic+"|"), payload...)
	select {
	case sub.send <- framed:
	default:
	}
}

func (b *Broadcaster) handleTelemetryConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("telemetry upgrade failed", telemetry.Err(err))
		return
	}
	sub := &telemetrySub{conn: conn, send: make(chan []byte, outboundHWM)}
	defer conn.Close()

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.sendInitialSnapshot(sub)

	go b.writeLoop(sub)
	b.readLoopUntilClose(sub)

	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	close(sub.send)
	if sub.frame != nil {
		sub.frame.close()
	}
}

func (b *Broadcaster) writeLoop(sub *telemetrySub) {
	for payload := range sub.send {
		if err := sub.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
}

// readLoopUntilClose drains inbound messages on the telemetry socket (a
// viewer may send a webrtc_offer here to request the data-channel path for
// frames) until the connection closes.
func (b *Broadcaster) readLoopUntilClose(sub *telemetrySub) {
	for {
		_, message, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var offer webrtcOffer
		if err := json.Unmarshal(message, &offer); err == nil && offer.Type == "webrtc_offer" {
			b.handleWebRTCOffer(sub, offer)
		}
	}
}

func (b *Broadcaster) handleWebRTCOffer(sub *telemetrySub, offer webrtcOffer) {
	fc, answer, err := negotiateWebRTC(offer.Offer)
	if err != nil {
		b.log.Warn("webrtc negotiation failed, staying on websocket", telemetry.Err(err))
		return
	}
	sub.frame = fc
	resp, err := json.Marshal(webrtcAnswer{Type: "webrtc_answer", Answer: answer})
	if err != nil {
		return
	}
	_ = sub.conn.WriteMessage(websocket.TextMessage, resp)
}

func (b *Broadcaster) handleControlConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("control upgrade failed", telemetry.Err(err))
		return
	}
	defer conn.Close()

	sub := &controlSub{conn: conn, send: make(chan []byte, outboundHWM)}
	b.mu.Lock()
	b.controlSubs[sub] = struct{}{}
	b.mu.Unlock()
	go b.controlWriteLoop(sub)

	connID := r.RemoteAddr
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if !b.limiter.allow(connID) {
			b.log.Warn("control message rate-limited, dropping", telemetry.String("conn", connID))
			continue
		}
		b.routeControlMessage(message)
	}

	b.mu.Lock()
	delete(b.controlSubs, sub)
	b.mu.Unlock()
	close(sub.send)
}

func (b *Broadcaster) controlWriteLoop(sub *controlSub) {
	for payload := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// routeControlMessage sniffs an inbound control payload into an action or
// a parameter update per spec §6's two inbound shapes.
func (b *Broadcaster) routeControlMessage(message []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(message, &probe); err != nil {
		b.log.Warn("malformed control message, ignoring", telemetry.Err(err))
		return
	}

	if _, ok := probe["action"]; ok {
		var a ActionMessage
		if err := json.Unmarshal(message, &a); err != nil {
			return
		}
		kind, ok := parseActionKind(a.Action)
		if !ok {
			b.log.Warn("unknown action, ignoring", telemetry.String("action", a.Action))
			return
		}
		select {
		case b.actionsOut <- orchestrate.Action{Kind: kind}:
		default:
			b.log.Warn("action queue full, dropping", telemetry.String("action", a.Action))
		}
		return
	}

	if _, ok := probe["category"]; ok {
		var p ParameterMessage
		if err := json.Unmarshal(message, &p); err != nil {
			return
		}
		update, ok := p.ToUpdate()
		if !ok {
			b.log.Warn("unknown parameter category, ignoring", telemetry.String("category", p.Category))
			return
		}
		if update.Category == lkcore.ParamCategoryDecision {
			select {
			case b.decisionParamOut <- update:
			default:
			}
			return
		}
		// detection-category updates are not applied here: they only make
		// sense in the detector process, which subscribes to this same
		// control socket independently (spec §4.E) and filters for its
		// own category, so they are rebroadcast to every control subscriber.
		b.broadcastControlFrame(message)
	}
}

func parseActionKind(s string) (orchestrate.ActionKind, bool) {
	switch s {
	case "respawn":
		return orchestrate.ActionRespawn, true
	case "pause":
		return orchestrate.ActionPause, true
	case "resume":
		return orchestrate.ActionResume, true
	default:
		return 0, false
	}
}

// forwardDetectionParams rebroadcasts the orchestrator's outbound
// detection-category updates (parameter tweaks and the respawn smoothing
// reset) to every control-socket subscriber, so a detector process
// connected there receives them the same way a viewer's own parameter
// messages would arrive (spec §4.E).
func (b *Broadcaster) forwardDetectionParams(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-b.detectionParamIn:
			if !ok {
				return
			}
			payload, err := json.Marshal(ParameterMessage{Category: "detection", Name: update.Name, Value: update.Value})
			if err != nil {
				continue
			}
			b.broadcastControlFrame(payload)
		}
	}
}

func (b *Broadcaster) broadcastControlFrame(payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.controlSubs {
		select {
		case sub.send <- payload:
		default:
		}
	}
}
