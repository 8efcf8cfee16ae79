package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/telemetry"
	"github.com/lkasproject/lkas-core/internal/wsdial"
)

// frameHeader is the JSON header the simulator endpoint sends ahead of a
// frame's raw pixel bytes on the same websocket message, separated from
// them by one '\n' byte (spec §6 names no concrete transport for "a
// simulator endpoint"; see DESIGN.md's Open Question entry on the
// simulator transport decision).
type frameHeader struct {
	FrameID   uint64 `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	Channels  int32  `json:"channels"`
}

// SimulatorClient is the concrete Simulator implementation that dials an
// external simulator/actuator process over a persistent websocket
// connection, grounded on kernel/core/mesh/transport/transport.go's
// connectSignaling/reconnectSignaling dial idiom (the same pattern
// broadcast.ViewerClient uses for the telemetry socket).
type SimulatorClient struct {
	url    string
	log    *telemetry.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	latest  Frame
	haveNew bool
}

// NewSimulatorClient dials url immediately so a dead simulator fails fast at
// startup rather than surfacing as the first tick's timeout.
func NewSimulatorClient(ctx context.Context, url string, log *telemetry.Logger) (*SimulatorClient, error) {
	c := &SimulatorClient{url: url, log: log, dialer: wsdial.New()}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SimulatorClient) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("simulator: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Tick requests one simulation step and blocks for the frame it produces.
// A connection dropped by an earlier failure is redialed first; a write or
// read failure in this call drops the connection and returns the error
// without retrying. The caller (tickBreaker) is responsible for the
// overall deadline.
func (c *SimulatorClient) Tick(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if err := c.dial(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"tick"}`)); err != nil {
		c.dropConn()
		return fmt.Errorf("simulator: tick write: %w", err)
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		c.dropConn()
		return fmt.Errorf("simulator: tick read: %w", err)
	}
	frame, err := decodeFrameMessage(message)
	if err != nil {
		return fmt.Errorf("simulator: decode frame: %w", err)
	}

	c.mu.Lock()
	c.latest = frame
	c.haveNew = true
	c.mu.Unlock()
	return nil
}

func (c *SimulatorClient) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.mu.Unlock()
}

// Latest returns the frame produced by the most recent successful Tick.
func (c *SimulatorClient) Latest() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveNew {
		return Frame{}, false
	}
	c.haveNew = false
	return c.latest, true
}

// Apply sends the decided control command to the actuator.
func (c *SimulatorClient) Apply(cmd lkcore.ControlCommand) error {
	payload, err := json.Marshal(struct {
		Op       string  `json:"op"`
		Steering float32 `json:"steering"`
		Throttle float32 `json:"throttle"`
		Brake    float32 `json:"brake"`
	}{Op: "apply", Steering: cmd.Steering, Throttle: cmd.Throttle, Brake: cmd.Brake})
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("simulator: apply: no connection")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropConn()
		return fmt.Errorf("simulator: apply write: %w", err)
	}
	return nil
}

// Respawn requests the simulator teleport the vehicle to its next spawn
// point (spec §4.D "Respawn").
func (c *SimulatorClient) Respawn(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if err := c.dial(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"respawn"}`)); err != nil {
		c.dropConn()
		return fmt.Errorf("simulator: respawn: %w", err)
	}
	return nil
}

// Close disconnects from the simulator (spec §5 "Cancellation").
func (c *SimulatorClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func decodeFrameMessage(message []byte) (Frame, error) {
	i := bytes.IndexByte(message, '\n')
	if i < 0 {
		return Frame{}, fmt.Errorf("missing header/pixel separator")
	}
	var hdr frameHeader
	if err := json.Unmarshal(message[:i], &hdr); err != nil {
		return Frame{}, fmt.Errorf("header: %w", err)
	}
	return Frame{
		FrameID: hdr.FrameID, Timestamp: hdr.Timestamp,
		Width: hdr.Width, Height: hdr.Height, Channels: hdr.Channels,
		Pixels: message[i+1:],
	}, nil
}
