package broadcast

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gorilla/websocket"

	"github.com/lkasproject/lkas-core/internal/telemetry"
	"github.com/lkasproject/lkas-core/internal/wsdial"
)

// reconnectDelay matches the reconnect-loop cadence
// kernel/core/mesh/transport/transport.go's reconnectSignaling uses
// between dial attempts.
const reconnectDelay = 2 * time.Second

// Frame is one decoded telemetry message delivered to a viewer's
// subscription callback.
type Frame struct {
	Topic   Topic
	Payload []byte // brotli-decompressed for detection/state; raw for frame
}

// Handler is called once per delivered message. It must not block.
type Handler func(Frame)

// ViewerClient subscribes to a Broadcaster's telemetry socket and
// reconnects automatically if the broadcaster restarts (spec §4.E:
// "Must reconnect automatically if the broadcaster restarts"), grounded on
// transport.go's connectSignaling/reconnectSignaling dial-and-retry loop.
type ViewerClient struct {
	url      string
	log      *telemetry.Logger
	handler  Handler
	dialer   *websocket.Dialer
	connected atomic.Bool
}

func NewViewerClient(url string, handler Handler, log *telemetry.Logger) *ViewerClient {
	return &ViewerClient{url: url, handler: handler, log: log, dialer: wsdial.New()}
}

// Run dials and re-dials until ctx is cancelled.
func (c *ViewerClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warn("viewer dial failed, retrying", telemetry.Err(err))
			c.sleepOrDone(ctx, reconnectDelay)
			continue
		}

		c.connected.Store(true)
		c.log.Info("viewer connected", telemetry.String("url", c.url))
		c.readUntilClose(conn)
		c.connected.Store(false)
		conn.Close()

		c.sleepOrDone(ctx, reconnectDelay)
	}
}

func (c *ViewerClient) Connected() bool { return c.connected.Load() }

func (c *ViewerClient) sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *ViewerClient) readUntilClose(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		topic, payload, ok := splitTopicFrame(message)
		if !ok {
			continue
		}
		if topic != TopicFrame {
			if decoded, err := decompressBrotli(payload); err == nil {
				payload = decoded
			}
		}
		c.handler(Frame{Topic: topic, Payload: payload})
	}
}

func splitTopicFrame(message []byte) (Topic, []byte, bool) {
	i := bytes.IndexByte(message, '|')
	if i < 0 {
		return "", nil, false
	}
	return Topic(message[:i]), message[i+1:], true
}

func decompressBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
