package detect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lkasproject/lkas-core/internal/broadcast"
	"github.com/lkasproject/lkas-core/internal/lkcore"
	"github.com/lkasproject/lkas-core/internal/telemetry"
	"github.com/lkasproject/lkas-core/internal/wsdial"
)

// reconnectDelay mirrors broadcast.ViewerClient's dial-retry cadence.
const reconnectDelay = 2 * time.Second

// ParamClient subscribes the detector to the broadcaster's /control socket
// (spec §4.E: "the detector worker subscribes independently for detection
// updates") and forwards every "detection"-category parameter update,
// including the reserved "_reset" smoothing signal, onto out. Grounded on
// the same transport.go dial/reconnect idiom broadcast.ViewerClient uses,
// specialized to the one topic the detector process actually needs.
type ParamClient struct {
	url    string
	out    chan<- lkcore.ParamUpdate
	log    *telemetry.Logger
	dialer *websocket.Dialer
}

func NewParamClient(url string, out chan<- lkcore.ParamUpdate, log *telemetry.Logger) *ParamClient {
	return &ParamClient{url: url, out: out, log: log, dialer: wsdial.New()}
}

// Run dials and re-dials the control socket until ctx is cancelled.
func (c *ParamClient) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Warn("detector control dial failed, retrying", telemetry.Err(err))
			c.sleepOrDone(ctx, reconnectDelay)
			continue
		}

		c.log.Info("detector subscribed to control socket")
		c.readUntilClose(conn)
		conn.Close()
		c.sleepOrDone(ctx, reconnectDelay)
	}
}

func (c *ParamClient) sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *ParamClient) readUntilClose(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var probe struct {
			Category string `json:"category"`
		}
		if err := json.Unmarshal(message, &probe); err != nil || probe.Category == "" {
			continue
		}
		var pm broadcast.ParameterMessage
		if err := json.Unmarshal(message, &pm); err != nil {
			continue
		}
		update, ok := pm.ToUpdate()
		if !ok || update.Category != lkcore.ParamCategoryDetection {
			continue
		}
		select {
		case c.out <- update:
		default:
			c.log.Warn("detector parameter channel full, dropping update")
		}
	}
}
