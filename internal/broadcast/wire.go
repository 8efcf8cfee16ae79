// Package broadcast implements the broadcaster and viewer client from
// spec §4.E: a pub/sub publisher reachable over two websocket sockets
// (outbound telemetry, inbound control) with an optional WebRTC
// data-channel fast path for the high-bandwidth frame topic.
package broadcast

import "github.com/lkasproject/lkas-core/internal/lkcore"

// Topic names the three outbound pub/sub streams spec §4.D defines.
type Topic string

const (
	TopicFrame     Topic = "frame"
	TopicDetection Topic = "detection"
	TopicState     Topic = "state"
)

// FrameMeta is the JSON metadata that precedes the JPEG bytes on the frame
// topic (spec §6: "4-byte little-endian metadata length, then JSON
// {frame_id, timestamp, width, height, jpeg_size}, then JPEG bytes").
type FrameMeta struct {
	FrameID   uint64  `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
	Width     int32   `json:"width"`
	Height    int32   `json:"height"`
	JPEGSize  int     `json:"jpeg_size"`
}

// DetectionWire mirrors lkcore.DetectionResult for the `detection` topic
// (spec §6: "JSON as in DetectionResult, 200-400 bytes").
type DetectionWire struct {
	FrameID          uint64      `json:"frame_id"`
	Timestamp        float64     `json:"timestamp"`
	ProcessingTimeMs float64     `json:"processing_time_ms"`
	LeftLane         *LaneWire   `json:"left_lane,omitempty"`
	RightLane        *LaneWire   `json:"right_lane,omitempty"`
}

type LaneWire struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

func detectionWireFromResult(d lkcore.DetectionResult) DetectionWire {
	w := DetectionWire{FrameID: d.FrameID, Timestamp: d.Timestamp, ProcessingTimeMs: d.ProcessingTimeMs}
	if d.LeftLane != nil {
		w.LeftLane = &LaneWire{d.LeftLane.X1, d.LeftLane.Y1, d.LeftLane.X2, d.LeftLane.Y2, d.LeftLane.Confidence}
	}
	if d.RightLane != nil {
		w.RightLane = &LaneWire{d.RightLane.X1, d.RightLane.Y1, d.RightLane.X2, d.RightLane.Y2, d.RightLane.Confidence}
	}
	return w
}

// StateWire is the `state` topic payload: frame_id, mode, steering,
// throttle and brake. It carries no speed, position or rotation.
type StateWire struct {
	FrameID  uint64  `json:"frame_id"`
	Mode     string  `json:"mode"`
	Steering float32 `json:"steering"`
	Throttle float32 `json:"throttle"`
	Brake    float32 `json:"brake"`
}

// ActionMessage is the inbound `action` message (spec §6:
// `{"action": "respawn"|"pause"|"resume"}`).
type ActionMessage struct {
	Action string `json:"action"`
}

// ParameterMessage is the inbound `parameter` message (spec §6:
// `{"category", "name", "value"}`).
type ParameterMessage struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
}

func (p ParameterMessage) ToUpdate() (lkcore.ParamUpdate, bool) {
	var cat lkcore.ParamCategory
	switch p.Category {
	case "detection":
		cat = lkcore.ParamCategoryDetection
	case "decision":
		cat = lkcore.ParamCategoryDecision
	default:
		return lkcore.ParamUpdate{}, false
	}
	return lkcore.ParamUpdate{Category: cat, Name: p.Name, Value: p.Value}, true
}
