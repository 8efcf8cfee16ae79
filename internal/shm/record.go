package shm

import (
	"encoding/binary"
	"math"
)

// Spec §3 binary layouts. Byte order is native-host little-endian; producer
// and consumer are assumed same-host, so no endianness conversion is done
// beyond picking one consistent order (LittleEndian, matching
// kernel/threads/sab/init.go's use of binary.LittleEndian throughout).

const (
	// ImageHeaderSize is the 32-byte image ring header:
	// {frame_id:u64, timestamp:f64, width:i32, height:i32, channels:i32, ready:i32}.
	ImageHeaderSize = 32

	// DetectionHeaderSize is the 40-byte detection ring header:
	// {frame_id:u64, timestamp:f64, processing_time_ms:f64, has_left:i32,
	// has_right:i32, ready:i32} plus 4 bytes of padding to keep the two
	// LaneRecords that follow 8-byte aligned.
	DetectionHeaderSize = 40

	// LaneRecordSize is 24 bytes: {x1,y1,x2,y2:i32, confidence:f64}.
	LaneRecordSize = 24

	// DetectionRecordSize is the full detection slot: header + two lanes.
	DetectionRecordSize = DetectionHeaderSize + 2*LaneRecordSize
)

// ImageHeader is the decoded form of an image ring slot header.
type ImageHeader struct {
	FrameID  uint64
	Timestamp float64
	Width, Height, Channels int32
	Ready    int32
}

func encodeImageHeader(b []byte, h ImageHeader) {
	binary.LittleEndian.PutUint64(b[0:8], h.FrameID)
	binary.LittleEndian.PutUint64(b[8:16], float64bits(h.Timestamp))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.Width))
	binary.LittleEndian.PutUint32(b[20:24], uint32(h.Height))
	binary.LittleEndian.PutUint32(b[24:28], uint32(h.Channels))
	binary.LittleEndian.PutUint32(b[28:32], uint32(h.Ready))
}

func decodeImageHeader(b []byte) ImageHeader {
	return ImageHeader{
		FrameID:   binary.LittleEndian.Uint64(b[0:8]),
		Timestamp: bitsFloat64(binary.LittleEndian.Uint64(b[8:16])),
		Width:     int32(binary.LittleEndian.Uint32(b[16:20])),
		Height:    int32(binary.LittleEndian.Uint32(b[20:24])),
		Channels:  int32(binary.LittleEndian.Uint32(b[24:28])),
		Ready:     int32(binary.LittleEndian.Uint32(b[28:32])),
	}
}

// DetectionHeader is the decoded form of a detection ring slot header.
type DetectionHeader struct {
	FrameID          uint64
	Timestamp        float64
	ProcessingTimeMs float64
	HasLeft          bool
	HasRight         bool
	Ready            int32
}

func encodeDetectionHeader(b []byte, h DetectionHeader) {
	binary.LittleEndian.PutUint64(b[0:8], h.FrameID)
	binary.LittleEndian.PutUint64(b[8:16], float64bits(h.Timestamp))
	binary.LittleEndian.PutUint64(b[16:24], float64bits(h.ProcessingTimeMs))
	binary.LittleEndian.PutUint32(b[24:28], boolToI32(h.HasLeft))
	binary.LittleEndian.PutUint32(b[28:32], boolToI32(h.HasRight))
	binary.LittleEndian.PutUint32(b[32:36], uint32(h.Ready))
	// b[36:40] reserved/padding, left zero.
}

func decodeDetectionHeader(b []byte) DetectionHeader {
	return DetectionHeader{
		FrameID:          binary.LittleEndian.Uint64(b[0:8]),
		Timestamp:        bitsFloat64(binary.LittleEndian.Uint64(b[8:16])),
		ProcessingTimeMs: bitsFloat64(binary.LittleEndian.Uint64(b[16:24])),
		HasLeft:          binary.LittleEndian.Uint32(b[24:28]) != 0,
		HasRight:         binary.LittleEndian.Uint32(b[28:32]) != 0,
		Ready:            int32(binary.LittleEndian.Uint32(b[32:36])),
	}
}

// LaneRecord is the decoded form of a 24-byte lane entry.
type LaneRecord struct {
	X1, Y1, X2, Y2 int32
	Confidence     float64
}

func encodeLaneRecord(b []byte, l LaneRecord) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(l.X1))
	binary.LittleEndian.PutUint32(b[4:8], uint32(l.Y1))
	binary.LittleEndian.PutUint32(b[8:12], uint32(l.X2))
	binary.LittleEndian.PutUint32(b[12:16], uint32(l.Y2))
	binary.LittleEndian.PutUint64(b[16:24], float64bits(l.Confidence))
}

func decodeLaneRecord(b []byte) LaneRecord {
	return LaneRecord{
		X1:         int32(binary.LittleEndian.Uint32(b[0:4])),
		Y1:         int32(binary.LittleEndian.Uint32(b[4:8])),
		X2:         int32(binary.LittleEndian.Uint32(b[8:12])),
		Y2:         int32(binary.LittleEndian.Uint32(b[12:16])),
		Confidence: bitsFloat64(binary.LittleEndian.Uint64(b[16:24])),
	}
}

func boolToI32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

func float64bits(f float64) uint64 { return math.Float64bits(f) }
func bitsFloat64(b uint64) float64 { return math.Float64frombits(b) }
