package shm

import (
	"encoding/binary"
	"time"
)

// DetectionRing is the "detection_results" region (spec §4.A): the detector
// writes at most two lane records (left, right) per frame, the orchestrator
// reads them.
type DetectionRing struct {
	ring *Ring
}

func detectionFrameID(b []byte) uint64 { return binary.LittleEndian.Uint64(b[0:8]) }

// detectionReadyFlag reads the ready field at header[32:36].
func detectionReadyFlag(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b[32:36])) }

func CreateDetectionRing(name string) (*DetectionRing, error) {
	r, err := CreateRing(name, DetectionRecordSize)
	if err != nil {
		return nil, err
	}
	return &DetectionRing{ring: r}, nil
}

func AttachDetectionRing(name string, retryCount int, retryDelay time.Duration) (*DetectionRing, error) {
	r, err := AttachRing(name, DetectionRecordSize, retryCount, retryDelay)
	if err != nil {
		return nil, err
	}
	return &DetectionRing{ring: r}, nil
}

// Write publishes a detection result. left/right are only consulted when
// the corresponding HasLeft/HasRight flag is set; the unused slot's bytes
// are still written (zeroed) so every write is a full, well-defined record.
func (dr *DetectionRing) Write(h DetectionHeader, left, right LaneRecord) (recovered bool, err error) {
	record := make([]byte, DetectionRecordSize)
	h.Ready = 1
	encodeDetectionHeader(record[:DetectionHeaderSize], h)
	encodeLaneRecord(record[DetectionHeaderSize:DetectionHeaderSize+LaneRecordSize], left)
	encodeLaneRecord(record[DetectionHeaderSize+LaneRecordSize:], right)
	// ready lives at header[32:36].
	return dr.ring.WriteRecord(record, 32, 4)
}

// Read blocks until a detection result with a new frame_id appears.
func (dr *DetectionRing) Read(timeout time.Duration) (DetectionHeader, LaneRecord, LaneRecord, error) {
	record, err := dr.ring.Read(timeout, detectionFrameID, detectionReadyFlag)
	if err != nil {
		return DetectionHeader{}, LaneRecord{}, LaneRecord{}, err
	}
	h := decodeDetectionHeader(record[:DetectionHeaderSize])
	left := decodeLaneRecord(record[DetectionHeaderSize : DetectionHeaderSize+LaneRecordSize])
	right := decodeLaneRecord(record[DetectionHeaderSize+LaneRecordSize:])
	return h, left, right, nil
}

func (dr *DetectionRing) Close() error   { return dr.ring.Close() }
func (dr *DetectionRing) Destroy() error { return dr.ring.Destroy() }
