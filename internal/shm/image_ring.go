package shm

import (
	"encoding/binary"
	"time"
)

// ImageRing is the camera-frame ring (spec §4.A, region "camera_feed"):
// the orchestrator writes raw pixel frames, the detector reads them.
type ImageRing struct {
	ring       *Ring
	pixelBytes uint32
}

// imageFrameID reads the leading 8 bytes of a raw image record.
func imageFrameID(b []byte) uint64 { return binary.LittleEndian.Uint64(b[0:8]) }

// imageReadyFlag reads the ready field at header[28:32].
func imageReadyFlag(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b[28:32])) }

// CreateImageRing allocates a camera_feed region sized for width*height*channels
// pixel bytes plus the fixed 32-byte header.
func CreateImageRing(name string, width, height, channels int32) (*ImageRing, error) {
	pixelBytes := uint32(width) * uint32(height) * uint32(channels)
	r, err := CreateRing(name, ImageHeaderSize+pixelBytes)
	if err != nil {
		return nil, err
	}
	return &ImageRing{ring: r, pixelBytes: pixelBytes}, nil
}

// AttachImageRing attaches to an existing camera_feed region, retrying
// per spec §4.A's startup-order-independence requirement.
func AttachImageRing(name string, width, height, channels int32, retryCount int, retryDelay time.Duration) (*ImageRing, error) {
	pixelBytes := uint32(width) * uint32(height) * uint32(channels)
	r, err := AttachRing(name, ImageHeaderSize+pixelBytes, retryCount, retryDelay)
	if err != nil {
		return nil, err
	}
	return &ImageRing{ring: r, pixelBytes: pixelBytes}, nil
}

// Write publishes a new frame. pixels must be exactly width*height*channels
// bytes, matching the dimensions this ring was created/attached with.
func (ir *ImageRing) Write(h ImageHeader, pixels []byte) (recovered bool, err error) {
	if uint32(len(pixels)) != ir.pixelBytes {
		return false, ErrOutOfBounds
	}
	record := make([]byte, ImageHeaderSize+ir.pixelBytes)
	h.Ready = 1
	encodeImageHeader(record[:ImageHeaderSize], h)
	copy(record[ImageHeaderSize:], pixels)
	// readyOffset/Len target the 4-byte "ready" field at header[28:32]; it is
	// cleared before the body copy so a concurrent reader never observes a
	// ready=1 record with a stale or half-written body.
	return ir.ring.WriteRecord(record, 28, 4)
}

// Read blocks until a frame with a new frame_id appears or timeout elapses.
func (ir *ImageRing) Read(timeout time.Duration) (ImageHeader, []byte, error) {
	record, err := ir.ring.Read(timeout, imageFrameID, imageReadyFlag)
	if err != nil {
		return ImageHeader{}, nil, err
	}
	h := decodeImageHeader(record[:ImageHeaderSize])
	pixels := make([]byte, ir.pixelBytes)
	copy(pixels, record[ImageHeaderSize:])
	return h, pixels, nil
}

func (ir *ImageRing) Close() error   { return ir.ring.Close() }
func (ir *ImageRing) Destroy() error { return ir.ring.Destroy() }
