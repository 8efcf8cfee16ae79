package shm

import (
	"errors"
	"fmt"
	"time"
)

// Ring is the single-slot "latest wins" shared-memory channel from spec
// §4.A: one producer calls Write, any number of readers call Read. There is
// no queue — a reader that misses a slot simply sees the next one.
//
// Layout: [4-byte spinlock][4 bytes padding][record_size bytes]. The
// spinlock guards against torn reads (a reader observing half-old,
// half-new bytes); frame_id monotonicity is how a reader tells "new frame"
// from "same frame, nothing changed yet" without a notification channel.
type Ring struct {
	mem        MemoryProvider
	recordSize uint32
	lastFrame  uint64
	haveLast   bool
}

// CreateRing allocates a fresh region of recordSize bytes plus the control
// word, per spec §4.A's create(name, size). The caller owns destroying it.
func CreateRing(name string, recordSize uint32) (*Ring, error) {
	mem, err := CreateMapped(name, OffsetRecord+recordSize)
	if err != nil {
		return nil, err
	}
	return &Ring{mem: mem, recordSize: recordSize}, nil
}

// AttachRing implements attach(name, retry_count, retry_delay): repeatedly
// tries to open an existing region until it appears or retries are
// exhausted, satisfying the startup-order-independence requirement (a
// reader may start before its producer).
func AttachRing(name string, recordSize uint32, retryCount int, retryDelay time.Duration) (*Ring, error) {
	var lastErr error
	for attempt := 0; attempt <= retryCount; attempt++ {
		mem, err := OpenMapped(name, OffsetRecord+recordSize)
		if err == nil {
			return &Ring{mem: mem, recordSize: recordSize}, nil
		}
		lastErr = err
		if attempt < retryCount {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("shm: attach %q: %w", name, lastErr)
}

// Write replaces the slot contents under the spinlock with one copy of the
// whole record; it does not clear the ready field first (see WriteRecord
// for the two-phase form used by the typed rings). Write is what untyped
// callers (tests, generic tooling) use; the typed rings (image_ring.go, detection_ring.go) call WriteRecord
// directly for the clear-then-fill sequence spec §4.A describes.
func (r *Ring) Write(record []byte) (recovered bool, err error) {
	if uint32(len(record)) != r.recordSize {
		return false, fmt.Errorf("shm: write: record size %d != ring size %d", len(record), r.recordSize)
	}
	recovered, err = spinAcquire(r.mem)
	if err != nil {
		return recovered, err
	}
	defer spinRelease(r.mem)
	if err := r.mem.WriteAt(OffsetRecord, record); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// WriteRecord performs the clear-ready / copy-body / set-ready sequence
// spec §4.A specifies for producers, so a torn read by a concurrent reader
// is never observable as "ready" with mixed old/new bytes. record is the
// full encoded record, with its ready field (readyLen bytes at readyOffset)
// already set to the final "ready" value; that byte range is zeroed before
// the record is copied in.
func (r *Ring) WriteRecord(record []byte, readyOffset, readyLen uint32) (recovered bool, err error) {
	if uint32(len(record)) != r.recordSize {
		return false, fmt.Errorf("shm: write: record size %d != ring size %d", len(record), r.recordSize)
	}
	recovered, err = spinAcquire(r.mem)
	if err != nil {
		return recovered, err
	}
	defer spinRelease(r.mem)

	zero := make([]byte, readyLen)
	if err := r.mem.WriteAt(OffsetRecord+readyOffset, zero); err != nil {
		return recovered, err
	}
	if err := r.mem.WriteAt(OffsetRecord, record); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// ErrReadTimeout is returned by Read when no new frame_id appears before
// the deadline.
var ErrReadTimeout = errors.New("shm: read timed out waiting for new frame")

// Read waits up to timeout for a slot that is both ready (ready==1) and
// whose frame_id (the first 8 bytes of the record, per both typed layouts)
// differs from the last one this Ring observed, then returns a copy of the
// full record. frameID and readyFlag extract those two fields from a raw
// record so Read can stay generic across the two typed layouts.
//
// The ready check matters on its own: a freshly created region is all
// zeros, which decodes to a well-formed-looking record with frame_id 0. A
// consumer's first Read, with no last-seen frame_id yet, must not mistake
// that for a published frame — ready distinguishes "published at least
// once" from "never written", which frame_id-dedup alone cannot do.
func (r *Ring) Read(timeout time.Duration, frameID func([]byte) uint64, readyFlag func([]byte) int32) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	out := make([]byte, r.recordSize)
	for {
		if _, err := spinAcquire(r.mem); err != nil {
			return nil, err
		}
		err := r.mem.ReadAt(OffsetRecord, out)
		spinRelease(r.mem)
		if err != nil {
			return nil, err
		}

		if readyFlag(out) == 1 {
			id := frameID(out)
			if !r.haveLast || id != r.lastFrame {
				r.lastFrame = id
				r.haveLast = true
				return out, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, ErrReadTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Close releases this handle's mapping without removing the backing name;
// use Destroy from the owning producer to remove it.
func (r *Ring) Close() error { return r.mem.Close() }

// Destroy closes and unlinks the backing region. Only the producer should
// call this.
func (r *Ring) Destroy() error {
	if err := r.mem.Unlink(); err != nil {
		return err
	}
	return r.mem.Close()
}
