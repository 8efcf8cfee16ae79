// Package shm implements the lock-protected, single-slot shared-memory
// rings described in spec §4.A: one producer, N readers, "latest wins"
// semantics, no queue. Two concrete rings are built on top of the same
// substrate: the image ring (internal/shm/image_ring.go) and the detection
// ring (internal/shm/detection_ring.go).
package shm

import "errors"

// MemoryProvider abstracts access to a named shared region. The native
// implementation (hal_native.go) backs this with an mmap'd file under
// /dev/shm; alternate implementations (e.g. an in-process fake for tests)
// only need to satisfy this interface.
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicCAS32(offset uint32, old, new uint32) (bool, error)
	Close() error
	// Unlink removes the backing name so a fresh Create() does not collide
	// with a stale region left behind by a crashed producer.
	Unlink() error
}

var (
	ErrOutOfBounds  = errors.New("shm: offset out of bounds")
	ErrMisaligned   = errors.New("shm: offset is not 4-byte aligned")
	ErrNotFound     = errors.New("shm: region not found")
	ErrAlreadyInUse = errors.New("shm: region already in use")
)
