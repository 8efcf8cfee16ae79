package shm

import (
	"sync/atomic"
	"unsafe"
)

// InMemoryProvider backs a MemoryProvider with a local byte slice instead of
// an mmap'd file, mirroring kernel/threads/sab/hal_memory.go. It lets ring
// tests exercise the spinlock and read/write contracts without touching
// /dev/shm, and stands in for a second process within a single test binary
// by sharing one *InMemoryProvider between a producer and reader handle.
type InMemoryProvider struct {
	data []byte
	// unlinked simulates the region having been removed from the namespace;
	// a provider that outlives an Unlink still owns its in-process bytes
	// (matching the POSIX unlink-while-mapped semantics the native
	// implementation relies on).
	unlinked bool
}

func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{data: make([]byte, size)}
}

func (m *InMemoryProvider) Size() uint32 { return uint32(len(m.data)) }

func (m *InMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if offset+uint32(len(dest)) > uint32(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(dest, m.data[offset:offset+uint32(len(dest))])
	return nil
}

func (m *InMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if offset+uint32(len(src)) > uint32(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (m *InMemoryProvider) ptrAt(offset uint32) (unsafe.Pointer, error) {
	if offset+4 > uint32(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

func (m *InMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

func (m *InMemoryProvider) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

func (m *InMemoryProvider) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32((*uint32)(ptr), old, new), nil
}

func (m *InMemoryProvider) Unlink() error {
	m.unlinked = true
	return nil
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}
