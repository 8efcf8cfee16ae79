//go:build !js

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// MappedProvider backs a named region with an mmap'd file, following
// kernel/threads/sab/hal_native.go's SharedMemoryProvider: the OS file is
// the "name" from spec §3 ("the OS associates the name with a single
// backing region"), and the mapping gives every attached process the same
// physical pages.
type MappedProvider struct {
	path string
	file *os.File
	data []byte
	size uint32
}

// DefaultDir returns /dev/shm when present (Linux), else the OS temp dir.
func DefaultDir() string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return "/dev/shm"
	}
	return os.TempDir()
}

func pathFor(name string) string {
	return filepath.Join(DefaultDir(), "lkas_"+name)
}

// CreateMapped implements the producer side of §4.A's create(name, size):
// unlink any stale region of the same name, allocate record_size bytes,
// zero it, and return a handle.
func CreateMapped(name string, size uint32) (*MappedProvider, error) {
	if size == 0 {
		return nil, fmt.Errorf("shm: create %q: size must be positive", name)
	}
	path := pathFor(name)
	_ = os.Remove(path) // unlink any stale region; ENOENT is not an error here

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInUse, name)
		}
		return nil, fmt.Errorf("shm: create %q: %w", name, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %q: %w", name, err)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	for i := range data {
		data[i] = 0
	}

	return &MappedProvider{path: path, file: file, data: data, size: size}, nil
}

// OpenMapped implements one attempt of the consumer side of §4.A's
// attach(name, ...): the caller supplies the retry loop.
func OpenMapped(name string, expectSize uint32) (*MappedProvider, error) {
	path := pathFor(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("shm: open %q: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat %q: %w", name, err)
	}
	size := uint32(info.Size())
	if size == 0 || (expectSize != 0 && size != expectSize) {
		file.Close()
		return nil, fmt.Errorf("%w: %s has unexpected size %d", ErrNotFound, name, size)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}

	return &MappedProvider{path: path, file: file, data: data, size: size}, nil
}

func (p *MappedProvider) Size() uint32 { return p.size }

func (p *MappedProvider) ReadAt(offset uint32, dest []byte) error {
	if offset+uint32(len(dest)) > p.size {
		return ErrOutOfBounds
	}
	copy(dest, p.data[offset:offset+uint32(len(dest))])
	return nil
}

func (p *MappedProvider) WriteAt(offset uint32, src []byte) error {
	if offset+uint32(len(src)) > p.size {
		return ErrOutOfBounds
	}
	copy(p.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (p *MappedProvider) ptrAt(offset uint32) (unsafe.Pointer, error) {
	if offset+4 > p.size {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&p.data[offset]), nil
}

func (p *MappedProvider) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := p.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

func (p *MappedProvider) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := p.ptrAt(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

func (p *MappedProvider) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	ptr, err := p.ptrAt(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32((*uint32)(ptr), old, new), nil
}

func (p *MappedProvider) Unlink() error {
	return os.Remove(p.path)
}

func (p *MappedProvider) Close() error {
	var err error
	if p.data != nil {
		if unmapErr := syscall.Munmap(p.data); unmapErr != nil {
			err = unmapErr
		}
		p.data = nil
	}
	if p.file != nil {
		if closeErr := p.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		p.file = nil
	}
	return err
}
