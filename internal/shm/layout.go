package shm

import "time"

// Every region is laid out as: [control word][record]. The control word is
// the "process-shared lock" spec §4.A requires in addition to record_size
// bytes; it is a 4-byte CAS spinlock followed by 4 bytes of padding so the
// record that follows starts on an 8-byte boundary (the image and detection
// headers both contain u64/f64 fields).
const (
	OffsetLock   uint32 = 0
	SizeControl  uint32 = 8
	OffsetRecord uint32 = OffsetLock + SizeControl
)

const (
	lockFree uint32 = 0
	lockHeld uint32 = 1
)

// maxSpinAttempts bounds how long spinAcquire will contend before assuming
// the previous holder crashed mid-write and force-clearing the lock. With
// spinBackoff's 50us sleeps from attempt 1000 on, reaching it takes at
// least about one second (roughly twenty ticks at Δt=50ms).
const maxSpinAttempts = 20000

// spinAcquire contends for the control word's spinlock. If the lock has
// been held for longer than maxSpinAttempts, it is treated as poisoned by a
// crashed holder (spec §4.A) and force-cleared; the second return value
// reports whether that recovery happened, so callers can log it once.
func spinAcquire(mem MemoryProvider) (recovered bool, err error) {
	for attempt := 0; ; attempt++ {
		ok, err := mem.AtomicCAS32(OffsetLock, lockFree, lockHeld)
		if err != nil {
			return false, err
		}
		if ok {
			return recovered, nil
		}
		if attempt >= maxSpinAttempts {
			if reclaimed, _ := mem.AtomicCAS32(OffsetLock, lockHeld, lockFree); reclaimed {
				recovered = true
				continue // retry the free->held CAS immediately
			}
		}
		spinBackoff(attempt)
	}
}

func spinRelease(mem MemoryProvider) error {
	return mem.AtomicStore32(OffsetLock, lockFree)
}

// spinBackoff yields increasingly between contention attempts: tight spin
// for the first few tries, then short sleeps, mirroring
// kernel/threads/foundation/epoch.go's spin-then-wait shape.
func spinBackoff(attempt int) {
	switch {
	case attempt < 100:
		// busy spin
	case attempt < 1000:
		time.Sleep(time.Microsecond)
	default:
		time.Sleep(50 * time.Microsecond)
	}
}
