package shm

import "testing"

func TestSpinAcquireReleaseRoundTrip(t *testing.T) {
	mem := NewInMemoryProvider(16)
	recovered, err := spinAcquire(mem)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if recovered {
		t.Fatalf("first acquire on a fresh region must not report recovery")
	}
	if err := spinRelease(mem); err != nil {
		t.Fatalf("release: %v", err)
	}

	recovered, err = spinAcquire(mem)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if recovered {
		t.Fatalf("acquire after a clean release must not report recovery")
	}
}

func TestSpinAcquireRecoversPoisonedLock(t *testing.T) {
	mem := NewInMemoryProvider(16)
	// Simulate a holder that crashed mid-write: the lock word is left at
	// lockHeld with no matching release.
	if err := mem.AtomicStore32(OffsetLock, lockHeld); err != nil {
		t.Fatalf("poison setup: %v", err)
	}

	recovered, err := spinAcquire(mem)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !recovered {
		t.Fatalf("acquire against a poisoned lock must report recovery")
	}

	val, err := mem.AtomicLoad32(OffsetLock)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if val != lockHeld {
		t.Fatalf("recovered acquire must leave the lock held by the new owner, got %d", val)
	}
}
