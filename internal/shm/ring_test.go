package shm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestRing wires a Ring directly to an InMemoryProvider, skipping the
// filesystem-backed Create/Attach path, so producer and reader in a single
// test share one region the way two OS processes would share one mapping.
func newTestRing(recordSize uint32) *Ring {
	return &Ring{mem: NewInMemoryProvider(OffsetRecord + recordSize), recordSize: recordSize}
}

func TestRingReadSeesOnlyNewFrameIDs(t *testing.T) {
	producer := newTestRing(ImageHeaderSize)
	reader := &Ring{mem: producer.mem, recordSize: ImageHeaderSize}

	record := make([]byte, ImageHeaderSize)
	encodeImageHeader(record, ImageHeader{FrameID: 1, Ready: 1})
	_, err := producer.Write(record)
	require.NoError(t, err)

	got, err := reader.Read(50*time.Millisecond, imageFrameID, imageReadyFlag)
	require.NoError(t, err)
	require.Equal(t, uint64(1), imageFrameID(got))

	// No new write: a second Read with the same frame_id must time out
	// rather than return the same frame again (monotonicity / no
	// re-delivery of an already-seen slot).
	_, err = reader.Read(20*time.Millisecond, imageFrameID, imageReadyFlag)
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestRingFrameIDMonotonicAcrossWrites(t *testing.T) {
	producer := newTestRing(ImageHeaderSize)
	reader := &Ring{mem: producer.mem, recordSize: ImageHeaderSize}

	var seen []uint64
	for id := uint64(1); id <= 5; id++ {
		record := make([]byte, ImageHeaderSize)
		encodeImageHeader(record, ImageHeader{FrameID: id, Ready: 1})
		_, err := producer.Write(record)
		require.NoError(t, err)

		got, err := reader.Read(50*time.Millisecond, imageFrameID, imageReadyFlag)
		require.NoError(t, err)
		seen = append(seen, imageFrameID(got))
	}
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "reader must observe strictly increasing frame_ids")
	}
}

func TestRingReadWaitsForReadyOnFreshRegion(t *testing.T) {
	// A freshly created region is all zeros, which decodes to a
	// well-formed-looking record with frame_id 0. A reader's first Read,
	// before any producer Write, must time out rather than accept that as
	// a published frame (spec §4.A: ready distinguishes "published at
	// least once" from zeros; frame_id-dedup alone cannot make that call
	// since there is no "last seen" yet to compare against).
	ring := newTestRing(ImageHeaderSize)

	_, err := ring.Read(20*time.Millisecond, imageFrameID, imageReadyFlag)
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestRingWriteRecordLeavesReadySetWithNewFrameID(t *testing.T) {
	// WriteRecord clears the ready field before copying the body; this
	// checks, with a single writer and no concurrent reader, that the slot
	// it leaves holds the new frame_id with ready=1.
	mem := NewInMemoryProvider(OffsetRecord + DetectionHeaderSize)
	ring := &Ring{mem: mem, recordSize: DetectionHeaderSize}

	record := make([]byte, DetectionHeaderSize)
	encodeDetectionHeader(record, DetectionHeader{FrameID: 7, Ready: 1})
	_, err := ring.WriteRecord(record, 32, 4)
	require.NoError(t, err)

	raw := make([]byte, DetectionHeaderSize)
	require.NoError(t, mem.ReadAt(OffsetRecord, raw))
	h := decodeDetectionHeader(raw)
	require.Equal(t, uint64(7), h.FrameID)
	require.Equal(t, int32(1), h.Ready)
}

func TestAttachRingRetriesUntilProducerExists(t *testing.T) {
	// Exercises §8's startup-order-independence invariant using the real
	// filesystem-backed path: a reader attaching before the producer has
	// created the region must retry rather than fail immediately.
	name := "ring_test_attach_order"
	done := make(chan error, 1)
	go func() {
		_, err := AttachRing(name, ImageHeaderSize, 20, 10*time.Millisecond)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	producer, err := CreateRing(name, ImageHeaderSize)
	require.NoError(t, err)
	defer producer.Destroy()

	require.NoError(t, <-done)
}

func TestRingAttachGivesUpAfterRetriesExhausted(t *testing.T) {
	_, err := AttachRing("ring_test_never_created", ImageHeaderSize, 2, time.Millisecond)
	require.ErrorIs(t, err, ErrNotFound)
}
