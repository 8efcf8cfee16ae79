package broadcast

import (
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// frameDedup flags duplicate frame_id deliveries on the outbound telemetry
// socket, grounded on kernel/core/mesh/routing/gossip.go's
// `seenFilter *bloom.BloomFilter` pattern (`bloom.NewWithEstimates`, reset
// once the tracked set grows past a threshold). A single-writer ring
// already guarantees "latest wins" upstream (spec §4.A); this filter is
// shared by the whole broadcaster, and Publish sends the frame topic only
// for a frame ID it reports as not seen before, for every subscriber alike.
type frameDedup struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   int
}

const (
	dedupExpectedElements    = 100000
	dedupFalsePositiveRate   = 0.01
	dedupResetThreshold      = 50000
)

func newFrameDedup() *frameDedup {
	return &frameDedup{filter: bloom.NewWithEstimates(dedupExpectedElements, dedupFalsePositiveRate)}
}

// seenBefore reports whether frameID has already been observed on this
// topic, adding it to the filter as a side effect.
func (d *frameDedup) seenBefore(frameID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := []byte(strconv.FormatUint(frameID, 36))
	if d.filter.Test(key) {
		return true
	}
	d.filter.Add(key)
	d.seen++
	if d.seen > dedupResetThreshold {
		d.filter = bloom.NewWithEstimates(dedupExpectedElements, dedupFalsePositiveRate)
		d.seen = 0
	}
	return false
}
