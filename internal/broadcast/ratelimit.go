package broadcast

import (
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// controlRateLimiter throttles the inbound /control socket (spec §4.E: a
// misbehaving or reconnect-looping viewer must not be able to flood
// respawn/parameter messages into the tick loop), grounded on
// kernel/core/mesh/routing/gossip.go's `limiter.TokenBucket` +
// `store.NewMemoryStore` pairing.
type controlRateLimiter struct {
	bucket *limiter.TokenBucket
}

// newControlRateLimiter allows ratePerSecond messages per connection, with
// a short burst allowance on top.
func newControlRateLimiter(ratePerSecond, burst int) (*controlRateLimiter, error) {
	st := store.NewMemoryStore(time.Minute)
	bucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     int64(ratePerSecond),
		Duration: time.Second,
		Burst:    int64(burst),
	}, st)
	if err != nil {
		return nil, err
	}
	return &controlRateLimiter{bucket: bucket}, nil
}

// allow reports whether connID may send another control message right now.
func (l *controlRateLimiter) allow(connID string) bool {
	return l.bucket.Allow(connID)
}
