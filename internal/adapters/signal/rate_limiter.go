package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/Huddle/internal/core"
)

// RoomRateLimiter gives every session its own token bucket of limit tokens,
// refilled evenly over interval.
type RoomRateLimiter struct {
	mu      sync.Mutex
	buckets map[core.SessionID]*rate.Limiter
	every   rate.Limit
	burst   int
	now     func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	every := rate.Inf
	if limit > 0 && interval > 0 {
		every = rate.Every(interval / time.Duration(limit))
	}
	return &RoomRateLimiter{
		buckets: make(map[core.SessionID]*rate.Limiter),
		every:   every,
		burst:   max(limit, 1),
		now:     time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(sid core.SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[sid]
	if !ok {
		b = rate.NewLimiter(rl.every, rl.burst)
		rl.buckets[sid] = b
	}
	return b.AllowN(rl.now(), 1)
}

// Forget drops the bucket of a disconnected session.
func (rl *RoomRateLimiter) Forget(sid core.SessionID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, sid)
}
