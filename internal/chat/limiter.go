package chat

import (
	"sync"

	"github.com/adred-codev/blockchat/internal/protocol"
	"golang.org/x/time/rate"
)

// MessageLimiter rate limits chat messages per peer with a token bucket
// (golang.org/x/time/rate).
//
// A bucket is created on the first message of a peer and removed by Forget
// when the peer leaves.
type MessageLimiter struct {
	mu       sync.Mutex
	limiters map[protocol.Peer]*rate.Limiter
	rate     float64 // Sustained messages/sec per peer
	burst    int     // Max burst messages per peer
}

// NewMessageLimiter creates a limiter. Zero values default to 5 msg/sec with
// a burst of 10. A negative rate disables limiting.
func NewMessageLimiter(perSec float64, burst int) *MessageLimiter {
	if perSec == 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &MessageLimiter{
		limiters: make(map[protocol.Peer]*rate.Limiter),
		rate:     perSec,
		burst:    burst,
	}
}

// Allow reports whether p may send one more message now.
func (ml *MessageLimiter) Allow(p protocol.Peer) bool {
	if ml.rate < 0 {
		return true
	}

	ml.mu.Lock()
	lim, ok := ml.limiters[p]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(ml.rate), ml.burst)
		ml.limiters[p] = lim
	}
	ml.mu.Unlock()

	return lim.Allow()
}

// Forget drops the bucket of p.
func (ml *MessageLimiter) Forget(p protocol.Peer) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limiters, p)
}

// Tracked returns the number of peers with a bucket.
func (ml *MessageLimiter) Tracked() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.limiters)
}
