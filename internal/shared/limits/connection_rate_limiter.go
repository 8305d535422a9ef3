// Package limits throttles connection attempts to the game listener and the
// web chat endpoint.
package limits

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/blockchat/internal/shared/monitoring"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter admits connection attempts with two token buckets
// (golang.org/x/time/rate): a global one checked first, then one per remote
// IP. Idle per-IP buckets are swept by Run.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.Mutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter
	globalBurst   int
	globalRate    float64

	logger zerolog.Logger
	now    func() time.Time
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig configures a ConnectionRateLimiter.
type ConnectionRateLimiterConfig struct {
	IPBurst int           // Max burst connections per IP (default: 10)
	IPRate  float64       // Sustained connections/sec per IP (default: 1.0)
	IPTTL   time.Duration // Forget idle IPs after this long (default: 5 minutes)

	GlobalBurst int     // Max burst connections overall (default: 100)
	GlobalRate  float64 // Sustained connections/sec overall (default: 20.0)
}

// NewConnectionRateLimiter creates a limiter. Zero values take the defaults
// listed on ConnectionRateLimiterConfig.
func NewConnectionRateLimiter(config ConnectionRateLimiterConfig, logger zerolog.Logger) *ConnectionRateLimiter {
	if config.IPBurst == 0 {
		config.IPBurst = 10
	}
	if config.IPRate == 0 {
		config.IPRate = 1.0
	}
	if config.IPTTL == 0 {
		config.IPTTL = 5 * time.Minute
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 100
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 20.0
	}

	crl := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       config.IPBurst,
		ipRate:        config.IPRate,
		ipTTL:         config.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		globalBurst:   config.GlobalBurst,
		globalRate:    config.GlobalRate,
		logger:        logger.With().Str("component", "connection_rate_limiter").Logger(),
		now:           time.Now,
	}

	crl.logger.Info().
		Int("ip_burst", config.IPBurst).
		Float64("ip_rate", config.IPRate).
		Dur("ip_ttl", config.IPTTL).
		Int("global_burst", config.GlobalBurst).
		Float64("global_rate", config.GlobalRate).
		Msg("ConnectionRateLimiter initialized")

	return crl
}

// Allow reports whether a connection from ip may proceed.
func (crl *ConnectionRateLimiter) Allow(ip string) bool {
	if !crl.globalLimiter.Allow() {
		crl.logger.Debug().
			Str("ip", ip).
			Float64("global_rate", crl.globalRate).
			Msg("Connection rejected: global rate limit exceeded")
		monitoring.IncrementConnectionRateLimit("global")
		return false
	}

	if !crl.ipLimiter(ip).Allow() {
		crl.logger.Debug().
			Str("ip", ip).
			Float64("ip_rate", crl.ipRate).
			Msg("Connection rejected: per-IP rate limit exceeded")
		monitoring.IncrementConnectionRateLimit("per_ip")
		return false
	}
	return true
}

func (crl *ConnectionRateLimiter) ipLimiter(ip string) *rate.Limiter {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	entry, ok := crl.ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(crl.ipRate), crl.ipBurst)}
		crl.ipLimiters[ip] = entry
	}
	entry.lastAccess = crl.now()
	return entry.limiter
}

// Run sweeps idle per-IP buckets every interval until ctx is cancelled.
func (crl *ConnectionRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			crl.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep removes buckets idle for longer than the IP TTL and returns how many
// were removed.
func (crl *ConnectionRateLimiter) Sweep() int {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	now := crl.now()
	removed := 0
	for ip, entry := range crl.ipLimiters {
		if now.Sub(entry.lastAccess) > crl.ipTTL {
			delete(crl.ipLimiters, ip)
			removed++
		}
	}

	if removed > 0 {
		crl.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(crl.ipLimiters)).
			Msg("Cleaned up stale IP rate limiters")
	}
	return removed
}

// TrackedIPs returns the number of IPs with a bucket.
func (crl *ConnectionRateLimiter) TrackedIPs() int {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()
	return len(crl.ipLimiters)
}
