// Package limits bounds inbound load on the signaling core: connection
// attempt rates, per-connection message rates, and CPU-based admission.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter throttles WebSocket upgrade attempts at two
// levels: per source IP and globally. Both use token buckets so
// legitimate reconnect bursts after a deploy still get through.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.Mutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig configures both levels. Zero values get
// conservative defaults.
type ConnectionRateLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
	Logger      zerolog.Logger
}

// NewConnectionRateLimiter creates a limiter and starts its idle-IP
// cleanup loop. Call Stop to release it.
func NewConnectionRateLimiter(cfg ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        cfg.IPRate,
		ipTTL:         cfg.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(time.Minute),
		stopCleanup:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from ip may proceed. The
// global bucket is checked first so a distributed flood cannot bypass
// per-IP limits.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Warn().Str("ip", ip).Msg("Connection rejected by global rate limit")
		return false
	}

	l.ipMu.Lock()
	entry, ok := l.ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst),
		}
		l.ipLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	l.ipMu.Unlock()

	return entry.limiter.Allow()
}

// Stop halts the cleanup loop.
func (l *ConnectionRateLimiter) Stop() {
	close(l.stopCleanup)
	l.cleanupTicker.Stop()
}

func (l *ConnectionRateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-l.cleanupTicker.C:
			cutoff := time.Now().Add(-l.ipTTL)
			l.ipMu.Lock()
			for ip, entry := range l.ipLimiters {
				if entry.lastAccess.Before(cutoff) {
					delete(l.ipLimiters, ip)
				}
			}
			l.ipMu.Unlock()
		}
	}
}
