package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	rateEntryTTL     = 10 * time.Minute
	rateEntryCleanup = 5 * time.Minute
)

// LimitReason describes why a stream connection was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// globalLimiter caps concurrent stream connections on this instance.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() { l.current.Add(-1) }

// ipLimiter caps concurrent stream connections per client IP.
type ipLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.ips[ip]; n > 1 {
		l.ips[ip] = n - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipLimiter) uniqueIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// connectRateLimiter is a per-IP token bucket on new connections. Buckets of
// IPs that stop connecting expire from the cache.
type connectRateLimiter struct {
	mu       sync.Mutex
	limiters *gocache.Cache
	rate     rate.Limit
	burst    int
}

func (l *connectRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(ip); ok {
		limiter, _ = v.(*rate.Limiter)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	// Refresh the TTL on every attempt.
	l.limiters.SetDefault(ip, limiter)
	return limiter.Allow()
}

// ConnectionLimits combines the global, per-IP and connect-rate limits of the
// stream endpoint.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
	rate   *connectRateLimiter
}

func NewConnectionLimits(globalMax, perIPMax int, connectsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalLimiter{max: int64(globalMax)},
		perIP:  &ipLimiter{ips: make(map[string]int), maxPer: perIPMax},
		rate: &connectRateLimiter{
			limiters: gocache.New(rateEntryTTL, rateEntryCleanup),
			rate:     rate.Limit(connectsPerSecond),
			burst:    burst,
		},
	}
}

// Acquire takes a slot for ip. On failure nothing is held and the reason is
// returned.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

func (l *ConnectionLimits) Current() int64 { return l.global.current.Load() }

func (l *ConnectionLimits) UniqueIPs() int { return l.perIP.uniqueIPs() }
