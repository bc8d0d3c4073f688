package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason says which limit rejected a connection attempt. Doubles as
// the metrics label.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

const limiterCleanupInterval = 5 * time.Minute

// ConnLimits guards the WebSocket endpoint with three stacked limits: a
// token bucket on new connections per IP, a global cap on concurrent
// connections, and a per-IP cap on concurrent connections.
type ConnLimits struct {
	globalMax int64
	global    atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	perIPMax  int
	buckets   map[string]*ipBucket
	rateLimit rate.Limit
	burst     int
	cleanupAt time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnLimits creates the combined limiter.
func NewConnLimits(globalMax int64, perIPMax int, perSecond float64, burst int) *ConnLimits {
	return &ConnLimits{
		globalMax: globalMax,
		perIP:     make(map[string]int),
		perIPMax:  perIPMax,
		buckets:   make(map[string]*ipBucket),
		rateLimit: rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: time.Now().Add(limiterCleanupInterval),
	}
}

// Acquire claims a slot for the given IP. On rejection the reason names the
// limit that fired; nothing is held, so no Release is needed.
func (l *ConnLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}

	for {
		current := l.global.Load()
		if current >= l.globalMax {
			return false, LimitReasonGlobal
		}
		if l.global.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	if l.perIP[ip] >= l.perIPMax {
		l.mu.Unlock()
		l.global.Add(-1)
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	l.mu.Unlock()

	return true, ""
}

// Release frees the slot claimed by a successful Acquire.
func (l *ConnLimits) Release(ip string) {
	l.global.Add(-1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if count := l.perIP[ip]; count > 1 {
		l.perIP[ip] = count - 1
	} else {
		delete(l.perIP, ip)
	}
}

// Current returns the number of held slots.
func (l *ConnLimits) Current() int64 {
	return l.global.Load()
}

func (l *ConnLimits) allowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		l.dropIdleBuckets(now)
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.rateLimit, l.burst)}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// dropIdleBuckets evicts rate limiters unused for two cleanup intervals.
// Caller holds mu.
func (l *ConnLimits) dropIdleBuckets(now time.Time) {
	cutoff := now.Add(-2 * limiterCleanupInterval)
	for ip, bucket := range l.buckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}
