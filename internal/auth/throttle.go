package auth

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginThrottle limits authentication attempts per username with a token bucket.
type loginThrottle struct {
	mu      sync.Mutex
	perSec  float64
	burst   int
	ttl     time.Duration
	buckets map[string]*throttleBucket
	now     func() time.Time
}

type throttleBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLoginThrottle(perSecond float64, burst int, now func() time.Time) *loginThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &loginThrottle{
		perSec:  perSecond,
		burst:   burst,
		ttl:     10 * time.Minute,
		buckets: make(map[string]*throttleBucket),
		now:     now,
	}
}

// allow reports whether another attempt for key may proceed. A nil throttle allows everything.
func (t *loginThrottle) allow(key string) bool {
	if t == nil {
		return true
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		b = &throttleBucket{limiter: rate.NewLimiter(rate.Limit(t.perSec), t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	// Clean up idle buckets occasionally.
	if len(t.buckets) > 1024 {
		for k, v := range t.buckets {
			if now.Sub(v.lastSeen) > t.ttl {
				delete(t.buckets, k)
			}
		}
	}
	return allowed
}
