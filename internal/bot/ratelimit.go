package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateBurst     = 5
	defaultRatePerMinute = 20.0
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepEvery    = 256
)

// SenderLimiter is a token bucket per sender. Buckets idle longer than
// limiterIdleTTL are dropped on a periodic sweep.
type SenderLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	senders map[string]*senderBucket
	calls   int
	now     func() time.Time
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSenderLimiter(burst int, perMinute float64) *SenderLimiter {
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	return &SenderLimiter{
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		senders: make(map[string]*senderBucket),
		now:     time.Now,
	}
}

// Allow reports whether sender may send a message now, consuming one token if so.
func (l *SenderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%limiterSweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.senders[sender]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.senders[sender] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *SenderLimiter) sweep(now time.Time) {
	for sender, b := range l.senders {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.senders, sender)
		}
	}
}

// Len returns the number of tracked senders.
func (l *SenderLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}
