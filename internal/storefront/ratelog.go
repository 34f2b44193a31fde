package storefront

import (
	"log"
	"sync"
	"time"
)

// rateLimitedLogger drops lines logged within interval of the last one.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval}
}

func (l *rateLimitedLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		return
	}
	l.lastAt = now
	if l.dropped > 0 {
		log.Printf(format+" (%d similar suppressed)", append(args, l.dropped)...)
		l.dropped = 0
		return
	}
	log.Printf(format, args...)
}
