package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle writes at most burst log lines per interval to a logger and
// counts the lines it drops. The next line that gets through carries the
// count in the "suppressed" attribute. A nil *Throttle drops everything.
type Throttle struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottle creates a Throttle. An interval of 0 or less lets every line
// through.
func NewThrottle(logger *slog.Logger, interval time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &Throttle{
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Log writes the line if the rate allows it and reports whether it did.
func (t *Throttle) Log(level slog.Level, msg string, args ...any) bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	if !t.limiter.Allow() {
		t.suppressed++
		t.mu.Unlock()
		return false
	}
	dropped := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	if dropped > 0 {
		args = append(args, slog.Int(KeySuppressed, dropped))
	}
	t.logger.Log(context.Background(), level, msg, args...)
	return true
}

// Suppressed returns the number of lines dropped since the last one written.
func (t *Throttle) Suppressed() int {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.suppressed
}
