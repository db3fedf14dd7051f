package security

import (
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision int

const (
	Admit Decision = iota
	RejectMinute
	RejectHour
)

const (
	minuteWindow = 60 * time.Second
	hourWindow   = 3600 * time.Second
)

type userWindows struct {
	minute []time.Time
	hour   []time.Time
}

// RateLimiter tracks per-user request timestamps in two sliding windows.
// State lives in process memory and spans a single warm instance only;
// the limiter is defense in depth, not a correctness guarantee.
type RateLimiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	windows map[string]*userWindows

	now func() time.Time
}

// NewRateLimiter creates a limiter with the given per-user ceilings.
// Non-positive ceilings fall back to 5/minute and 50/hour.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	if perHour <= 0 {
		perHour = 50
	}
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		windows:   make(map[string]*userWindows),
		now:       time.Now,
	}
}

// CheckAndRecord admits or rejects one attempt for userID. The minute
// window is evaluated first so the tightest ceiling surfaces in logs,
// though both are independent ceilings. Expired entries are evicted
// lazily on each check, bounding memory per user to the hour ceiling.
// Only admitted attempts are recorded; counting rejections would let a
// flooding sender keep itself locked out forever.
func (l *RateLimiter) CheckAndRecord(userID string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[userID]
	if w == nil {
		w = &userWindows{}
		l.windows[userID] = w
	}

	w.minute = evict(w.minute, now, minuteWindow)
	if len(w.minute) >= l.perMinute {
		slog.Warn("rate limit exceeded",
			"window", "minute", "user", userID, "count", len(w.minute), "limit", l.perMinute)
		return RejectMinute
	}

	w.hour = evict(w.hour, now, hourWindow)
	if len(w.hour) >= l.perHour {
		slog.Warn("rate limit exceeded",
			"window", "hour", "user", userID, "count", len(w.hour), "limit", l.perHour)
		return RejectHour
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return Admit
}

// Reset clears both windows for a user. Used by the explicit reset
// command.
func (l *RateLimiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, userID)
}

// evict drops timestamps at or beyond the window horizon. Timestamps are
// appended in order, so the retained suffix stays sorted.
func evict(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
