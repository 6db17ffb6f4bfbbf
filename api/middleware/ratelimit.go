package middleware

import (
	"sync"
	"time"

	"github.com/ddevcap/viewstats/config"
)

// ipEntry tracks failed admin token attempts for a single IP.
type ipEntry struct {
	attempts    int
	windowEnd   time.Time // when the current window expires
	bannedUntil time.Time
}

// FailureLimiter blocks IPs that present too many bad admin tokens.
type FailureLimiter struct {
	mu          sync.Mutex
	entries     map[string]*ipEntry
	maxAttempts int
	window      time.Duration
	ban         time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewFailureLimiter starts a limiter configured from the ADMIN_* options.
// A non-positive AdminMaxAttempts disables blocking. Call Stop on shutdown.
func NewFailureLimiter(cfg config.Config) *FailureLimiter {
	l := &FailureLimiter{
		entries:     make(map[string]*ipEntry),
		maxAttempts: cfg.AdminMaxAttempts,
		window:      cfg.AdminWindow,
		ban:         cfg.AdminBanDuration,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

// cleanup removes entries whose ban and window have both expired.
func (l *FailureLimiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if now.After(e.bannedUntil) && now.After(e.windowEnd) {
			delete(l.entries, ip)
		}
	}
}

// Allow reports whether ip may present a token.
func (l *FailureLimiter) Allow(ip string) bool {
	if l.maxAttempts <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	return !ok || !l.now().Before(e.bannedUntil)
}

// RecordFailure counts a bad token and bans ip once maxAttempts is reached
// within the window.
func (l *FailureLimiter) RecordFailure(ip string) {
	if l.maxAttempts <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[ip]
	if !ok || now.After(e.windowEnd) {
		e = &ipEntry{windowEnd: now.Add(l.window)}
		l.entries[ip] = e
	}
	e.attempts++
	if e.attempts >= l.maxAttempts {
		e.bannedUntil = now.Add(l.ban)
	}
}

// RecordSuccess forgets the failures of ip.
func (l *FailureLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ip)
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *FailureLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
