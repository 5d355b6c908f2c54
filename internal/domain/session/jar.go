package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultID is used when a request carries no session token.
	DefaultID = "default"

	DefaultIdleTimeout = 30 * time.Minute
)

type browsingSession struct {
	cookies  string
	lastSeen time.Time
}

// Jar is safe for concurrent use.
type Jar struct {
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*browsingSession
}

// NewJar creates a jar that forgets sessions idle for longer than idle.
func NewJar(idle time.Duration) *Jar {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Jar{
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*browsingSession),
	}
}

// WithClock replaces the time source. Intended for tests.
func (j *Jar) WithClock(now func() time.Time) *Jar {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
	return j
}

// CookieHeader returns the accumulated Cookie value for id.
func (j *Jar) CookieHeader(id string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	s, ok := j.sessions[id]
	if !ok || s.cookies == "" {
		return "", false
	}
	return s.cookies, true
}

// RecordSetCookies merges the name=value pairs of values into the session.
func (j *Jar) RecordSetCookies(id string, values []string) {
	pairs := make([]string, 0, len(values))
	for _, v := range values {
		if pair := cookiePair(v); pair != "" {
			pairs = append(pairs, pair)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	s := j.getOrCreate(id)
	s.lastSeen = j.now()
	if len(pairs) == 0 {
		return
	}

	joined := strings.Join(pairs, "; ")
	if s.cookies == "" {
		s.cookies = joined
	} else {
		s.cookies = s.cookies + "; " + joined
	}
}

// Touch refreshes the idle timer of id, creating the session if needed.
func (j *Jar) Touch(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.getOrCreate(id).lastSeen = j.now()
}

// Clear forgets id entirely.
func (j *Jar) Clear(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.sessions[id]
	delete(j.sessions, id)
	return ok
}

// Sweep removes idle sessions and returns how many were removed.
func (j *Jar) Sweep() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	removed := 0
	for id, s := range j.sessions {
		if now.Sub(s.lastSeen) > j.idle {
			delete(j.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (j *Jar) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Len returns the number of live sessions.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.sessions)
}

// getOrCreate must be called with mu held.
func (j *Jar) getOrCreate(id string) *browsingSession {
	s, ok := j.sessions[id]
	if !ok {
		s = &browsingSession{lastSeen: j.now()}
		j.sessions[id] = s
	}
	return s
}

// cookiePair strips every attribute after the first ';'.
func cookiePair(setCookie string) string {
	pair, _, _ := strings.Cut(setCookie, ";")
	pair = strings.TrimSpace(pair)
	if pair == "" || !strings.Contains(pair, "=") {
		return ""
	}
	return pair
}
