package server

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// authGuard throttles bearer token guessing. A rejected attempt counts
// against the client host and against a fingerprint of the presented token,
// so a host cycling through tokens and a stale token replayed from many hosts
// are both cut off after maxFailures within window.
type authGuard struct {
	mu          sync.Mutex
	strikes     map[string]authStrikes
	maxFailures int
	window      time.Duration
	blockedFor  time.Duration
	staleAfter  time.Duration
	sweeps      int
}

type authStrikes struct {
	count        int
	since        time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

const authGuardSweepEvery = 64

func newAuthGuard(maxFailures int, window, blockedFor time.Duration) *authGuard {
	if maxFailures <= 0 || window <= 0 || blockedFor <= 0 {
		return nil
	}
	return &authGuard{
		strikes:     make(map[string]authStrikes),
		maxFailures: maxFailures,
		window:      window,
		blockedFor:  blockedFor,
		staleAfter:  2 * max(window, blockedFor, 5*time.Minute),
	}
}

// authAttempt names what an authentication attempt is counted under.
type authAttempt struct {
	host        string
	fingerprint string
}

func newAuthAttempt(host, token string) authAttempt {
	a := authAttempt{host: host}
	if token != "" {
		a.fingerprint = tokenFingerprint(token)
	}
	return a
}

func (a authAttempt) keys() []string {
	keys := make([]string, 0, 2)
	if a.host != "" {
		keys = append(keys, "host:"+a.host)
	}
	if a.fingerprint != "" {
		keys = append(keys, "token:"+a.fingerprint)
	}
	return keys
}

// tokenFingerprint identifies a token in logs and limiter state without
// keeping the token itself.
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// Blocked returns how long a is still refused, or zero when it may proceed.
func (g *authGuard) Blocked(a authAttempt, now time.Time) time.Duration {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var wait time.Duration
	for _, key := range a.keys() {
		s, ok := g.strikes[key]
		if !ok {
			continue
		}
		if now.Before(s.blockedUntil) {
			wait = max(wait, s.blockedUntil.Sub(now))
		}
		s.lastSeen = now
		g.strikes[key] = s
	}
	g.sweepLocked(now)
	return wait
}

// Fail records a rejected attempt. It reports whether the attempt started a
// block on any of its keys.
func (g *authGuard) Fail(a authAttempt, now time.Time) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	blocked := false
	for _, key := range a.keys() {
		s := g.strikes[key]
		if s.since.IsZero() || now.Sub(s.since) > g.window {
			s.count = 0
			s.since = now
		}
		s.count++
		if s.count >= g.maxFailures {
			s.blockedUntil = now.Add(g.blockedFor)
			s.count = 0
			s.since = time.Time{}
			blocked = true
		}
		s.lastSeen = now
		g.strikes[key] = s
	}
	g.sweepLocked(now)
	return blocked
}

// Clear forgets the host's strikes after a successful authentication.
func (g *authGuard) Clear(a authAttempt) {
	if g == nil || a.host == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.strikes, "host:"+a.host)
}

func (g *authGuard) sweepLocked(now time.Time) {
	g.sweeps++
	if g.sweeps%authGuardSweepEvery != 0 {
		return
	}
	for key, s := range g.strikes {
		if now.Sub(s.lastSeen) > g.staleAfter && !now.Before(s.blockedUntil) {
			delete(g.strikes, key)
		}
	}
}
