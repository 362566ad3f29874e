package server

import (
	"strings"
	"testing"
	"time"
)

func TestAuthGuardCountsHostAndToken(t *testing.T) {
	g := newAuthGuard(3, time.Minute, 5*time.Minute)
	now := time.Unix(1_700_000_000, 0)

	// One stale token replayed from three hosts.
	for i, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		a := newAuthAttempt(host, "stale-token")
		if wait := g.Blocked(a, now); wait != 0 {
			t.Fatalf("attempt %d blocked early for %v", i, wait)
		}
		blocked := g.Fail(a, now)
		if blocked != (i == 2) {
			t.Fatalf("attempt %d: unexpected block state %v", i, blocked)
		}
	}
	if wait := g.Blocked(newAuthAttempt("10.0.0.9", "stale-token"), now); wait != 5*time.Minute {
		t.Fatalf("expected the token to be blocked for 5m, got %v", wait)
	}
	if wait := g.Blocked(newAuthAttempt("10.0.0.1", "other-token"), now); wait != 0 {
		t.Fatalf("one failure must not block the host, got %v", wait)
	}
	if wait := g.Blocked(newAuthAttempt("10.0.0.9", "stale-token"), now.Add(5*time.Minute)); wait != 0 {
		t.Fatalf("expected the block to lapse, got %v", wait)
	}
}

func TestAuthGuardWindowAndClear(t *testing.T) {
	g := newAuthGuard(2, time.Minute, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	g.Fail(newAuthAttempt("10.0.0.1", ""), now)
	if g.Fail(newAuthAttempt("10.0.0.1", ""), now.Add(2*time.Minute)) {
		t.Fatal("failures outside the window must not accumulate")
	}
	g.Clear(newAuthAttempt("10.0.0.1", "good-token"))
	if g.Fail(newAuthAttempt("10.0.0.1", ""), now.Add(2*time.Minute)) {
		t.Fatal("a successful attempt clears the host's strikes")
	}
}

func TestAuthGuardNilIsPermissive(t *testing.T) {
	var g *authGuard
	a := newAuthAttempt("10.0.0.1", "token")
	if g.Blocked(a, time.Now()) != 0 || g.Fail(a, time.Now()) {
		t.Fatal("nil guard must allow everything")
	}
	g.Clear(a)
	if newAuthGuard(0, time.Minute, time.Minute) != nil {
		t.Fatal("zero failures disables the guard")
	}
}

func TestTokenFingerprintDoesNotLeakToken(t *testing.T) {
	fp := tokenFingerprint("super-secret-token")
	if len(fp) != 12 || strings.Contains("super-secret-token", fp) {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	if fp != tokenFingerprint("super-secret-token") || fp == tokenFingerprint("super-secret-tokeN") {
		t.Fatal("fingerprint must be stable and distinguish tokens")
	}
	if keys := newAuthAttempt("", "").keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}
