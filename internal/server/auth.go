package server

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sealgate/internal/auth"
)

// withAuth requires the configured bearer token (or one matching the
// configured bcrypt hash) on every route except the health check, metrics and
// blob reads. Blob reads stay public because aggregator URLs are recorded on
// the ledger for anyone to fetch.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authRequired() || isPublicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}
		now := time.Now()
		token, ok := bearerToken(r)
		attempt := newAuthAttempt(clientHost(r), token)
		if wait := s.authGuard.Blocked(attempt, now); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			s.writeErrorReq(w, r, http.StatusTooManyRequests, apiError{
				status:  http.StatusTooManyRequests,
				code:    "resource_exhausted",
				errCode: ErrCodeResourceExhausted,
				err:     fmt.Errorf("too many failed authentication attempts"),
			})
			return
		}
		if !ok || !s.tokenMatches(token) {
			if s.authGuard.Fail(attempt, now) {
				s.log().Warn("blocking bearer token attempts", "client", attempt.host, "token_fingerprint", attempt.fingerprint)
			}
			s.writeErrorReq(w, r, http.StatusUnauthorized, apiError{
				status:  http.StatusUnauthorized,
				code:    "unauthenticated",
				errCode: ErrCodeUnauthorized,
				err:     fmt.Errorf("missing or invalid bearer token"),
			})
			return
		}
		s.authGuard.Clear(attempt)
		next.ServeHTTP(w, r)
	})
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) authRequired() bool {
	return s.apiToken != "" || s.apiTokenHash != ""
}

func (s *Server) tokenMatches(token string) bool {
	if s.apiToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) == 1 {
		return true
	}
	return s.apiTokenHash != "" && auth.VerifyToken(s.apiTokenHash, token)
}

func isPublicRoute(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health", r.URL.Path == "/metrics":
		return true
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/blobs/"):
		return true
	default:
		return false
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
