package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"sealgate/internal/auth"
	"sealgate/internal/blobstore"
	"sealgate/internal/ledger"
)

const (
	apiTokenEnvKey      = "SEALGATE_API_TOKEN"
	apiTokenHashEnvKey  = "SEALGATE_API_TOKEN_HASH"
	allowRemoteEnvKey   = "SEALGATE_ALLOW_REMOTE"
	readHeaderTimeout   = 5 * time.Second
	readTimeout         = 60 * time.Second
	writeTimeout        = 60 * time.Second
	idleTimeout         = 60 * time.Second
	uploadConcurrency   = 4
	authMaxFailures     = 10
	authFailureWindow   = time.Minute
	authBlockDuration   = 5 * time.Minute
	defaultMaxBlobBytes = 10 << 20
)

// Options tunes a Server. Zero values use the defaults.
type Options struct {
	Network        string
	DBPath         string
	MaxUploadBytes int64
}

// Server serves the ledger API and the reference blob store over HTTP. The
// same address acts as blob publisher and aggregator.
type Server struct {
	addr           string
	network        string
	dbPath         string
	ledger         *ledger.Store
	blobs          *blobstore.LocalStore
	maxUploadBytes int64
	logger         *slog.Logger
	apiToken       string
	apiTokenHash   string
	uploadLimiter  chan struct{}
	authGuard      *authGuard

	mu   sync.Mutex
	http *http.Server
}

// New creates a new server instance.
func New(addr string, st *ledger.Store, blobs *blobstore.LocalStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	token := strings.TrimSpace(os.Getenv(apiTokenEnvKey))
	if token != "" {
		if err := auth.ValidateToken(token); err != nil {
			logger.Warn("weak api token", "env", apiTokenEnvKey, "error", err)
		}
	}
	return &Server{
		addr:           addr,
		ledger:         st,
		blobs:          blobs,
		maxUploadBytes: defaultMaxBlobBytes,
		logger:         logger,
		apiToken:       token,
		apiTokenHash:   strings.TrimSpace(os.Getenv(apiTokenHashEnvKey)),
		authGuard:      newAuthGuard(authMaxFailures, authFailureWindow, authBlockDuration),
		uploadLimiter:  make(chan struct{}, uploadConcurrency),
	}
}

// Configure applies opts.
func (s *Server) Configure(opts Options) {
	s.network = opts.Network
	s.dbPath = opts.DBPath
	if opts.MaxUploadBytes > 0 {
		s.maxUploadBytes = opts.MaxUploadBytes
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.withAuth(s.routes()))
}

// Serve accepts connections on l until it is closed.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer().Serve(l)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer().Shutdown(ctx)
}

func (s *Server) httpServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return s.http
	}
	s.log().Info("starting server", "addr", s.addr, "network", s.network)
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s.http
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
