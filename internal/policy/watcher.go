package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// Default refresh intervals per policy kind.
const (
	DefaultAllowlistInterval = 2 * time.Second
	DefaultServiceInterval   = 5 * time.Second
)

// DefaultInterval returns the refresh interval used for kind.
func DefaultInterval(kind models.PolicyKind) time.Duration {
	if kind == models.KindSubscription {
		return DefaultServiceInterval
	}
	return DefaultAllowlistInterval
}

// Snapshot is one refresh of a policy. Capability is nil when no owner was
// configured or the owner holds no capability for the policy.
type Snapshot struct {
	Policy     models.Policy
	Capability *models.Capability
	FetchedAt  time.Time
}

// WatchConfig selects what a Watcher refreshes.
type WatchConfig struct {
	PolicyID string
	Kind     models.PolicyKind
	Owner    models.Address
	Interval time.Duration
}

// Watcher periodically reloads a policy. Run drives the loop; Latest and
// Updates expose its results.
type Watcher struct {
	client   *Client
	resolver *Resolver
	cfg      WatchConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	latest  Snapshot
	hasLast bool
	updates chan Snapshot
}

// NewWatcher builds a Watcher. A zero Interval uses DefaultInterval.
func NewWatcher(client *Client, resolver *Resolver, cfg WatchConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval(cfg.Kind)
	}
	return &Watcher{
		client:   client,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "watcher", "policy_id", cfg.PolicyID),
		now:      time.Now,
		updates:  make(chan Snapshot, 1),
	}
}

// Latest returns the most recent snapshot and whether one exists yet.
func (w *Watcher) Latest() (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.hasLast
}

// Updates returns the snapshot stream of the current (or next) run. Slow
// consumers only ever see the newest snapshot. The channel is closed when
// Run returns; a later Run opens a fresh one.
func (w *Watcher) Updates() <-chan Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates
}

// Run refreshes immediately and then on every tick until ctx is done.
// Refresh failures are logged and keep the previous snapshot.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	updates := w.updates
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		close(updates)
		w.updates = make(chan Snapshot, 1)
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.refresh(ctx, updates)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.refresh(ctx, updates)
		}
	}
}

// Refresh performs one fetch outside the loop.
func (w *Watcher) Refresh(ctx context.Context) (Snapshot, error) {
	policy, err := w.client.GetPolicy(ctx, w.cfg.PolicyID)
	if err != nil {
		return Snapshot{}, err
	}
	if policy.Kind != w.cfg.Kind {
		return Snapshot{}, errs.New(errs.InvalidInput, "policy %s is a %s, not a %s", policy.ID, policy.Kind, w.cfg.Kind)
	}

	snap := Snapshot{Policy: policy, FetchedAt: w.now()}
	if w.cfg.Owner != "" && w.resolver != nil {
		capability, err := w.resolver.ResolveCapability(ctx, w.cfg.Owner, policy.ID, policy.Kind)
		switch {
		case err == nil:
			snap.Capability = &capability
		case errs.Is(err, errs.NotFound):
		default:
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func (w *Watcher) refresh(ctx context.Context, updates chan Snapshot) {
	snap, err := w.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		refreshErrors.WithLabelValues(string(w.cfg.Kind), string(errs.KindOf(err))).Inc()
		w.logger.Warn("policy refresh failed", "error", err)
		return
	}
	lastRefresh.WithLabelValues(string(w.cfg.Kind)).Set(float64(snap.FetchedAt.Unix()))

	w.mu.Lock()
	w.latest = snap
	w.hasLast = true
	w.mu.Unlock()

	// Replace any unread snapshot with the newer one.
	select {
	case <-updates:
	default:
	}
	select {
	case updates <- snap:
	default:
	}
}
