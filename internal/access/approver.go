package access

import (
	"context"
	"sync"
	"time"

	"sealgate/internal/seal"
)

// LedgerApprover is the key server side check: it re-reads the policy and
// the viewer's grants from its own ledger view.
type LedgerApprover struct {
	policies PolicyReader

	mu  sync.RWMutex
	now func() time.Time
}

var _ seal.Approver = (*LedgerApprover)(nil)

// NewLedgerApprover builds an approver over policies.
func NewLedgerApprover(policies PolicyReader) *LedgerApprover {
	return &LedgerApprover{policies: policies, now: time.Now}
}

// SetClock replaces the clock used to judge grant expiry.
func (a *LedgerApprover) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	a.now = now
}

// Approve accepts members of an allowlist and holders of a valid grant.
func (a *LedgerApprover) Approve(ctx context.Context, policyID string, proof seal.Proof) error {
	p, err := a.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return err
	}
	a.mu.RLock()
	now := a.now()
	a.mu.RUnlock()
	_, err = eligibility(ctx, a.policies, p, proof.Viewer, proof.GrantID, now)
	return err
}
