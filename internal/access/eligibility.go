// Package access decides whether a viewer may read a policy's assets and
// recovers the plaintext for those who may.
package access

import (
	"context"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
	"sealgate/internal/seal"
)

// PolicyReader is the read side of the policy client.
type PolicyReader interface {
	GetPolicy(ctx context.Context, id string) (models.Policy, error)
	ListGrants(ctx context.Context, holder models.Address, policyID string) ([]models.Grant, error)
}

// eligibility builds the proof viewer presents for p at now. For
// subscriptions a non-empty grantID restricts the check to that grant.
func eligibility(ctx context.Context, policies PolicyReader, p models.Policy, viewer models.Address, grantID string, now time.Time) (seal.Proof, error) {
	switch p.Kind {
	case models.KindAllowlist:
		if !p.HasMember(viewer) {
			return seal.Proof{}, errs.New(errs.NotEligible, "%s is not on allowlist %s", viewer.Short(), p.ID)
		}
		return seal.Proof{Viewer: viewer}, nil
	case models.KindSubscription:
		grants, err := policies.ListGrants(ctx, viewer, p.ID)
		if err != nil {
			return seal.Proof{}, err
		}
		var best *models.Grant
		for i := range grants {
			g := grants[i]
			if grantID != "" && g.ID != grantID {
				continue
			}
			if !g.ValidAt(now, p.TTLMillis) {
				continue
			}
			if best == nil || g.PurchasedAt > best.PurchasedAt {
				best = &g
			}
		}
		if best == nil {
			return seal.Proof{}, errs.New(errs.NotEligible, "%s holds no valid subscription to %s", viewer.Short(), p.ID)
		}
		return seal.Proof{Viewer: viewer, GrantID: best.ID}, nil
	default:
		return seal.Proof{}, errs.New(errs.InvalidInput, "unknown policy kind %q", p.Kind)
	}
}
