package policy

import (
	"context"
	"log/slog"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// Resolver finds the capability proving an owner administers a policy.
type Resolver struct {
	client *Client
	logger *slog.Logger
}

// NewResolver builds a Resolver on top of client.
func NewResolver(client *Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, logger: logger.With("component", "resolver")}
}

// ResolveCapability returns the first capability of kind owned by owner that
// is bound to policyID. Uniqueness is not enforced; duplicates are logged.
func (r *Resolver) ResolveCapability(ctx context.Context, owner models.Address, policyID string, kind models.PolicyKind) (models.Capability, error) {
	caps, err := r.client.ListCapabilities(ctx, owner, kind)
	if err != nil {
		return models.Capability{}, err
	}

	var matches []models.Capability
	for _, c := range caps {
		if c.PolicyID == policyID {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return models.Capability{}, errs.CapabilityNotFound(owner.String(), policyID)
	}
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		r.logger.Warn("multiple capabilities for policy", "policy_id", policyID, "owner", owner.Short(), "cap_ids", ids)
	}
	return matches[0], nil
}
