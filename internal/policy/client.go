// Package policy reads and mutates access policies on the ledger and
// discovers the capabilities that authorize changes to them.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
)

// Client gives typed access to policy objects, capabilities and grants.
type Client struct {
	ledger    ledger.Ledger
	packageID string
	gasBudget uint64
	logger    *slog.Logger
}

// NewClient builds a Client for the contracts published under packageID.
func NewClient(l ledger.Ledger, packageID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ledger:    l,
		packageID: packageID,
		gasBudget: ledger.DefaultGasBudget,
		logger:    logger.With("component", "policy"),
	}
}

// PackageID is the contract package the client targets.
func (c *Client) PackageID() string {
	return c.packageID
}

// TypeTag returns the exact tag of a struct in the module serving kind.
func (c *Client) TypeTag(kind models.PolicyKind, name string) ledger.TypeTag {
	return ledger.StructTag(c.packageID, kind.Module(), name)
}

func (c *Client) policyTag(kind models.PolicyKind) ledger.TypeTag {
	if kind == models.KindSubscription {
		return c.TypeTag(kind, ledger.StructService)
	}
	return c.TypeTag(kind, ledger.StructAllowlist)
}

// GetPolicy loads a policy object by id.
func (c *Client) GetPolicy(ctx context.Context, id string) (models.Policy, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Policy{}, errs.New(errs.InvalidInput, "policy id is required")
	}
	obj, err := c.ledger.GetObject(ctx, id)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return models.Policy{}, errs.PolicyNotFound(id)
		}
		return models.Policy{}, err
	}

	policy := models.Policy{ID: obj.ID, Version: obj.Version}
	switch obj.Type {
	case c.policyTag(models.KindAllowlist):
		var fields ledger.AllowlistFields
		if err := obj.Decode(&fields); err != nil {
			return models.Policy{}, err
		}
		policy.Kind = models.KindAllowlist
		policy.Name = fields.Name
		policy.Members = toAddresses(fields.List)
		policy.Assets = fields.Blobs
	case c.policyTag(models.KindSubscription):
		var fields ledger.ServiceFields
		if err := obj.Decode(&fields); err != nil {
			return models.Policy{}, err
		}
		policy.Kind = models.KindSubscription
		policy.Name = fields.Name
		policy.FeeAmount = fields.Fee
		policy.TTLMillis = fields.TTL
		policy.Owner = models.Address(fields.Owner)
		policy.Assets = fields.Blobs
	default:
		return models.Policy{}, errs.WithReason(errs.NotFound, errs.ReasonPolicyNotFound,
			fmt.Errorf("object %s is a %s, not a policy", id, obj.Type))
	}
	return policy, nil
}

// ListCapabilities returns every capability of kind owned by owner, in
// ledger order.
func (c *Client) ListCapabilities(ctx context.Context, owner models.Address, kind models.PolicyKind) ([]models.Capability, error) {
	objects, err := c.ledger.GetOwnedObjectsByType(ctx, owner.String(), c.TypeTag(kind, ledger.StructCap))
	if err != nil {
		return nil, err
	}

	caps := make([]models.Capability, 0, len(objects))
	for _, obj := range objects {
		policyID, err := capPolicyID(obj, kind)
		if err != nil {
			return nil, err
		}
		caps = append(caps, models.Capability{
			ID:       obj.ID,
			PolicyID: policyID,
			Kind:     kind,
			Owner:    owner,
		})
	}
	return caps, nil
}

func capPolicyID(obj ledger.Object, kind models.PolicyKind) (string, error) {
	if kind == models.KindSubscription {
		var fields ledger.ServiceCapFields
		if err := obj.Decode(&fields); err != nil {
			return "", err
		}
		return fields.ServiceID, nil
	}
	var fields ledger.AllowlistCapFields
	if err := obj.Decode(&fields); err != nil {
		return "", err
	}
	return fields.AllowlistID, nil
}

// ListGrants returns the subscriptions holder bought for policyID. An empty
// policyID lists every grant the holder owns.
func (c *Client) ListGrants(ctx context.Context, holder models.Address, policyID string) ([]models.Grant, error) {
	objects, err := c.ledger.GetOwnedObjectsByType(ctx, holder.String(), c.TypeTag(models.KindSubscription, ledger.StructSubscription))
	if err != nil {
		return nil, err
	}

	grants := []models.Grant{}
	for _, obj := range objects {
		var fields ledger.SubscriptionFields
		if err := obj.Decode(&fields); err != nil {
			return nil, err
		}
		if policyID != "" && fields.ServiceID != policyID {
			continue
		}
		grants = append(grants, models.Grant{
			ID:          obj.ID,
			PolicyID:    fields.ServiceID,
			PurchasedAt: fields.CreatedAt,
			Holder:      holder,
		})
	}
	return grants, nil
}

// CreateAllowlist mints an empty allowlist and its capability for owner.
func (c *Client) CreateAllowlist(ctx context.Context, owner models.Address, name string) (models.Policy, models.Capability, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Policy{}, models.Capability{}, errs.New(errs.InvalidInput, "name is required")
	}
	effects, err := c.submit(ctx, owner, ledger.MoveCall(c.packageID, ledger.ModuleAllowlist, ledger.FnCreateAllowlistEntry, name))
	if err != nil {
		return models.Policy{}, models.Capability{}, err
	}
	return c.minted(effects, owner, models.Policy{Kind: models.KindAllowlist, Name: name})
}

// CreateService mints a subscription service and its capability for owner.
func (c *Client) CreateService(ctx context.Context, owner models.Address, name string, fee uint64, ttlMillis int64) (models.Policy, models.Capability, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Policy{}, models.Capability{}, errs.New(errs.InvalidInput, "name is required")
	}
	if ttlMillis < 0 {
		return models.Policy{}, models.Capability{}, errs.New(errs.InvalidInput, "ttl must not be negative")
	}
	call := ledger.MoveCall(c.packageID, ledger.ModuleSubscription, ledger.FnCreateServiceEntry,
		strconv.FormatUint(fee, 10), strconv.FormatInt(ttlMillis, 10), name)
	effects, err := c.submit(ctx, owner, call)
	if err != nil {
		return models.Policy{}, models.Capability{}, err
	}
	return c.minted(effects, owner, models.Policy{
		Kind:      models.KindSubscription,
		Name:      name,
		FeeAmount: fee,
		TTLMillis: ttlMillis,
		Owner:     owner,
	})
}

func (c *Client) minted(effects ledger.Effects, owner models.Address, policy models.Policy) (models.Policy, models.Capability, error) {
	name := ledger.StructAllowlist
	if policy.Kind == models.KindSubscription {
		name = ledger.StructService
	}
	created, ok := effects.CreatedOfType(policy.Kind.Module(), name)
	if !ok {
		return models.Policy{}, models.Capability{}, errs.New(errs.Rejected, "transaction %s created no %s", effects.Digest, name)
	}
	capRef, ok := effects.CreatedOfType(policy.Kind.Module(), ledger.StructCap)
	if !ok {
		return models.Policy{}, models.Capability{}, errs.New(errs.Rejected, "transaction %s created no capability", effects.Digest)
	}
	policy.ID = created.ID
	policy.Version = created.Version
	return policy, models.Capability{ID: capRef.ID, PolicyID: created.ID, Kind: policy.Kind, Owner: owner}, nil
}

// Subscribe buys a grant to a subscription policy. payment must equal the
// policy fee; the ledger stamps the purchase time.
func (c *Client) Subscribe(ctx context.Context, holder models.Address, policyID string, payment uint64) (models.Grant, error) {
	call := ledger.MoveCall(c.packageID, ledger.ModuleSubscription, ledger.FnSubscribe, policyID, strconv.FormatUint(payment, 10))
	effects, err := c.submit(ctx, holder, call)
	if err != nil {
		return models.Grant{}, err
	}
	ref, ok := effects.CreatedOfType(ledger.ModuleSubscription, ledger.StructSubscription)
	if !ok {
		return models.Grant{}, errs.New(errs.Rejected, "transaction %s created no subscription", effects.Digest)
	}
	return models.Grant{ID: ref.ID, PolicyID: policyID, PurchasedAt: effects.TimestampMs, Holder: holder}, nil
}

// SubmitPolicyMutation applies one owner-gated change to a policy.
func (c *Client) SubmitPolicyMutation(ctx context.Context, sender models.Address, m Mutation) (ledger.Effects, error) {
	call, err := m.call(c.packageID)
	if err != nil {
		return ledger.Effects{}, err
	}
	effects, err := c.submit(ctx, sender, call)
	if err != nil {
		return ledger.Effects{}, err
	}
	c.logger.Debug("policy mutated", "op", m.Op, "policy_id", m.PolicyID, "digest", effects.Digest)
	return effects, nil
}

func (c *Client) submit(ctx context.Context, sender models.Address, calls ...ledger.Call) (ledger.Effects, error) {
	if _, err := models.ParseAddress(sender.String()); err != nil {
		return ledger.Effects{}, err
	}
	effects, err := c.ledger.SubmitTransaction(ctx, ledger.Transaction{
		Sender:    sender.String(),
		Calls:     calls,
		GasBudget: c.gasBudget,
	})
	if err != nil {
		return ledger.Effects{}, classifyAbort(err)
	}
	return effects, nil
}

// classifyAbort refines contract aborts into the caller-facing taxonomy.
func classifyAbort(err error) error {
	var abort *ledger.AbortError
	if !errors.As(err, &abort) {
		return err
	}
	switch abort.Code {
	case ledger.AbortInvalidCap:
		return errs.Wrap(errs.Unauthorized, err)
	case ledger.AbortObjectNotFound:
		return errs.WithReason(errs.NotFound, errs.ReasonPolicyNotFound, err)
	case ledger.AbortBadArgument:
		return errs.Wrap(errs.InvalidInput, err)
	default:
		return errs.Wrap(errs.Rejected, err)
	}
}

func toAddresses(values []string) []models.Address {
	out := make([]models.Address, 0, len(values))
	for _, v := range values {
		out = append(out, models.Address(v))
	}
	return out
}
