package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PolicyKind selects how a policy decides eligibility.
type PolicyKind string

const (
	KindAllowlist    PolicyKind = "allowlist"
	KindSubscription PolicyKind = "subscription"
)

var validPolicyKinds = map[PolicyKind]struct{}{
	KindAllowlist:    {},
	KindSubscription: {},
}

// ParsePolicyKind validates a policy kind name.
func ParsePolicyKind(raw string) (PolicyKind, error) {
	value := PolicyKind(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("policy kind is required")
	}
	if _, ok := validPolicyKinds[value]; !ok {
		return "", fmt.Errorf("invalid policy kind: %s", value)
	}
	return value, nil
}

// Module is the contract module that owns this kind of policy.
func (k PolicyKind) Module() string {
	return string(k)
}

// Policy is an access-control policy object read from the ledger. The ID
// doubles as the encryption identity for content gated by the policy.
type Policy struct {
	ID      string     `json:"id" yaml:"id"`
	Kind    PolicyKind `json:"kind" yaml:"kind"`
	Name    string     `json:"name" yaml:"name"`
	Version uint64     `json:"version" yaml:"version"`

	// Allowlist only.
	Members []Address `json:"members,omitempty" yaml:"members,omitempty"`

	// Subscription only.
	FeeAmount uint64  `json:"fee,omitempty" yaml:"fee,omitempty"`
	TTLMillis int64   `json:"ttl_ms,omitempty" yaml:"ttl_ms,omitempty"`
	Owner     Address `json:"owner,omitempty" yaml:"owner,omitempty"`

	// Write-once URLs of published encrypted assets, in publish order.
	Assets []string `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// HasMember reports allowlist membership.
func (p Policy) HasMember(addr Address) bool {
	for _, m := range p.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// HasAsset reports whether url is already recorded on the policy.
func (p Policy) HasAsset(url string) bool {
	for _, a := range p.Assets {
		if a == url {
			return true
		}
	}
	return false
}

// TTL returns the subscription duration.
func (p Policy) TTL() time.Duration {
	return time.Duration(p.TTLMillis) * time.Millisecond
}

// SortedMembers returns a copy of the members in lexical order.
func (p Policy) SortedMembers() []Address {
	out := make([]Address, len(p.Members))
	copy(out, p.Members)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capability proves administrative rights over exactly one policy.
type Capability struct {
	ID       string     `json:"id" yaml:"id"`
	PolicyID string     `json:"policy_id" yaml:"policy_id"`
	Kind     PolicyKind `json:"kind" yaml:"kind"`
	Owner    Address    `json:"owner" yaml:"owner"`
}

// Grant is a paid, time-bounded subscription to a subscription policy.
// Validity is never stored; call ValidAt with the policy TTL.
type Grant struct {
	ID          string  `json:"id" yaml:"id"`
	PolicyID    string  `json:"policy_id" yaml:"policy_id"`
	PurchasedAt int64   `json:"purchased_at_ms" yaml:"purchased_at_ms"`
	Holder      Address `json:"holder" yaml:"holder"`
}

// ExpiresAt is the last instant (inclusive) at which the grant is valid.
func (g Grant) ExpiresAt(ttlMillis int64) time.Time {
	return time.UnixMilli(g.PurchasedAt + ttlMillis)
}

// ValidAt reports whether the grant is valid at now. The boundary instant
// purchase+ttl is still valid.
func (g Grant) ValidAt(now time.Time, ttlMillis int64) bool {
	return now.UnixMilli() <= g.PurchasedAt+ttlMillis
}
