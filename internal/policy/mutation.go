package policy

import (
	"strings"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
)

// Op names a policy mutation.
type Op string

const (
	OpAddMember    Op = "add_member"
	OpRemoveMember Op = "remove_member"
	OpPublishAsset Op = "publish_asset"
)

// Mutation is one owner-gated change to a policy, authorized by CapID.
type Mutation struct {
	Op       Op
	Kind     models.PolicyKind
	PolicyID string
	CapID    string
	Address  string
	URL      string
}

// AddMember adds addr to an allowlist.
func AddMember(policyID, capID, addr string) Mutation {
	return Mutation{Op: OpAddMember, Kind: models.KindAllowlist, PolicyID: policyID, CapID: capID, Address: addr}
}

// RemoveMember removes addr from an allowlist.
func RemoveMember(policyID, capID, addr string) Mutation {
	return Mutation{Op: OpRemoveMember, Kind: models.KindAllowlist, PolicyID: policyID, CapID: capID, Address: addr}
}

// PublishAsset records an encrypted asset URL on a policy of any kind.
func PublishAsset(kind models.PolicyKind, policyID, capID, url string) Mutation {
	return Mutation{Op: OpPublishAsset, Kind: kind, PolicyID: policyID, CapID: capID, URL: url}
}

func (m Mutation) call(packageID string) (ledger.Call, error) {
	if strings.TrimSpace(m.PolicyID) == "" {
		return ledger.Call{}, errs.New(errs.InvalidInput, "policy id is required")
	}
	if strings.TrimSpace(m.CapID) == "" {
		return ledger.Call{}, errs.New(errs.InvalidInput, "capability id is required")
	}

	switch m.Op {
	case OpAddMember, OpRemoveMember:
		if m.Kind != models.KindAllowlist {
			return ledger.Call{}, errs.New(errs.InvalidInput, "%s requires an allowlist policy", m.Op)
		}
		addr, err := models.ParseAddress(m.Address)
		if err != nil {
			return ledger.Call{}, err
		}
		fn := ledger.FnAdd
		if m.Op == OpRemoveMember {
			fn = ledger.FnRemove
		}
		return ledger.MoveCall(packageID, ledger.ModuleAllowlist, fn, m.PolicyID, m.CapID, addr.String()), nil
	case OpPublishAsset:
		if _, err := models.ParsePolicyKind(string(m.Kind)); err != nil {
			return ledger.Call{}, errs.Wrap(errs.InvalidInput, err)
		}
		url := strings.TrimSpace(m.URL)
		if url == "" {
			return ledger.Call{}, errs.New(errs.InvalidInput, "asset url is required")
		}
		return ledger.MoveCall(packageID, m.Kind.Module(), ledger.FnPublish, m.PolicyID, m.CapID, url), nil
	default:
		return ledger.Call{}, errs.New(errs.InvalidInput, "unknown policy mutation %q", m.Op)
	}
}
