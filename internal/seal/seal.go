// Package seal binds ciphertext to a policy id with threshold key servers.
//
// Content is sealed under a fresh data key derived from a random scalar. The
// scalar is split t-of-n and each share is sealed to one key server, which
// releases it only after the server's Approver accepts the viewer's proof
// for the policy.
package seal

import (
	"context"

	"sealgate/internal/models"
)

// Proof is what a viewer presents to key servers. GrantID is only used for
// subscription policies.
type Proof struct {
	Viewer  models.Address `json:"viewer"`
	GrantID string         `json:"grant_id,omitempty"`
}

// Approver decides whether proof entitles the viewer to keys for policyID.
// Returning a retryable error (see errs.Retryable) marks the server as
// unavailable rather than denying.
type Approver interface {
	Approve(ctx context.Context, policyID string, proof Proof) error
}

// ServerInfo is the public description of one key server.
type ServerInfo struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	URL       string   `json:"url" yaml:"url"`
	PublicKey [32]byte `json:"-" yaml:"-"`
}

// ShareRequest asks a key server to release its share of an envelope.
type ShareRequest struct {
	PackageID   string
	PolicyID    string
	SealedShare []byte
	Proof       Proof
	// ResponseKey is the ephemeral key the released share is sealed to.
	ResponseKey [32]byte
}

// KeyServer releases shares. Errors are classified as errs.AccessDenied or
// errs.ServiceUnavailable.
type KeyServer interface {
	FetchShare(ctx context.Context, req ShareRequest) ([]byte, error)
}

// Server pairs a key server's public description with a way to reach it.
type Server struct {
	Info   ServerInfo
	Client KeyServer
}
