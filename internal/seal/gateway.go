package seal

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"sealgate/internal/errs"
)

// Gateway encrypts content for a policy and recovers it through the key
// server committee.
type Gateway struct {
	network   string
	packageID string
	servers   []Server
	byID      map[string]Server
	logger    *slog.Logger
}

// NewGateway builds a Gateway over servers, in committee order.
func NewGateway(network, packageID string, servers []Server, logger *slog.Logger) (*Gateway, error) {
	if packageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("at least one key server is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]Server, len(servers))
	for _, s := range servers {
		if s.Info.ID == "" || s.Client == nil {
			return nil, fmt.Errorf("key server %q is incomplete", s.Info.Name)
		}
		if _, dup := byID[s.Info.ID]; dup {
			return nil, fmt.Errorf("duplicate key server %s", s.Info.ID)
		}
		byID[s.Info.ID] = s
	}
	return &Gateway{
		network:   network,
		packageID: packageID,
		servers:   servers,
		byID:      byID,
		logger:    logger.With("component", "seal"),
	}, nil
}

// PackageID is the package every ciphertext is bound to.
func (g *Gateway) PackageID() string {
	return g.packageID
}

// KeyServers returns the configured servers for network.
func (g *Gateway) KeyServers(network string) ([]ServerInfo, error) {
	if network != g.network {
		return nil, errs.New(errs.NotFound, "no key servers configured for network %q", network)
	}
	out := make([]ServerInfo, 0, len(g.servers))
	for _, s := range g.servers {
		out = append(out, s.Info)
	}
	return out, nil
}

// ValidateThreshold checks 1 <= threshold <= number of key servers.
func (g *Gateway) ValidateThreshold(threshold int) error {
	if threshold < 1 || threshold > len(g.servers) {
		return errs.WithReason(errs.InvalidInput, errs.ReasonInvalidThreshold,
			fmt.Errorf("threshold %d outside 1..%d", threshold, len(g.servers)))
	}
	return nil
}

// Encrypt seals plaintext so that any threshold key servers approving a
// proof for policyID can recover it. No key server is contacted.
func (g *Gateway) Encrypt(ctx context.Context, policyID string, plaintext []byte, threshold int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if policyID == "" {
		return nil, errs.New(errs.InvalidInput, "policy id is required")
	}
	if err := g.ValidateThreshold(threshold); err != nil {
		return nil, err
	}

	secret := group.Ristretto255.RandomScalar(rand.Reader)
	key, err := deriveDataKey(secret, g.packageID, policyID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	env := Envelope{
		Version:    envelopeVersion,
		PackageID:  g.packageID,
		PolicyID:   policyID,
		Threshold:  threshold,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, associatedData(g.packageID, policyID)),
	}

	// circl's threshold is the polynomial degree: degree t-1 needs t shares.
	shares := secretsharing.New(rand.Reader, uint(threshold-1), secret).Share(uint(len(g.servers)))
	for i, share := range shares {
		server := g.servers[i]
		payload, err := encodeShare(g.packageID, policyID, share)
		if err != nil {
			return nil, err
		}
		pub := server.Info.PublicKey
		sealed, err := box.SealAnonymous(nil, payload, &pub, rand.Reader)
		if err != nil {
			return nil, err
		}
		env.Shares = append(env.Shares, SealedShare{Server: server.Info.ID, Data: sealed})
	}

	g.logger.Debug("encrypted", "policy_id", policyID, "threshold", threshold, "servers", len(g.servers), "bytes", len(plaintext))
	return env.Marshal()
}

// Decrypt recovers plaintext for a viewer. A ciphertext bound to another
// policy or package is denied without contacting any key server. Key servers
// are asked in committee order until threshold shares are released.
func (g *Gateway) Decrypt(ctx context.Context, ciphertext []byte, policyID string, proof Proof) ([]byte, error) {
	env, err := ParseEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if env.PolicyID != policyID || env.PackageID != g.packageID {
		return nil, errs.New(errs.AccessDenied, "ciphertext is bound to policy %s, not %s", env.PolicyID, policyID)
	}

	respPub, respPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	var (
		shares      []secretsharing.Share
		denied      int
		unavailable int
		lastDenial  error
	)
	for _, sealed := range env.Shares {
		if len(shares) == env.Threshold {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		server, ok := g.byID[sealed.Server]
		if !ok {
			unavailable++
			continue
		}

		released, err := server.Client.FetchShare(ctx, ShareRequest{
			PackageID:   env.PackageID,
			PolicyID:    policyID,
			SealedShare: sealed.Data,
			Proof:       proof,
			ResponseKey: *respPub,
		})
		if err != nil {
			if errs.Is(err, errs.AccessDenied) {
				denied++
				lastDenial = err
			} else {
				unavailable++
			}
			g.logger.Debug("share withheld", "server", server.Info.Name, "policy_id", policyID, "error", err)
			continue
		}

		opened, ok := box.OpenAnonymous(nil, released, respPub, respPriv)
		if !ok {
			unavailable++
			continue
		}
		payload, share, err := decodeShare(opened)
		if err != nil || payload.PolicyID != policyID {
			unavailable++
			continue
		}
		shares = append(shares, share)
	}

	if len(shares) < env.Threshold {
		if denied > 0 {
			return nil, errs.Wrap(errs.AccessDenied, fmt.Errorf("%d of %d key servers denied access: %w", denied, len(env.Shares), lastDenial))
		}
		return nil, errs.New(errs.ServiceUnavailable, "only %d of %d required key shares available (%d servers unreachable)", len(shares), env.Threshold, unavailable)
	}

	secret, err := secretsharing.Recover(uint(env.Threshold-1), shares)
	if err != nil {
		return nil, errs.New(errs.InvalidInput, "recover key: %v", err)
	}
	key, err := deriveDataKey(secret, env.PackageID, env.PolicyID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, associatedData(env.PackageID, env.PolicyID))
	if err != nil {
		return nil, errs.New(errs.InvalidInput, "ciphertext failed authentication")
	}
	return plaintext, nil
}
