package seal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/nacl/box"

	"sealgate/internal/errs"
)

// KeyPair is a key server's curve25519 identity.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a fresh key server identity.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: *pub, Private: *priv}, nil
}

// KeyPairFromBytes rebuilds a key pair from stored key material.
func KeyPairFromBytes(public, private []byte) (KeyPair, error) {
	if len(public) != 32 || len(private) != 32 {
		return KeyPair{}, fmt.Errorf("key pair must be 32+32 bytes, got %d+%d", len(public), len(private))
	}
	var kp KeyPair
	copy(kp.Public[:], public)
	copy(kp.Private[:], private)
	return kp, nil
}

// LocalKeyServer holds one share key in process and releases shares after
// its Approver accepts the request.
type LocalKeyServer struct {
	info      ServerInfo
	keys      KeyPair
	packageID string
	approver  Approver
	logger    *slog.Logger
}

var _ KeyServer = (*LocalKeyServer)(nil)

// NewLocalKeyServer builds a key server serving packageID.
func NewLocalKeyServer(info ServerInfo, keys KeyPair, packageID string, approver Approver, logger *slog.Logger) *LocalKeyServer {
	if logger == nil {
		logger = slog.Default()
	}
	info.PublicKey = keys.Public
	return &LocalKeyServer{
		info:      info,
		keys:      keys,
		packageID: packageID,
		approver:  approver,
		logger:    logger.With("component", "keyserver", "server", info.Name),
	}
}

// Info describes the server.
func (k *LocalKeyServer) Info() ServerInfo {
	return k.info
}

// FetchShare opens the caller's sealed share, checks it was sealed for the
// requested policy, asks the Approver, and reseals the share to the
// caller's response key.
func (k *LocalKeyServer) FetchShare(ctx context.Context, req ShareRequest) ([]byte, error) {
	if req.PackageID != k.packageID {
		shareRequests.WithLabelValues(outcomeDenied).Inc()
		return nil, errs.New(errs.AccessDenied, "package %s is not served here", req.PackageID)
	}
	opened, ok := box.OpenAnonymous(nil, req.SealedShare, &k.keys.Public, &k.keys.Private)
	if !ok {
		shareRequests.WithLabelValues(outcomeDenied).Inc()
		return nil, errs.New(errs.AccessDenied, "share was not sealed to %s", k.info.Name)
	}
	payload, _, err := decodeShare(opened)
	if err != nil {
		shareRequests.WithLabelValues(outcomeDenied).Inc()
		return nil, errs.Wrap(errs.AccessDenied, err)
	}
	if payload.PolicyID != req.PolicyID || payload.PackageID != req.PackageID {
		shareRequests.WithLabelValues(outcomeDenied).Inc()
		return nil, errs.New(errs.AccessDenied, "share is bound to policy %s", payload.PolicyID)
	}

	if k.approver == nil {
		shareRequests.WithLabelValues(outcomeUnavailable).Inc()
		return nil, errs.New(errs.ServiceUnavailable, "key server %s has no approver", k.info.Name)
	}
	if err := k.approver.Approve(ctx, req.PolicyID, req.Proof); err != nil {
		if errs.Retryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			shareRequests.WithLabelValues(outcomeUnavailable).Inc()
			return nil, errs.Wrap(errs.ServiceUnavailable, err)
		}
		shareRequests.WithLabelValues(outcomeDenied).Inc()
		k.logger.Debug("share denied", "policy_id", req.PolicyID, "viewer", req.Proof.Viewer.Short(), "error", err)
		return nil, errs.Wrap(errs.AccessDenied, err)
	}

	resp := req.ResponseKey
	sealed, err := box.SealAnonymous(nil, opened, &resp, rand.Reader)
	if err != nil {
		return nil, err
	}
	shareRequests.WithLabelValues(outcomeReleased).Inc()
	return sealed, nil
}
