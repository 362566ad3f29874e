package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sealgate/internal/blobstore"
	"sealgate/internal/errs"
	"sealgate/internal/models"
	"sealgate/internal/seal"
)

// Decrypter is the part of the encryption gateway the evaluator uses.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte, policyID string, proof seal.Proof) ([]byte, error)
}

// Fetcher downloads ciphertext.
type Fetcher interface {
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}

// AssetResult is one entry of RequestAll.
type AssetResult struct {
	URL       string `json:"url" yaml:"url"`
	BlobID    string `json:"blob_id" yaml:"blob_id"`
	Plaintext []byte `json:"-" yaml:"-"`
	Err       error  `json:"-" yaml:"-"`
}

// Evaluator checks a viewer's eligibility locally before asking key servers
// for anything, then fetches and decrypts assets.
type Evaluator struct {
	policies  PolicyReader
	decrypter Decrypter
	fetcher   Fetcher
	logger    *slog.Logger

	mu  sync.RWMutex
	now func() time.Time
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(policies PolicyReader, decrypter Decrypter, fetcher Fetcher, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		policies:  policies,
		decrypter: decrypter,
		fetcher:   fetcher,
		logger:    logger.With("component", "access"),
		now:       time.Now,
	}
}

// SetClock replaces the clock used to judge grant expiry.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	e.now = now
}

func (e *Evaluator) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Prove loads policyID and returns the proof viewer would present, or
// errs.NotEligible.
func (e *Evaluator) Prove(ctx context.Context, viewer models.Address, policyID string) (models.Policy, seal.Proof, error) {
	p, err := e.policies.GetPolicy(ctx, policyID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return models.Policy{}, seal.Proof{}, errs.WithReason(errs.NotFound, errs.ReasonAssetNotFound, err)
		}
		return models.Policy{}, seal.Proof{}, err
	}
	proof, err := eligibility(ctx, e.policies, p, viewer, "", e.clock())
	if err != nil {
		accessDecisions.WithLabelValues(string(p.Kind), outcomeOf(err)).Inc()
		return p, seal.Proof{}, err
	}
	return p, proof, nil
}

// RequestAccess decrypts the most recently published asset of policyID.
func (e *Evaluator) RequestAccess(ctx context.Context, viewer models.Address, policyID string) ([]byte, error) {
	p, proof, err := e.Prove(ctx, viewer, policyID)
	if err != nil {
		return nil, err
	}
	if len(p.Assets) == 0 {
		return nil, errs.AssetNotFound(policyID)
	}
	return e.open(ctx, p, p.Assets[len(p.Assets)-1], proof)
}

// RequestAsset decrypts the asset of policyID stored as blobID.
func (e *Evaluator) RequestAsset(ctx context.Context, viewer models.Address, policyID, blobID string) ([]byte, error) {
	p, proof, err := e.Prove(ctx, viewer, policyID)
	if err != nil {
		return nil, err
	}
	for _, url := range p.Assets {
		id, err := blobstore.ParseURL(url)
		if err == nil && id == blobID {
			return e.open(ctx, p, url, proof)
		}
	}
	return nil, errs.WithReason(errs.NotFound, errs.ReasonAssetNotFound, fmt.Errorf("blob %s is not published on policy %s", blobID, policyID))
}

// RequestAll decrypts every asset of policyID in publish order. Assets that
// are missing or expired are reported per entry; any other failure aborts.
func (e *Evaluator) RequestAll(ctx context.Context, viewer models.Address, policyID string) ([]AssetResult, error) {
	p, proof, err := e.Prove(ctx, viewer, policyID)
	if err != nil {
		return nil, err
	}

	results := make([]AssetResult, 0, len(p.Assets))
	for _, url := range p.Assets {
		res := AssetResult{URL: url}
		res.BlobID, _ = blobstore.ParseURL(url)
		res.Plaintext, res.Err = e.open(ctx, p, url, proof)
		if res.Err != nil && !errs.Is(res.Err, errs.NotFound) && !errs.Is(res.Err, errs.Expired) {
			return nil, res.Err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Evaluator) open(ctx context.Context, p models.Policy, url string, proof seal.Proof) ([]byte, error) {
	blobID, err := blobstore.ParseURL(url)
	if err != nil {
		return nil, err
	}
	ciphertext, err := e.fetcher.Fetch(ctx, blobID)
	if err != nil {
		return nil, err
	}
	plaintext, err := e.decrypter.Decrypt(ctx, ciphertext, p.ID, proof)
	accessDecisions.WithLabelValues(string(p.Kind), outcomeOf(err)).Inc()
	if err != nil {
		e.logger.Debug("decrypt failed", "policy_id", p.ID, "blob_id", blobID, "viewer", proof.Viewer.Short(), "error", err)
		return nil, err
	}
	return plaintext, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "granted"
	}
	if kind := errs.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
