// Package publish runs the encrypt, upload, associate workflow that binds an
// encrypted asset to a policy.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sealgate/internal/blobstore"
	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
	"sealgate/internal/policy"
)

// DefaultMaxUploadBytes caps plaintext size.
const DefaultMaxUploadBytes = 10 << 20

// ErrNewPublish is returned when a run that already associated one blob is
// asked to associate another. Start a new run instead.
var ErrNewPublish = errors.New("run already associated a different blob; start a new publish")

// Encrypter is the part of the encryption gateway the orchestrator uses.
type Encrypter interface {
	ValidateThreshold(threshold int) error
	Encrypt(ctx context.Context, policyID string, plaintext []byte, threshold int) ([]byte, error)
}

// PolicyStore reads and mutates policies.
type PolicyStore interface {
	GetPolicy(ctx context.Context, id string) (models.Policy, error)
	SubmitPolicyMutation(ctx context.Context, sender models.Address, m policy.Mutation) (ledger.Effects, error)
}

// CapabilityResolver finds the capability an actor holds for a policy.
type CapabilityResolver interface {
	ResolveCapability(ctx context.Context, owner models.Address, policyID string, kind models.PolicyKind) (models.Capability, error)
}

// Config tunes the orchestrator.
type Config struct {
	MaxUploadBytes int
	Epochs         int
}

// Orchestrator drives publish runs. Runs are independent; phases inside a
// run are strictly sequential.
type Orchestrator struct {
	cfg       Config
	encrypter Encrypter
	transport blobstore.Transport
	policies  PolicyStore
	resolver  CapabilityResolver
	logger    *slog.Logger
}

// New builds an Orchestrator. Zero config values use the defaults.
func New(cfg Config, encrypter Encrypter, transport blobstore.Transport, policies PolicyStore, resolver CapabilityResolver, logger *slog.Logger) *Orchestrator {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = blobstore.DefaultEpochs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		encrypter: encrypter,
		transport: transport,
		policies:  policies,
		resolver:  resolver,
		logger:    logger.With("component", "publish"),
	}
}

// OpenSession resolves the policy and the actor's capability for it.
func (o *Orchestrator) OpenSession(ctx context.Context, actor models.Address, policyID string) (*Session, error) {
	p, err := o.policies.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	capability, err := o.resolver.ResolveCapability(ctx, actor, p.ID, p.Kind)
	if err != nil {
		return nil, err
	}
	return &Session{Actor: actor, Policy: p, Capability: capability}, nil
}

// Publish starts a new run and drives it as far as it goes. The returned
// run is never nil; on failure it is in PhaseFailed and carries the error.
func (o *Orchestrator) Publish(ctx context.Context, s *Session, plaintext []byte, threshold int) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Phase: PhaseIdle, StartedAt: time.Now()}
	if s != nil {
		run.Session = *s
	}
	if err := s.validate(); err != nil {
		return run, o.fail(run, err)
	}
	if len(plaintext) > o.cfg.MaxUploadBytes {
		return run, o.fail(run, errs.WithReason(errs.InvalidInput, errs.ReasonPayloadTooLarge,
			fmt.Errorf("payload is %d bytes, limit is %d", len(plaintext), o.cfg.MaxUploadBytes)))
	}
	if err := o.encrypter.ValidateThreshold(threshold); err != nil {
		return run, o.fail(run, err)
	}
	log := o.logger.With("run_id", run.ID, "policy_id", s.Policy.ID)

	run.enter(PhaseEncrypting)
	ciphertext, err := o.encrypter.Encrypt(ctx, s.Policy.ID, plaintext, threshold)
	if err != nil {
		return run, o.fail(run, err)
	}
	run.complete(PhaseEncrypting)

	run.enter(PhaseUploaded)
	blob, err := o.transport.Store(ctx, ciphertext, o.cfg.Epochs)
	if err != nil {
		return run, o.fail(run, err)
	}
	run.Blob = &blob
	run.complete(PhaseUploaded)
	blobOutcomes.WithLabelValues(string(blob.Status)).Inc()
	log.Info("uploaded", "blob_id", blob.BlobID, "status", blob.Label(), "end_epoch", blob.EndEpoch)

	if err := o.associate(ctx, run, blob); err != nil {
		return run, err
	}
	publishDuration.Observe(time.Since(run.StartedAt).Seconds())
	return run, nil
}

// Associate retries only the association step of a run whose upload
// succeeded. It checks that the blob is still retrievable first; expired or
// missing blobs fail without touching the ledger.
func (o *Orchestrator) Associate(ctx context.Context, run *Run) error {
	if run == nil || run.Blob == nil {
		return errs.New(errs.InvalidInput, "run has no uploaded blob to associate")
	}
	if run.Phase == PhaseAssociated {
		return nil
	}
	if _, err := o.transport.Fetch(ctx, run.Blob.BlobID); err != nil {
		return o.fail(run, err)
	}
	return o.associate(ctx, run, *run.Blob)
}

// AssociateBlob records blob on the run's policy. It is idempotent for the
// blob the run already associated and returns ErrNewPublish for any other.
func (o *Orchestrator) AssociateBlob(ctx context.Context, run *Run, blob models.BlobResult) error {
	if run == nil {
		return errs.New(errs.InvalidInput, "run is required")
	}
	sameBlob := run.Blob != nil && run.Blob.BlobID == blob.BlobID
	if run.Phase == PhaseAssociated {
		if sameBlob {
			return nil
		}
		return errs.Wrap(errs.InvalidInput, ErrNewPublish)
	}
	if run.Blob != nil && !sameBlob {
		// A failed association may still have committed.
		current, err := o.policies.GetPolicy(ctx, run.Session.Policy.ID)
		if err != nil {
			return err
		}
		if current.HasAsset(o.transport.URL(run.Blob.BlobID)) {
			return errs.Wrap(errs.InvalidInput, ErrNewPublish)
		}
	}
	run.Blob = &blob
	return o.associate(ctx, run, blob)
}

func (o *Orchestrator) associate(ctx context.Context, run *Run, blob models.BlobResult) error {
	s := run.Session
	url := o.transport.URL(blob.BlobID)
	run.enter(PhaseAssociated)

	current, err := o.policies.GetPolicy(ctx, s.Policy.ID)
	if err != nil {
		return o.fail(run, err)
	}
	if !current.HasAsset(url) {
		m := policy.PublishAsset(s.Policy.Kind, s.Policy.ID, s.Capability.ID, url)
		if _, err := o.policies.SubmitPolicyMutation(ctx, s.Actor, m); err != nil {
			return o.fail(run, err)
		}
	}

	run.Asset = &models.EncryptedAsset{
		PolicyID:     s.Policy.ID,
		BlobID:       blob.BlobID,
		PublishedURL: url,
		EndEpoch:     blob.EndEpoch,
		Status:       blob.Status,
	}
	run.complete(PhaseAssociated)
	run.Err = nil
	publishRuns.WithLabelValues(string(PhaseAssociated), "").Inc()
	o.logger.Info("associated", "run_id", run.ID, "policy_id", s.Policy.ID, "blob_id", blob.BlobID, "url", url)
	return nil
}

func (o *Orchestrator) fail(run *Run, err error) error {
	run.FailedDuring = run.Phase
	run.Phase = PhaseFailed
	run.Err = err
	publishRuns.WithLabelValues(string(PhaseFailed), string(errs.KindOf(err))).Inc()
	o.logger.Warn("publish failed", "run_id", run.ID, "policy_id", run.Session.Policy.ID,
		"during", run.FailedDuring, "last_completed", run.LastCompleted, "error", err)
	return err
}
