package publish

import (
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// Phase is a publish run state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseEncrypting Phase = "encrypting"
	PhaseUploaded   Phase = "uploaded"
	PhaseAssociated Phase = "associated"
	PhaseFailed     Phase = "failed"
)

// Session is a resolved publishing context: who acts, on which policy, with
// which capability.
type Session struct {
	Actor      models.Address    `json:"actor" yaml:"actor"`
	Policy     models.Policy     `json:"policy" yaml:"policy"`
	Capability models.Capability `json:"capability" yaml:"capability"`
}

func (s *Session) validate() error {
	if s == nil || s.Policy.ID == "" {
		return errs.New(errs.InvalidInput, "publish requires a resolved session")
	}
	if s.Capability.ID == "" || s.Capability.PolicyID != s.Policy.ID {
		return errs.CapabilityNotFound(s.Actor.String(), s.Policy.ID)
	}
	return nil
}

// Run is one pass through the publish state machine.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Session   Session   `json:"session" yaml:"session"`
	Phase     Phase     `json:"phase" yaml:"phase"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	// LastCompleted is the last phase that finished successfully.
	LastCompleted Phase `json:"last_completed,omitempty" yaml:"last_completed,omitempty"`
	// FailedDuring is the phase being entered when the run failed.
	FailedDuring Phase `json:"failed_during,omitempty" yaml:"failed_during,omitempty"`

	Blob  *models.BlobResult     `json:"blob,omitempty" yaml:"blob,omitempty"`
	Asset *models.EncryptedAsset `json:"asset,omitempty" yaml:"asset,omitempty"`
	Err   error                  `json:"-" yaml:"-"`
}

// Failure describes a failed run.
type Failure struct {
	Kind          errs.Kind
	LastCompleted Phase
	During        Phase
}

// Failure reports why the run failed; ok is false for runs that did not.
func (r *Run) Failure() (Failure, bool) {
	if r == nil || r.Phase != PhaseFailed {
		return Failure{}, false
	}
	return Failure{Kind: errs.KindOf(r.Err), LastCompleted: r.LastCompleted, During: r.FailedDuring}, true
}

func (r *Run) enter(p Phase) {
	r.Phase = p
}

func (r *Run) complete(p Phase) {
	r.LastCompleted = p
}
