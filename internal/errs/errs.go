// Package errs defines the failure taxonomy shared by every sealgate layer.
//
// Every error that crosses a component boundary carries exactly one Kind.
// A Reason narrows the kind (for example policy_not_found is a not_found)
// without changing how callers are expected to react to it.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it.
type Kind string

const (
	NotFound           Kind = "not_found"
	Unauthorized       Kind = "unauthorized"
	InvalidInput       Kind = "invalid_input"
	Rejected           Kind = "rejected"
	TransportError     Kind = "transport_error"
	Expired            Kind = "expired"
	AccessDenied       Kind = "access_denied"
	NotEligible        Kind = "not_eligible"
	ServiceUnavailable Kind = "service_unavailable"
)

// Reasons refine a Kind.
const (
	ReasonPolicyNotFound     = "policy_not_found"
	ReasonCapabilityNotFound = "capability_not_found"
	ReasonAssetNotFound      = "asset_not_found"
	ReasonInvalidThreshold   = "invalid_threshold"
	ReasonPayloadTooLarge    = "payload_too_large"
	ReasonInvalidAddress     = "invalid_address"
)

var kinds = []Kind{
	NotFound,
	Unauthorized,
	InvalidInput,
	Rejected,
	TransportError,
	Expired,
	AccessDenied,
	NotEligible,
	ServiceUnavailable,
}

var (
	ErrPolicyNotFound     = &Error{Kind: NotFound, Reason: ReasonPolicyNotFound}
	ErrCapabilityNotFound = &Error{Kind: NotFound, Reason: ReasonCapabilityNotFound}
	ErrAssetNotFound      = &Error{Kind: NotFound, Reason: ReasonAssetNotFound}
	ErrInvalidThreshold   = &Error{Kind: InvalidInput, Reason: ReasonInvalidThreshold}
	ErrPayloadTooLarge    = &Error{Kind: InvalidInput, Reason: ReasonPayloadTooLarge}
	ErrInvalidAddress     = &Error{Kind: InvalidInput, Reason: ReasonInvalidAddress}
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return Message(e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by kind and, when the target has one, reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil || t.Err != nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// New builds a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// WithReason classifies err with a refined reason.
func WithReason(kind Kind, reason string, err error) error {
	if err == nil {
		err = errors.New(Message(kind, reason))
	}
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// PolicyNotFound reports a missing policy object.
func PolicyNotFound(policyID string) error {
	return WithReason(NotFound, ReasonPolicyNotFound, fmt.Errorf("policy %s not found", policyID))
}

// CapabilityNotFound reports that owner holds no capability for policyID.
func CapabilityNotFound(owner, policyID string) error {
	return WithReason(NotFound, ReasonCapabilityNotFound, fmt.Errorf("no capability for policy %s owned by %s", policyID, owner))
}

// AssetNotFound reports a policy without the requested encrypted asset.
func AssetNotFound(policyID string) error {
	return WithReason(NotFound, ReasonAssetNotFound, fmt.Errorf("no published asset for policy %s", policyID))
}

// KindOf returns the outermost kind attached to err, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the outermost reason attached to err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether err is classified with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may retry with backoff. The core itself
// never retries.
func Retryable(err error) bool {
	switch KindOf(err) {
	case TransportError, ServiceUnavailable:
		return true
	default:
		return false
	}
}

// ParseKind maps a wire code back to a Kind.
func ParseKind(raw string) (Kind, bool) {
	for _, k := range kinds {
		if string(k) == raw {
			return k, true
		}
	}
	return "", false
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Message returns the user-facing description of a kind or reason.
func Message(kind Kind, reason string) string {
	switch reason {
	case ReasonPolicyNotFound:
		return "policy object not found"
	case ReasonCapabilityNotFound:
		return "no capability token for this policy is held by the current address"
	case ReasonAssetNotFound:
		return "no encrypted asset has been published for this policy"
	case ReasonInvalidThreshold:
		return "threshold must be between 1 and the number of key servers"
	case ReasonPayloadTooLarge:
		return "payload exceeds the maximum upload size"
	case ReasonInvalidAddress:
		return "address is not a well-formed identity"
	}
	switch kind {
	case NotFound:
		return "entity not found"
	case Unauthorized:
		return "capability does not authorize this policy"
	case InvalidInput:
		return "invalid input"
	case Rejected:
		return "ledger rejected the transaction"
	case TransportError:
		return "blob store unreachable or returned an error"
	case Expired:
		return "blob retention period has elapsed"
	case AccessDenied:
		return "key servers denied access"
	case NotEligible:
		return "viewer is not eligible under this policy"
	case ServiceUnavailable:
		return "a dependency is temporarily unavailable"
	default:
		return "unexpected error"
	}
}
