package api

import (
	"errors"
	"fmt"

	"sealgate/internal/errs"
)

// APIError is a structured error returned by the HTTP API. It unwraps to a
// classified error so errs.KindOf and errors.As(*ledger.AbortError) work
// across the wire.
type APIError struct {
	Status    int
	Code      string
	ErrorCode int
	Message   string

	err error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status > 0 {
		return fmt.Sprintf("api error: %d", e.Status)
	}
	return "api error"
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func newAPIError(status int, resp ErrorResponse) *APIError {
	apiErr := &APIError{Status: status, Code: resp.Code, ErrorCode: resp.ErrorCode, Message: resp.Error}

	var cause error = errors.New(resp.Error)
	if resp.Abort != nil {
		cause = fmt.Errorf("%s: %w", resp.Error, resp.Abort)
	}
	if kind, ok := errs.ParseKind(resp.Code); ok {
		apiErr.err = &errs.Error{Kind: kind, Reason: resp.Reason, Err: cause}
	} else if resp.Abort != nil {
		apiErr.err = cause
	}
	return apiErr
}
