package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument = 1000
	ErrCodeInvalidJSON     = 1001
	ErrCodeRequestTooLarge = 1002
	ErrCodeInvalidQuery    = 1003
	ErrCodeInvalidID       = 1004
	ErrCodeInvalidAddress  = 1005

	// Domain state (2xxx)
	ErrCodeObjectNotFound = 2001
	ErrCodeBlobNotFound   = 2002
	ErrCodeBlobExpired    = 2003
	ErrCodeTxRejected     = 2101
	ErrCodeTxAborted      = 2102

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal           = 4001
	ErrCodeStoreFailure       = 4002
	ErrCodeBlobStoreFailure   = 4003
	ErrCodeServiceUnavailable = 4004
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeObjectNotFound
	case 409:
		return ErrCodeTxRejected
	case 410:
		return ErrCodeBlobExpired
	case 413:
		return ErrCodeRequestTooLarge
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 503:
		return ErrCodeServiceUnavailable
	default:
		return 0
	}
}
