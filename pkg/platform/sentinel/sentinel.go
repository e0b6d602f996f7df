package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and external clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in the store or index
// - ErrConflict: a conditional write's precondition did not hold
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: store or external service temporarily unavailable
// - ErrThrottled: external service rejected the call for rate reasons; retryable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrThrottled    = errors.New("throttled")
)

// IsRetryable reports whether err is a transient infrastructure failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
