package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes and
// machine-readable error codes without leaking infrastructure details.
var (
	ErrValidation       = errors.New("validation error")
	ErrNoDeliveryMethod = errors.New("no delivery method")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrNotFound         = errors.New("not found")
	ErrExpiredOrMissing = errors.New("expired or not found")
	ErrAlreadyUsed      = errors.New("already used")
	ErrMaxAttempts      = errors.New("max attempts exceeded")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
)

// ErrorCode maps a domain error to the machine-readable code surfaced to
// callers. Unknown errors map to INTERNAL_ERROR.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNoDeliveryMethod):
		return "NO_DELIVERY_METHOD"
	case errors.Is(err, ErrDeliveryFailed):
		return "DELIVERY_FAILED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrExpiredOrMissing):
		return "EXPIRED_OR_NOT_FOUND"
	case errors.Is(err, ErrAlreadyUsed):
		return "ALREADY_USED"
	case errors.Is(err, ErrMaxAttempts):
		return "MAX_ATTEMPTS_EXCEEDED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	}
	return "INTERNAL_ERROR"
}
