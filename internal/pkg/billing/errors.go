package billing

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthentication covers missing or invalid webhook signatures and
	// bearer tokens. The request is rejected without any state change.
	ErrAuthentication = errors.New("billing: authentication failed")
	// ErrValidation marks requests that are missing required fields.
	ErrValidation = errors.New("billing: validation failed")
	// ErrInvalidPayload marks webhook bodies that cannot be decoded.
	ErrInvalidPayload = errors.New("billing: invalid payload")

	// ErrProviderUnavailable wraps network and 5xx failures of the billing
	// provider. Surfaced as a server error so the provider re-delivers.
	ErrProviderUnavailable = errors.New("billing: provider unavailable")
	// ErrProviderRejected wraps 4xx answers of the billing provider, e.g. an
	// unknown price.
	ErrProviderRejected = errors.New("billing: provider rejected request")
	// ErrStoreWrite wraps failed store reads and writes.
	ErrStoreWrite = errors.New("billing: store failure")

	ErrUnknownStatus     = errors.New("billing: unknown subscription status")
	ErrCustomerNotMapped = errors.New("billing: customer has no active mapping")
)

// HTTPStatus maps an error from this package to the response status used by
// the HTTP layer.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrProviderRejected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a generic message for err that is safe to hand to
// machine consumers. Provider and store details stay in the logs.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication failed"
	case errors.Is(err, ErrValidation):
		return "missing required parameters"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid payload"
	case errors.Is(err, ErrProviderRejected):
		return "request rejected by billing provider"
	default:
		return "internal error"
	}
}
