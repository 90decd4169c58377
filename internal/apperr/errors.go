// Package apperr holds the error taxonomy of the version pipeline. Adapters
// classify provider- and storage-specific failures into these sentinels with
// fmt.Errorf("%s: %w", msg, sentinel); callers check with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Request-time failures. None of these leave a version record behind.
var (
	ErrAuthRequired        = errors.New("authentication required")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrVersionLimitReached = errors.New("version limit reached")
	ErrInvalidLevel        = errors.New("invalid processing level")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrLedgerUnavailable   = errors.New("credit ledger unavailable")
)

// Pipeline failures. Any of these reaching the background task boundary
// triggers refund and deletion of the version.
var (
	ErrSectionIdentificationFailed = errors.New("section identification failed")
	ErrMarkerNotFound              = errors.New("section marker not found")
	ErrProviderError               = errors.New("completion provider error")
	ErrMalformedStructuredOutput   = errors.New("malformed structured output")
)

// ErrVersionNotFound is returned by stores when a version record is missing.
var ErrVersionNotFound = errors.New("version not found")

// ErrVersionClaimed is returned when a version left the pending state before
// this caller could move it to processing.
var ErrVersionClaimed = errors.New("version already claimed")

// InsufficientCreditsError carries the shortfall details for a 402 response.
type InsufficientCreditsError struct {
	Needed    int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%s: need %d, have %d", ErrInsufficientCredits, e.Needed, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// HTTPStatus maps an error from the version API onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrVersionClaimed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidLevel), errors.Is(err, ErrVersionLimitReached):
		return http.StatusBadRequest
	case errors.Is(err, ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
