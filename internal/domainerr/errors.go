// Package domainerr implements the error taxonomy in spec.md §7: typed
// domain errors that carry a machine-readable kind, a human message, and
// (where applicable) a recommendation the RPC boundary surfaces to callers.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy entries from spec.md §7.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindAccessDenied    Kind = "ACCESS_DENIED"
	KindConflict        Kind = "CONFLICT"
	KindConnectivity    Kind = "CONNECTIVITY"
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindConfigCorrupted Kind = "CONFIG_CORRUPTED"
	KindAuthError       Kind = "AUTH_ERROR"
	KindInternal        Kind = "INTERNAL"
)

// DomainError is the single error type every component returns for an
// expected failure mode. Cause chains through Unwrap so callers can still
// errors.Is/As against lower-level errors.
type DomainError struct {
	Kind           Kind
	Message        string
	Recommendation string
	Cause          error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New builds a DomainError with no recommendation.
func New(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Cause: cause}
}

// NewWithRecommendation builds a DomainError carrying the "how to fix" text
// spec.md §7 requires for every user-visible rejection.
func NewWithRecommendation(kind Kind, message, recommendation string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Recommendation: recommendation, Cause: cause}
}

// Sentinel values for the cases components compare against directly.
var (
	ErrNotFound         = &DomainError{Kind: KindNotFound, Message: "entity not found"}
	ErrAccessDenied     = &DomainError{Kind: KindAccessDenied, Message: "access denied"}
	ErrConflict         = &DomainError{Kind: KindConflict, Message: "conflicting state"}
	ErrPortExhausted    = &DomainError{Kind: KindConflict, Message: "no free port in range"}
	ErrDuplicateService = &DomainError{Kind: KindConflict, Message: "service already has an allocation"}
	ErrNoRangeAssigned  = &DomainError{Kind: KindValidation, Message: "project has no assigned port range"}
	ErrAuthError        = &DomainError{Kind: KindAuthError, Message: "authentication tag mismatch"}
	ErrConfigCorrupted  = &DomainError{Kind: KindConfigCorrupted, Message: "ingress configuration invalid after write"}
)

// WrapValidation wraps cause as a Validation error with the given message.
func WrapValidation(message string, cause error) error {
	return &DomainError{Kind: KindValidation, Message: message, Cause: cause}
}

// WrapNotFound wraps cause as a NotFound error naming the missing entity.
func WrapNotFound(entity string, cause error) error {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", entity), Cause: cause}
}

// WrapConflict wraps cause as a Conflict error.
func WrapConflict(message string, cause error) error {
	return &DomainError{Kind: KindConflict, Message: message, Cause: cause}
}

// WrapConnectivity wraps cause as a Connectivity error with a mandatory
// recommendation per spec.md §7's user-visible behavior requirement.
func WrapConnectivity(message, recommendation string, cause error) error {
	return &DomainError{Kind: KindConnectivity, Message: message, Recommendation: recommendation, Cause: cause}
}

// WrapUpstreamTimeout wraps cause as an UpstreamTimeout error.
func WrapUpstreamTimeout(what string, cause error) error {
	return &DomainError{Kind: KindUpstreamTimeout, Message: fmt.Sprintf("timed out waiting for %s", what), Cause: cause}
}

// WrapRateLimited wraps cause as a RateLimited error.
func WrapRateLimited(retryAfter string, cause error) error {
	return &DomainError{Kind: KindRateLimited, Message: fmt.Sprintf("rate limited, retry after %s", retryAfter), Cause: cause}
}

// WrapInternal wraps cause as an Internal (catch-all) error.
func WrapInternal(message string, cause error) error {
	return &DomainError{Kind: KindInternal, Message: message, Cause: cause}
}

// Is reports whether err is a DomainError of the given kind.
func Is(err error, kind Kind) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal for errors
// that never went through this package.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// RecommendationOf extracts the Recommendation, if any.
func RecommendationOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Recommendation
	}
	return ""
}
