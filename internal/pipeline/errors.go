package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes a pipeline failure. Kinds are wire-visible: the HTTP
// layer serializes them as the "error" field of the JSON error body.
type Kind string

const (
	KindAuth              Kind = "auth_error"
	KindMetadataNotFound  Kind = "metadata_not_found"
	KindSearchUnavailable Kind = "search_unavailable"
	KindNoCleanMatch      Kind = "no_clean_match"
	KindInvalidReference  Kind = "invalid_reference"
	KindUpstreamBlocked   Kind = "upstream_blocked"
	KindExtractionFailed  Kind = "extraction_failed"
	KindStreamFailed      Kind = "stream_failed"
	KindInternal          Kind = "internal_error"
)

// Error is a categorized pipeline failure with a human-readable detail
// the caller may surface verbatim.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the failure kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidReference:
		return http.StatusBadRequest
	case KindMetadataNotFound, KindNoCleanMatch:
		return http.StatusNotFound
	case KindAuth, KindSearchUnavailable, KindUpstreamBlocked:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func failed(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Coerce returns err as a categorized *Error, wrapping anything
// unexpected as an internal error so no unstructured failure reaches
// the boundary.
func Coerce(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: KindInternal, Detail: err.Error(), Err: err}
}
