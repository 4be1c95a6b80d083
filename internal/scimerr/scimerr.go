// Package scimerr maps internal failures to SCIM error documents and HTTP
// status codes, table-driven in the teacher's own writeError idiom
// (internal/httpapi/rest_items.go's typed-error-then-status-switch pattern).
package scimerr

import (
	"fmt"
	"net/http"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// Kind is the error taxonomy from spec §7.
type Kind string

const (
	KindProtocol           Kind = "protocol"
	KindAuth               Kind = "auth"
	KindTenant             Kind = "tenant"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindRateLimited        Kind = "rate_limited"
	KindProvider           Kind = "provider"
	KindInternal           Kind = "internal"
)

// Error is the gateway's tagged result-value error type: every pipeline stage
// short-circuits on one of these rather than relying on bare Go errors or
// panics for control flow (spec §9).
type Error struct {
	Kind        Kind
	ScimType    string
	Detail      string
	RetryAfter  int // seconds, only meaningful for KindRateLimited
	Retryable   bool
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, scimType, detail string) *Error {
	return &Error{Kind: kind, ScimType: scimType, Detail: detail}
}

func Wrap(kind Kind, scimType, detail string, cause error) *Error {
	return &Error{Kind: kind, ScimType: scimType, Detail: detail, Cause: cause}
}

func InvalidSyntax(detail string) *Error  { return New(KindProtocol, "invalidSyntax", detail) }
func InvalidFilter(detail string) *Error  { return New(KindProtocol, "invalidFilter", detail) }
func InvalidValue(detail string) *Error   { return New(KindProtocol, "invalidValue", detail) }
func MissingBearer() *Error               { return New(KindAuth, "", "missing bearer token") }
func InvalidToken(detail string) *Error   { return New(KindAuth, "invalidToken", detail) }
func InsufficientScope(detail string) *Error {
	return New(KindAuth, "invalidToken", "insufficient scope: "+detail)
}
func CrossTenant() *Error { return New(KindTenant, "forbidden", "cross-tenant access forbidden") }
func InvalidTenant(detail string) *Error { return New(KindTenant, "invalidTenant", detail) }
func NotFound(detail string) *Error      { return New(KindNotFound, "", detail) }
func Uniqueness(detail string) *Error    { return New(KindConflict, "uniqueness", detail) }
func PreconditionFailed(detail string) *Error {
	return New(KindPreconditionFailed, "", detail)
}
func RateLimited(retryAfter int) *Error {
	return &Error{Kind: KindRateLimited, ScimType: "tooManyRequests", Detail: "rate limit exceeded", RetryAfter: retryAfter}
}
func NoTarget(detail string) *Error { return New(KindProtocol, "noTarget", detail) }
func Internal(cause error) *Error   { return Wrap(KindInternal, "", "internal error", cause) }
func Provider(detail string, retryable bool, cause error) *Error {
	e := Wrap(KindProvider, "", detail, cause)
	e.Retryable = retryable
	return e
}

var statusByKind = map[Kind]int{
	KindProtocol:           http.StatusBadRequest,
	KindAuth:               http.StatusUnauthorized,
	KindTenant:             http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindPreconditionFailed: http.StatusPreconditionFailed,
	KindRateLimited:        http.StatusTooManyRequests,
	KindProvider:           http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// HTTPStatus returns the status code for a given error kind. KindTenant is
// special-cased here: ScimType "invalidTenant" (missing tid) maps to 400,
// any other tenant error (CrossTenant) to the table's 403.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindTenant && e.ScimType == "invalidTenant" {
		return http.StatusBadRequest
	}
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Document renders the SCIM error document body per spec §4.5/§7.
func (e *Error) Document() scimmodel.ErrorDocument {
	return scimmodel.ErrorDocument{
		Schemas:  []string{scimmodel.SchemaError},
		Status:   fmt.Sprintf("%d", e.HTTPStatus()),
		ScimType: e.ScimType,
		Detail:   e.Detail,
	}
}

// As reports whether err is a *Error, unwrapping through Wrap chains.
func As(err error) (*Error, bool) {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
