package genie

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies adapter failures by how the caller should react.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindPermission Kind = "permission"
	KindNotFound   Kind = "not_found"
	KindMalformed  Kind = "malformed"
	KindRejected   Kind = "rejected"
)

var (
	ErrTransient  = errors.New("genie: transient failure")
	ErrPermission = errors.New("genie: permission denied")
	ErrNotFound   = errors.New("genie: not found")
	ErrMalformed  = errors.New("genie: malformed response")
	ErrRejected   = errors.New("genie: request rejected")
)

var kindSentinels = map[Kind]error{
	KindTransient:  ErrTransient,
	KindPermission: ErrPermission,
	KindNotFound:   ErrNotFound,
	KindMalformed:  ErrMalformed,
	KindRejected:   ErrRejected,
}

// Error reports a failed Genie call. It matches the Err* sentinels via errors.Is.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("genie: %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("genie: %s: %s (status %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("genie: %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("genie: %s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrTransient) and friends match on Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// HTTPStatusCode returns the upstream status, or 0 when no response arrived.
func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

// KindOf extracts the Kind of an adapter error; ok is false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return "", false
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindPermission
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

func malformed(op string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Err: err}
}
