package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a facade failure so callers can branch without parsing messages.
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindInvalid     Kind = "invalid"
	KindUnavailable Kind = "unavailable"
	KindUpstream    Kind = "upstream"
)

// Error is the failure type of every facade operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a facade Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Kind == kind
}

// kindForStatus maps an HTTP status code of the upstream service to a Kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindInvalid
	default:
		return KindUpstream
	}
}

func wrapTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Op: op, Kind: KindUnavailable, Err: err}
}
