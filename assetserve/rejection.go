package assetserve

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the class of a rejected request.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// StatusCode is the HTTP status sent for the kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Reason says which check failed. Its value is the plaintext response body.
type Reason string

const (
	ReasonInvalidURL   Reason = "invalid asset url"
	ReasonNotFound     Reason = "asset not found"
	ReasonHashFormat   Reason = "hash invalid format"
	ReasonHashLength   Reason = "hash invalid length"
	ReasonHashMismatch Reason = "hash mismatch"
	ReasonResponse     Reason = "failed to build response"
)

// Rejection is the error returned for every request that is not served.
type Rejection struct {
	Kind   Kind
	Reason Reason
	// Err is the underlying cause, if any.
	Err error
}

func reject(kind Kind, reason Reason, cause error) *Rejection {
	return &Rejection{Kind: kind, Reason: reason, Err: cause}
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Reason, r.Err)
	}
	return string(r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

func (r *Rejection) StatusCode() int {
	return r.Kind.StatusCode()
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}
