// Package protocol implements the resumable upload wire protocol:
// session creation and offset-addressed chunk requests, plus the error
// taxonomy the session layer dispatches on.
package protocol

import (
	"errors"
	"fmt"
)

// ValidationError indicates bad caller input rejected before any network
// request is issued (missing source, oversized in-memory source, bad
// chunk size).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// AuthError indicates the remote rejected our credentials (401 or 403
// on any request). Always fatal, never retried regardless of the
// configured retry policy.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: status %d", e.Status)
}

// ProtocolError indicates the remote violated the upload protocol, such
// as a 2xx creation response without a Location header. Fatal.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// TransferError carries a non-2xx response status from a creation or
// chunk request. Whether it is retried is up to the retry policy.
type TransferError struct {
	Status int
	Op     string // "create" or "chunk"
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s request failed: status %d", e.Op, e.Status)
}

// StatusOf extracts the HTTP status from a TransferError or AuthError,
// returning 0 for transport-level failures that never produced a
// response.
func StatusOf(err error) int {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Status
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// IsFatal reports whether an error must never be retried: validation,
// authentication, and protocol violations short-circuit the retry loop.
func IsFatal(err error) bool {
	var ve *ValidationError
	var ae *AuthError
	var pe *ProtocolError
	return errors.As(err, &ve) || errors.As(err, &ae) || errors.As(err, &pe)
}
