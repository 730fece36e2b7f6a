package core

import (
	"errors"
	"fmt"
)

// ErrKind enumerates the error taxonomy observable at the core boundary
// (§7). Every failure that reaches the dispatcher's caller is classified
// into one of these kinds so logs and metrics can be aggregated without
// string matching.
type ErrKind string

const (
	ErrNoOriginalDest ErrKind = "no_original_dest"
	ErrPolicyReject   ErrKind = "policy_reject"
	ErrNoCandidates   ErrKind = "no_candidates"
	ErrTimeout        ErrKind = "timeout"
	ErrUnreachable    ErrKind = "unreachable"
	ErrUpstreamReject ErrKind = "upstream_rejected"
	ErrProtocol       ErrKind = "protocol_error"
	ErrPipe           ErrKind = "pipe_error"
	ErrConfig         ErrKind = "config_error"
)

// Error wraps an underlying cause with its §7 classification.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError classifies err under kind. A nil err returns nil.
func NewError(kind ErrKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the ErrKind from err, if it (or something it wraps) is a
// *Error. The second return is false for unclassified errors.
func KindOf(err error) (ErrKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
