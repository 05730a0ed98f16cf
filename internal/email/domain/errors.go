package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers branch on kind rather
// than string-matching messages.
type ErrorKind string

const (
	// ErrKindTransient: network timeouts, provider 5xx, rate-limit
	// rejections. Retried with bounded backoff at the call site.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindAuthExpired: credentials invalid or expired. Run-fatal; the
	// caller must trigger re-authentication.
	ErrKindAuthExpired ErrorKind = "auth_expired"
	// ErrKindPermanent: per-item failures (malformed or oversized content).
	// The item is excluded, the run continues.
	ErrKindPermanent ErrorKind = "permanent"
	// ErrKindFatal: persistence backend unreachable or similar. Aborts the
	// run with the cursor untouched.
	ErrKindFatal ErrorKind = "fatal"
)

// SyncError tags an underlying error with its kind and the operation that
// produced it.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewSyncError(kind ErrorKind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind; unknown errors default to transient so
// they get the bounded-retry treatment rather than failing a whole run.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransient
}

// IsAuthExpired reports whether err is an expired-credentials failure.
func IsAuthExpired(err error) bool {
	return KindOf(err) == ErrKindAuthExpired
}

// IsRunFatal reports whether err must abort the run with the cursor
// untouched.
func IsRunFatal(err error) bool {
	k := KindOf(err)
	return k == ErrKindAuthExpired || k == ErrKindFatal
}

// ErrSyncInProgress is returned when a sync run for a user is requested
// while another run for the same user is still active.
var ErrSyncInProgress = errors.New("sync already in progress for this user")
