package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the failure taxonomy of a sync session.
// Adapters wrap remote failures with these so callers can use errors.Is.
var (
	// ErrSourceUnavailable indicates the tracker or the destination store
	// could not be reached, or a paginated scan broke off.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrCreateFailed indicates the destination store rejected a record creation.
	ErrCreateFailed = errors.New("create failed")

	// ErrUpdateFailed indicates the destination store rejected a property or block update.
	ErrUpdateFailed = errors.New("update failed")

	// ErrFetchFailed indicates a record's content blocks could not be listed.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrRemoteTimeout indicates a remote call exceeded its time bound.
	ErrRemoteTimeout = errors.New("remote timeout")

	// ErrInvalidIssue indicates the tracker returned an entry the
	// destination schema cannot hold.
	ErrInvalidIssue = errors.New("invalid issue")
)

// Transient is implemented by adapter errors that may succeed on retry
// (rate limiting, server-side failures).
type Transient interface {
	Transient() bool
}

// Ambiguous is implemented by adapter errors after which the remote side may
// have applied the write anyway (conflicts, gateway timeouts).
type Ambiguous interface {
	Ambiguous() bool
}

// IsTimeout reports whether err was caused by a remote call exceeding its bound.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransient reports whether retrying the call that produced err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// MayHaveApplied reports whether a failed write may still have taken effect
// remotely. Repeating a create after such a failure can produce a second
// record for the same issue.
func MayHaveApplied(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var a Ambiguous
	return errors.As(err, &a) && a.Ambiguous()
}

// WrapRemote classifies a remote failure under kind. Timeouts additionally
// match ErrRemoteTimeout.
func WrapRemote(kind error, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) && !errors.Is(err, ErrRemoteTimeout) {
		return fmt.Errorf("%w: %w: %w", kind, ErrRemoteTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Op names a single remote operation performed for one issue.
type Op string

const (
	OpFetch       Op = "fetch"
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpListBlocks  Op = "list_blocks"
	OpUpdateBlock Op = "update_block"
)

// ItemError is a failure isolated to one issue. It carries enough context
// for manual remediation.
type ItemError struct {
	Op       Op
	IssueURL string
	RecordID string
	Err      error
}

func (e *ItemError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s %s (record %s): %v", e.Op, e.IssueURL, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.IssueURL, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
