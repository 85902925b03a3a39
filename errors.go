package rqmon

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is the parent of every "entity is absent" error. Use errors.Is against it
// when the kind of entity does not matter.
var ErrNotFound = errors.New("rqmon: not found")

// ErrJobNotFound is returned when no job record exists for an id.
var ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)

// ErrWorkerNotFound is returned when no worker is registered under a key.
var ErrWorkerNotFound = fmt.Errorf("%w: worker", ErrNotFound)

// ErrQueueNotFound is returned when a queue is neither registered nor holds jobs.
var ErrQueueNotFound = fmt.Errorf("%w: queue", ErrNotFound)

// ErrRegistryNotFound is returned for a status that has no registry.
var ErrRegistryNotFound = fmt.Errorf("%w: registry", ErrNotFound)

// ErrInvalidRequest is returned when a required identifier or filter is missing or malformed.
var ErrInvalidRequest = errors.New("rqmon: invalid request")

// ErrActionFailed is returned when a store-side delete/empty fails.
var ErrActionFailed = errors.New("rqmon: action failed")

// ErrInvalidJobOperation is returned when a job is not in a state that allows the operation.
var ErrInvalidJobOperation = errors.New("rqmon: invalid job operation")

// ErrProcessGone is returned when a stop signal targets a pid that no longer exists.
var ErrProcessGone = errors.New("rqmon: worker process already gone")

// ErrUnknownInstance is returned when a store instance index is out of range.
var ErrUnknownInstance = errors.New("rqmon: unknown store instance")

// PermissionDeniedError reports a signal the operating system refused because the
// target process belongs to another user.
type PermissionDeniedError struct {
	Host  string
	PID   int
	Owner string
}

func (e *PermissionDeniedError) Error() string {
	owner := e.Owner
	if owner == "" {
		owner = "unknown"
	}
	return fmt.Sprintf("rqmon: permission denied signalling pid %d on %s (owned by %s)", e.PID, e.Host, owner)
}

// RemoteControlFailedError reports a transport or command failure while reaching a remote worker.
type RemoteControlFailedError struct {
	Host       string
	PID        int
	ExitStatus int
	Stdout     string
	Stderr     string
	Err        error
}

func (e *RemoteControlFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rqmon: remote control failed host=%s pid=%d", e.Host, e.PID)
	if e.Err != nil {
		fmt.Fprintf(&b, " err=%v", e.Err)
	} else {
		fmt.Fprintf(&b, " exit=%d", e.ExitStatus)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " stderr=%q", s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, " stdout=%q", s)
	}
	return b.String()
}

func (e *RemoteControlFailedError) Unwrap() error { return e.Err }

// ItemError ties a failure to the item (job, worker, queue/status pair) it happened on.
type ItemError struct {
	Item string
	Err  error
}

func (e ItemError) Error() string { return e.Item + ": " + e.Err.Error() }

func (e ItemError) Unwrap() error { return e.Err }

// BulkError aggregates the per-item failures of a bulk operation. The items not
// listed were applied.
type BulkError struct {
	Op       string
	Failures []ItemError
}

func (e *BulkError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("rqmon: %s: %d item(s) failed: %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every item error to errors.Is/As.
func (e *BulkError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

func bulkErr(op string, failures []ItemError) error {
	if len(failures) == 0 {
		return nil
	}
	return &BulkError{Op: op, Failures: failures}
}
