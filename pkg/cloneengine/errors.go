package cloneengine

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Boundary error codes.
// Each carries a stable, numeric identity via grpc's codes.Code so callers
// across process/language boundaries can switch on it without parsing
// strings. Three of these look alike at a glance (all reject a request
// because of a resource's current state) but are given distinct codes on
// purpose, since a client dispatching on the numeric code needs to tell
// "retry later" apart from "clean up a conflicting task first" apart from
// "this task isn't in Error":
//   - ErrInvalidSnapshot: the source snapshot itself isn't ready yet
//     (Unavailable: transient, expected to clear once the snapshot finishes).
//   - ErrSnapshotCannotCreateWhenError: admission is blocked by a conflicting
//     errored task already occupying the destination (Aborted: the caller
//     must intervene — clean up that task — before retrying).
//   - ErrCannotCleanCloneNotError: a cleanup was requested for a task that
//     isn't in Error (FailedPrecondition: the target resource's state
//     doesn't satisfy the operation's precondition).
var (
	ErrSuccess                       = codes.OK
	ErrFileNotExist                  = codes.NotFound
	ErrInvalidUser                   = codes.PermissionDenied
	ErrInvalidSnapshot               = codes.Unavailable
	ErrInternal                      = codes.Internal
	ErrSnapshotCannotCreateWhenError = codes.Aborted
	ErrChunkSizeNotAligned           = codes.InvalidArgument
	ErrTaskExist                     = codes.AlreadyExists
	ErrCannotCleanCloneNotError      = codes.FailedPrecondition
)

// Sentinel errors for classifying Invariant failures: a step
// reached a branch the transition table says is unreachable. These are
// always fatal asserts, never surfaced to callers as ordinary task errors.
var (
	ErrUnknownStep       = errors.New("clone task loaded with an unrecognized step")
	ErrUnreachableBranch = errors.New("clone task state machine reached an unreachable branch")
)

// taskError wraps a boundary code with a human-readable message, and
// implements error via the standard grpc status package so errors.Is and
// status.FromError both work on it.
func taskError(code codes.Code, format string, args ...interface{}) error {
	return status.Errorf(code, format, args...)
}

// codeOf extracts the boundary code from an error produced by taskError,
// defaulting to Internal for anything else (e.g. a raw store error, which
// must propagate unwrapped).
func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Internal
}

// wrapf attaches context to a lower-level error without discarding it,
// for cases that are not boundary errors (e.g. external store failures
// that must retain their original retryability).
func wrapf(err error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
