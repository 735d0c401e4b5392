package mfsr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure per spec.md §7.
type ErrorKind int

const (
	// InvalidInput covers empty frames, size mismatch, unsupported scale.
	InvalidInput ErrorKind = iota
	// AlignmentFailed covers insufficient inliers or low flow coverage.
	AlignmentFailed
	// Cancelled indicates the caller's cancellation flag was observed.
	Cancelled
	// ResourceExhausted indicates a tile memory budget was exceeded.
	ResourceExhausted
	// NumericDegenerate covers a singular homography system or a
	// non-finite pixel fraction above 0.1%.
	NumericDegenerate
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case AlignmentFailed:
		return "AlignmentFailed"
	case Cancelled:
		return "Cancelled"
	case ResourceExhausted:
		return "ResourceExhausted"
	case NumericDegenerate:
		return "NumericDegenerate"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned by the burst orchestrator. Op names the
// failing operation (e.g. "burst.Run", "pipeline.Tile"); Err, if non-nil,
// wraps the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mfsr: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("mfsr: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against another *Error with the same Kind, so that
// errors.Is(err, ErrInvalidInput) succeeds regardless of Op or the wrapped
// cause. Sentinel values below exist to give errors.Is a target per Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an *Error, wrapping a lower-level cause if any.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// ErrCancelled is the errors.Is target for any *Error of Kind Cancelled,
// such as the error burst.Run and pipeline.Run return when cancellation is
// observed. Those errors wrap the context's own error, so errors.Is also
// matches context.Canceled on them; ErrCancelled itself does not.
var ErrCancelled = &Error{Kind: Cancelled, Op: "burst", Err: errors.New("cancelled")}

// ErrInvalidInput is the errors.Is target for any *Error of Kind
// InvalidInput (empty bursts, size mismatches, out-of-range reference
// indices), per spec.md §7.
var ErrInvalidInput = &Error{Kind: InvalidInput, Op: "mfsr", Err: errors.New("invalid input")}

// FallbackReason names why the tile pipeline fell back to a single-frame
// upscale instead of running full MFSR, per spec.md §4.11.
type FallbackReason int

const (
	// FallbackNone indicates no fallback was taken.
	FallbackNone FallbackReason = iota
	// FallbackExcessiveMotion indicates estimated global motion exceeded
	// the 32px precondition.
	FallbackExcessiveMotion
	// FallbackInsufficientFrames indicates the burst held fewer than 2
	// frames. Frames are not dropped for low alignment confidence, so only
	// the supplied frame count is checked.
	FallbackInsufficientFrames
	// FallbackDimensionMismatch indicates reference frame dimensions did
	// not match across the burst.
	FallbackDimensionMismatch
	// FallbackMemoryBudget indicates the configured max_memory_mb would
	// have been exceeded.
	FallbackMemoryBudget
)

func (r FallbackReason) String() string {
	switch r {
	case FallbackNone:
		return "NONE"
	case FallbackExcessiveMotion:
		return "EXCESSIVE_MOTION"
	case FallbackInsufficientFrames:
		return "INSUFFICIENT_FRAMES"
	case FallbackDimensionMismatch:
		return "DIMENSION_MISMATCH"
	case FallbackMemoryBudget:
		return "MEMORY_BUDGET"
	default:
		return "UNKNOWN"
	}
}
