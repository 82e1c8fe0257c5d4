// Package errors defines all exported error sentinels for the rankmerge library.
//
// This is the single source of truth for error values. Both the top-level
// rankmerge package and the transport packages import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Configuration errors. Detected best-effort at the boundary, before any
// message is exchanged.
var (
	ErrInvalidGroupSize = errors.New("rankmerge: group size must be positive")
	ErrRankOutOfRange   = errors.New("rankmerge: rank outside [0, size)")
	ErrUnsortedInput    = errors.New("rankmerge: local list is not sorted ascending")
	ErrNilTransport     = errors.New("rankmerge: transport is nil")
	ErrCountMismatch    = errors.New("rankmerge: count vector length does not match group size")
)

// Communication errors. Fatal; there is no retry or partial-result recovery.
var (
	ErrLinkClosed         = errors.New("rankmerge: link closed by peer")
	ErrExchangeIncomplete = errors.New("rankmerge: count exchange did not complete")
)

// Protocol violations. A message arrived but does not match what the merge
// plan predicted; fatal, surfaced immediately rather than silently resized.
var (
	ErrLengthMismatch = errors.New("rankmerge: received length differs from planned length")
	ErrPlanMismatch   = errors.New("rankmerge: peer computed a different merge plan")
	ErrRoundMismatch  = errors.New("rankmerge: message round differs from current round")
	ErrSenderMismatch = errors.New("rankmerge: message sender is not the paired partner")
	ErrChecksumFailed = errors.New("rankmerge: payload checksum verification failed")
	ErrInvalidFrame   = errors.New("rankmerge: malformed wire frame")
)

// Result file errors.
var (
	ErrInvalidMagic   = errors.New("rankmerge: invalid result file magic number")
	ErrInvalidVersion = errors.New("rankmerge: unsupported result file version")
	ErrTruncatedFile  = errors.New("rankmerge: result file is truncated")
)
