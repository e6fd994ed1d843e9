package match

import "errors"

// Sentinel errors from spec.md §7's match-level error taxonomy. Causes
// raised by lower layers (round.ErrDesync, round.ErrShadowCrash,
// handshake.ErrCommitMismatch, ...) are wrapped with %w so errors.Is
// still finds them underneath one of these where relevant.
var (
	// ErrExpectedHello is returned when the first packet received on a
	// fresh connection is not Hello.
	ErrExpectedHello = errors.New("match: expected Hello as first packet")
	// ErrProtocolVersionTooOld is returned when the peer's Hello carries
	// a protocol version older than this build supports.
	ErrProtocolVersionTooOld = errors.New("match: peer protocol version too old")
	// ErrProtocolVersionTooNew is returned when the peer's Hello carries
	// a protocol version newer than this build supports.
	ErrProtocolVersionTooNew = errors.New("match: peer protocol version too new")
	// ErrProtocolError is returned when a packet arrives that is not
	// valid in the coordinator's current phase (e.g. lobby Settings
	// while a round is running).
	ErrProtocolError = errors.New("match: unexpected packet for current phase")
	// ErrIO covers transport and disk failures surfaced to the
	// coordinator.
	ErrIO = errors.New("match: io error")
	// ErrCancelled classifies a match torn down by cancellation rather
	// than a protocol fault; it is the one non-fatal cause (spec.md §7).
	// Run reports such a teardown, like a clean finish, with a nil error
	// rather than returning ErrCancelled.
	ErrCancelled = errors.New("match: cancelled")
)
