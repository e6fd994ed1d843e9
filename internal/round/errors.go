package round

import "errors"

// Sentinel errors match the round/match-level error taxonomy of
// spec.md §7; shadow- and queue-level causes are wrapped underneath
// via %w so errors.Is still finds the shadow sentinel too.
var (
	// ErrTimeout is returned/aborts when the primary's handle_input
	// trap never receives a committed pair within StallTimeout.
	ErrTimeout = errors.New("round: remote input not received within STALL_TIMEOUT")
	// ErrDesync covers tick_diff out of bounds and shadow/primary
	// packet disagreement (spec.md §7).
	ErrDesync = errors.New("round: desync detected")
	// ErrShadowCrash covers every shadow-runner failure mode (emulator
	// fault or hung handle_input trap) — spec.md §7 groups these as
	// one match-level cause.
	ErrShadowCrash = errors.New("round: shadow failure")
	// ErrCancelled is returned when the round's context is cancelled;
	// per spec.md §7 this is the one non-fatal-upward cause.
	ErrCancelled = errors.New("round: cancelled")
)
