// Package input defines the Input/PartialInput tuple from spec.md §3,
// shared by the input queue, hooks, replay, stepper, shadow and round
// packages.
package input

import (
	"errors"
	"fmt"

	"github.com/tango-netplay/tango/internal/joyflags"
)

// MaxLag is the bound on |tick_diff| (spec.md §3, §4.H). A received
// Input whose tick_diff implies more lag than this is a protocol fault.
const MaxLag = 32

// DefaultPacketSize is the default width of Input.Packet when a game
// doesn't specify its own (spec.md §3).
const DefaultPacketSize = 16

// ErrTickDiffOutOfBounds is returned when |tick_diff| > MaxLag.
var ErrTickDiffOutOfBounds = errors.New("input: tick_diff exceeds MaxLag")

// PartialInput is an Input before the game has produced the
// corresponding packet bytes (spec.md §3): everything except Packet.
type PartialInput struct {
	RoundNumber uint8
	LocalTick   uint32
	RemoteTick  uint32
	Joyflags    joyflags.Flags
}

// TickDiff returns remote_tick - local_tick, clamped to an int64 so the
// subtraction can't silently overflow before the bounds check.
func (p PartialInput) TickDiff() int64 {
	return int64(p.RemoteTick) - int64(p.LocalTick)
}

// WithPacket completes a PartialInput once the game's tx-packet buffer
// has been read.
func (p PartialInput) WithPacket(packet []byte) Input {
	return Input{
		RoundNumber: p.RoundNumber,
		LocalTick:   p.LocalTick,
		TickDiff:    int8(p.TickDiff()),
		Joyflags:    p.Joyflags,
		Packet:      packet,
	}
}

// Input is the full per-tick tuple exchanged and recorded (spec.md §3).
type Input struct {
	RoundNumber uint8
	LocalTick   uint32
	TickDiff    int8
	Joyflags    joyflags.Flags
	Packet      []byte
}

// RemoteTick derives the tick the remote peer assigned this input.
func (i Input) RemoteTick() uint32 {
	return uint32(int64(i.LocalTick) + int64(i.TickDiff))
}

// CheckTickDiff validates |tick_diff| <= MaxLag (spec.md §7: Desync).
func CheckTickDiff(tickDiff int8) error {
	d := int(tickDiff)
	if d > MaxLag || d < -MaxLag {
		return fmt.Errorf("%w: %d", ErrTickDiffOutOfBounds, d)
	}
	return nil
}
