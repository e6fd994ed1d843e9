// Package hooks installs the software breakpoints the match engine drives
// a cartridge through (spec.md §4.D). A trap fires synchronously on the
// emulator thread when the CPU reaches its address; the handler mutates
// registers/memory and steps over the patched instruction.
//
// Handlers never decide protocol logic themselves — that lives in
// internal/round, internal/shadow and internal/stepper, each of which
// implements one of the callback interfaces below and hands it to the
// matching Install* function.
package hooks

import (
	"encoding/binary"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/joyflags"
)

// RegisterBuffers locates the EWRAM addresses a game's link-cable
// emulation layer polls/fills every frame.
type RegisterBuffers struct {
	JoyflagsAddr uint32
	TxPacketAddr uint32
	RxPacketAddr uint32
	PacketSize   int
}

// TrapAddrs is one game's set of hook points (spec.md §4.D: "10-20
// entries" per game; Common covers logo skip and menu autopilot, the
// other three are the single read_joyflags/handle_input/round_result
// traps the remaining three trap-table flavors attach to).
type TrapAddrs struct {
	Common       []emu.Addr
	ReadJoyflags emu.Addr
	HandleInput  emu.Addr
	RoundResult  emu.Addr
}

func encodeJoyflags(jf joyflags.Flags) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(jf))
	return b[:]
}

func decodeJoyflags(b []byte) joyflags.Flags {
	if len(b) < 2 {
		return 0
	}
	return joyflags.Flags(binary.LittleEndian.Uint16(b))
}

// InstallCommonTraps applies the flavor-1 trap table (spec.md §4.D.1):
// the same handful of addresses on every emulator instance, regardless
// of whether it is primary, shadow or stepper. Skipping the intro logo
// and menu autopilot are game-specific pokes outside the match engine's
// scope (spec.md §1), so the handler here only steps over the patched
// instruction — the actual memory writes are supplied by the per-game
// plug-in data, not by this package.
func InstallCommonTraps(inst emu.Instance, addrs TrapAddrs) {
	for _, a := range addrs.Common {
		inst.InstallTrap(a, func(cpu emu.CPU) {
			cpu.StepOver()
		})
	}
}

// PrimaryCallbacks is implemented by the round state machine and driven
// by traps on the local ("primary") emulator (spec.md §4.D.2, §4.H).
type PrimaryCallbacks interface {
	// LocalJoyflags returns the current local button state (the
	// AtomicU32 of spec.md §5, single writer/many readers).
	LocalJoyflags() joyflags.Flags
	// OnReadJoyflags is called after the joyflags register has been
	// written, with the PartialInput the round should stash.
	OnReadJoyflags(partial input.PartialInput)
	// OnHandleInput is called once the game has filled its tx-packet
	// buffer. It blocks (bounded, per spec.md §4.H's STALL_TIMEOUT)
	// until a committed pair is available, then returns the remote
	// side to poke into the rx buffer. ok is false on an aborted round
	// (timeout/desync) — the trap then steps over without writing rx.
	OnHandleInput(localTxPacket []byte) (remoteJoyflags joyflags.Flags, remotePacket []byte, ok bool)
	// OnRoundResult is called when the game's round-result trap fires.
	OnRoundResult(code uint32)
}

// InstallPrimaryTraps applies the flavor-2 trap table.
func InstallPrimaryTraps(inst emu.Instance, addrs TrapAddrs, bufs RegisterBuffers, cb PrimaryCallbacks) {
	inst.InstallTrap(addrs.ReadJoyflags, func(cpu emu.CPU) {
		jf := cb.LocalJoyflags()
		cpu.WriteMem(bufs.JoyflagsAddr, encodeJoyflags(jf))
		cb.OnReadJoyflags(input.PartialInput{Joyflags: jf})
		cpu.StepOver()
	})
	inst.InstallTrap(addrs.HandleInput, func(cpu emu.CPU) {
		tx := cpu.ReadMem(bufs.TxPacketAddr, bufs.PacketSize)
		remoteJoy, remotePkt, ok := cb.OnHandleInput(tx)
		if !ok {
			cpu.StepOver()
			return
		}
		cpu.WriteMem(bufs.JoyflagsAddr, encodeJoyflags(remoteJoy))
		if len(remotePkt) > 0 {
			cpu.WriteMem(bufs.RxPacketAddr, remotePkt)
		}
		cpu.StepOver()
	})
	inst.InstallTrap(addrs.RoundResult, func(cpu emu.CPU) {
		cb.OnRoundResult(cpu.Reg(0))
		cpu.StepOver()
	})
}

// ShadowCallbacks is implemented by the shadow runner and driven by
// traps on the shadow emulator (spec.md §4.D.3, §4.F): it mirrors the
// primary traps but feeds the *opponent's* joyflags in and harvests the
// opponent's packet bytes out.
type ShadowCallbacks interface {
	// PendingInput returns the remote joyflags to inject and the local
	// joyflags the shadow should present as its "opponent" input —
	// swapped relative to the primary, since the shadow runs with the
	// opposite local_player_index.
	PendingInput() (remoteJoyflags, localJoyflags joyflags.Flags)
	// DeliverPacket is called once the shadow's tx buffer has been
	// filled for the current tick; pkt is the packet apply_input
	// returns to its caller (spec.md §4.F).
	DeliverPacket(pkt []byte)
}

// InstallShadowTraps applies the flavor-3 trap table.
func InstallShadowTraps(inst emu.Instance, addrs TrapAddrs, bufs RegisterBuffers, cb ShadowCallbacks) {
	inst.InstallTrap(addrs.ReadJoyflags, func(cpu emu.CPU) {
		remoteJoy, _ := cb.PendingInput()
		cpu.WriteMem(bufs.JoyflagsAddr, encodeJoyflags(remoteJoy))
		cpu.StepOver()
	})
	inst.InstallTrap(addrs.HandleInput, func(cpu emu.CPU) {
		_, localJoy := cb.PendingInput()
		cpu.WriteMem(bufs.RxPacketAddr, encodeJoyflags(localJoy))
		tx := cpu.ReadMem(bufs.TxPacketAddr, bufs.PacketSize)
		cb.DeliverPacket(tx)
		cpu.StepOver()
	})
}

// StepperCallbacks is implemented by the stepper and driven by traps
// installed for rollback/replay playback (spec.md §4.D.4, §4.G): rather
// than sourcing input live, each trap pulls the next recorded pair from
// a shared cursor.
type StepperCallbacks interface {
	// NextPair returns the next recorded pair and advances the cursor.
	// ok is false once the pair sequence is exhausted.
	NextPair() (pair inputqueue.Pair[input.Input, input.Input], ok bool)
	// ReportFault records a fault for TakeError to surface later
	// (spec.md §4.G: "Exposes ... take_error() for ... fault reporting").
	ReportFault(err error)
}

// InstallStepperTraps applies the flavor-4 trap table. read_joyflags is
// a no-op (the stepper has no separate per-frame local-input source to
// poke there); handle_input pulls the next recorded pair and writes
// its Remote side last, mirroring which write InstallPrimaryTraps
// leaves standing at the end of a frame — that's what lets a stepper
// replay of a primary's own recorded tape reach a byte-identical
// savestate (spec.md §4.G) instead of diverging whenever local and
// remote joyflags differ.
func InstallStepperTraps(inst emu.Instance, addrs TrapAddrs, bufs RegisterBuffers, cb StepperCallbacks) {
	inst.InstallTrap(addrs.ReadJoyflags, func(cpu emu.CPU) {
		cpu.StepOver()
	})
	inst.InstallTrap(addrs.HandleInput, func(cpu emu.CPU) {
		pair, ok := cb.NextPair()
		if !ok {
			cb.ReportFault(ErrPairsExhausted)
			cpu.StepOver()
			return
		}
		cpu.WriteMem(bufs.JoyflagsAddr, encodeJoyflags(pair.Remote.Joyflags))
		cpu.WriteMem(bufs.RxPacketAddr, pair.Remote.Packet)
		cpu.StepOver()
	})
}

// DecodeJoyflags exposes the trap-local decode helper for callers (e.g.
// stepper verification) that need to read back what a trap wrote.
func DecodeJoyflags(b []byte) joyflags.Flags { return decodeJoyflags(b) }
