// Package emu defines the boundary between the match engine and the GBA
// emulator binding. spec.md §1 treats the emulator as an opaque,
// external black box exposing only memory-poke, savestate, trap-install
// and audio-pull primitives; this package is that boundary, expressed as
// small interfaces rather than a concrete emulator.
package emu

import "fmt"

// Savestate is an opaque emulator snapshot, tagged with enough metadata
// for compatibility checking (spec.md §3). The byte slice itself is
// never interpreted by the match engine.
type Savestate struct {
	Bytes    []byte
	ROMTitle string
	ROMCRC32 uint32
}

// Clone returns a deep copy, since savestates are handed to independent
// owners (replay writer, shadow stepper) that must not alias bytes.
func (s Savestate) Clone() Savestate {
	b := make([]byte, len(s.Bytes))
	copy(b, s.Bytes)
	return Savestate{Bytes: b, ROMTitle: s.ROMTitle, ROMCRC32: s.ROMCRC32}
}

// Addr is a CPU instruction address used to install a trap (software
// breakpoint).
type Addr uint32

// TrapFunc is a handler invoked synchronously on the emulator's thread
// when execution reaches the address it was installed at. It receives a
// mutable CPU handle and must be idempotent with respect to re-entry at
// the same PC (spec.md §4.D).
type TrapFunc func(cpu CPU)

// CPU is the mutable handle a trap handler is given: general-purpose
// registers and EWRAM/IWRAM memory access.
type CPU interface {
	// Reg returns the value of general-purpose register r (0-15 on ARM7TDMI).
	Reg(r int) uint32
	// SetReg writes register r.
	SetReg(r int, v uint32)
	// ReadMem reads n bytes from an absolute EWRAM/IWRAM address.
	ReadMem(addr uint32, n int) []byte
	// WriteMem writes b to an absolute EWRAM/IWRAM address.
	WriteMem(addr uint32, b []byte)
	// StepOver re-enters the emulator's single-step to consume the
	// patched instruction at the trap address.
	StepOver()
}

// Instance is one emulator: a single OS-thread-pinned, synchronously
// stepped CPU core. Both the primary and shadow emulators implement it.
type Instance interface {
	// InstallTrap registers fn to fire whenever execution reaches addr.
	// Installing at an address that already has a trap replaces it.
	InstallTrap(addr Addr, fn TrapFunc)
	// RemoveTrap uninstalls any trap at addr.
	RemoveTrap(addr Addr)
	// RunFrame steps the CPU for exactly one video frame (~16.777ms of
	// emulated time), firing any traps reached along the way.
	RunFrame() error
	// Savestate snapshots the current machine state.
	Savestate() (Savestate, error)
	// LoadSavestate restores the machine to a previously captured state.
	LoadSavestate(Savestate) error
	// DisableAV turns off audio mixing and frame-callback side effects;
	// required for the stepper (spec.md §4.G) and for shadow execution.
	DisableAV()
}

// ErrFault is returned by Instance methods when the underlying emulator
// reports an unrecoverable fault (equivalent to mgba's crash callback).
type ErrFault struct {
	Reason string
}

func (e *ErrFault) Error() string {
	return fmt.Sprintf("emu: fault: %s", e.Reason)
}
