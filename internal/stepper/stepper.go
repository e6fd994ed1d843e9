// Package stepper implements the deterministic re-execution engine
// (spec.md §4.G): given an initial savestate and a complete sequence of
// input pairs, it re-runs an emulator instance frame by frame until
// every pair has been applied, producing an end state the caller can
// compare against (round-end parity check) or persist (a replay's
// reconstructed remote savestate).
package stepper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
)

// ErrAlreadyRun guards against reusing a Stepper across rounds; spec.md
// §4.G requires "re-entrant per-round ... but not across rounds", i.e.
// one Stepper serves exactly one rollback batch or replay replay pass.
var ErrAlreadyRun = errors.New("stepper: Run called more than once")

// Stepper drives inst through pairs with audio/frame-callback side
// effects disabled, via the stepper_traps trap table (spec.md §4.D.4).
type Stepper struct {
	inst emu.Instance

	mu    sync.Mutex
	pairs []inputqueue.Pair[input.Input, input.Input]
	idx   int
	err   error
	ran   bool
}

// New loads initial into inst, disables AV, and installs the common and
// stepper trap tables. pairs is consumed in order as the stepper trap
// fires once per frame that reaches handle_input.
func New(inst emu.Instance, initial emu.Savestate, addrs hooks.TrapAddrs, bufs hooks.RegisterBuffers, pairs []inputqueue.Pair[input.Input, input.Input]) (*Stepper, error) {
	inst.DisableAV()
	if err := inst.LoadSavestate(initial); err != nil {
		return nil, fmt.Errorf("stepper: loading initial savestate: %w", err)
	}

	s := &Stepper{inst: inst, pairs: pairs}
	hooks.InstallCommonTraps(inst, addrs)
	hooks.InstallStepperTraps(inst, addrs, bufs, s)
	return s, nil
}

// NextPair implements hooks.StepperCallbacks.
func (s *Stepper) NextPair() (inputqueue.Pair[input.Input, input.Input], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.pairs) {
		return inputqueue.Pair[input.Input, input.Input]{}, false
	}
	p := s.pairs[s.idx]
	s.idx++
	return p, true
}

// ReportFault implements hooks.StepperCallbacks. Only the first fault
// is kept; later ones are assumed to cascade from it.
func (s *Stepper) ReportFault(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Stepper) faulted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run steps inst one frame at a time until every pair has been
// consumed or a fault is reported, then returns that fault (if any).
// It is not itself safe to call concurrently with InputPairsLeft or
// TakeError; the caller owns sequencing across those three.
func (s *Stepper) Run() error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	for s.InputPairsLeft() > 0 && s.faulted() == nil {
		if err := s.inst.RunFrame(); err != nil {
			s.ReportFault(fmt.Errorf("stepper: run frame: %w", err))
			break
		}
	}
	return s.faulted()
}

// InputPairsLeft reports how many pairs remain unconsumed.
func (s *Stepper) InputPairsLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs) - s.idx
}

// TakeError returns the first fault reported during Run, clearing it so
// a subsequent call only sees faults recorded since this one.
func (s *Stepper) TakeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Savestate snapshots the end state reached by Run.
func (s *Stepper) Savestate() (emu.Savestate, error) {
	return s.inst.Savestate()
}
