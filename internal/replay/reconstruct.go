package replay

import (
	"fmt"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/stepper"
)

// Reconstruct re-derives the remote side's final savestate from this
// file's recorded tape: it loads r.InitialState into inst and steps it
// through every pair with Local/Remote swapped, since the file records
// the local side's own committed view and the remote's perspective is
// the mirror of that. inst should be a freshly constructed, otherwise
// idle instance — Reconstruct installs its own trap tables on it.
//
// The result is also stashed in r.RemoteState so later calls (e.g. a
// second format that wants both Read and the reconstruction together)
// don't need to re-run the stepper.
func (r *ReadResult) Reconstruct(inst emu.Instance, addrs hooks.TrapAddrs, bufs hooks.RegisterBuffers) (emu.Savestate, error) {
	initial := emu.Savestate{Bytes: r.InitialState}

	swapped := make([]InputPair, len(r.Pairs))
	for i, p := range r.Pairs {
		swapped[i] = inputqueue.Pair[input.Input, input.Input]{Local: p.Remote, Remote: p.Local}
	}

	s, err := stepper.New(inst, initial, addrs, bufs, swapped)
	if err != nil {
		return emu.Savestate{}, fmt.Errorf("replay: reconstructing remote state: %w", err)
	}
	if err := s.Run(); err != nil {
		return emu.Savestate{}, fmt.Errorf("replay: reconstructing remote state: %w", err)
	}
	end, err := s.Savestate()
	if err != nil {
		return emu.Savestate{}, fmt.Errorf("replay: reconstructing remote state: %w", err)
	}
	r.RemoteState = end
	return end, nil
}
