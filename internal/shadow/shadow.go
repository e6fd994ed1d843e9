// Package shadow implements the shadow runner (spec.md §4.F): a second
// emulator instance, driven with the opposite local_player_index, that
// answers "given the inputs the opponent says they sent, what bytes
// does their game's packet buffer contain?" without trusting the peer
// to report its own packet bytes.
package shadow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/joyflags"
)

// MaxShadowTicks bounds how many emulator frames ApplyInput will run
// before giving up (spec.md §4.F).
const MaxShadowTicks = 300

var (
	// ErrShadow wraps an emulator fault encountered while advancing the
	// shadow instance.
	ErrShadow = errors.New("shadow: emulator fault")
	// ErrPacketLength is returned when the shadow's tx buffer read back
	// a length other than the game's configured packet size.
	ErrPacketLength = errors.New("shadow: unexpected packet length")
	// ErrShadowTimeout is returned when handle_input never fires within
	// MaxShadowTicks frames.
	ErrShadowTimeout = errors.New("shadow: exceeded MaxShadowTicks without reaching handle_input")
)

// Shadow wraps a single emu.Instance and serializes every ApplyInput
// call behind a mutex: spec.md §4.F calls it "strictly single-threaded
// cooperative ... no concurrent access".
type Shadow struct {
	mu         sync.Mutex
	inst       emu.Instance
	packetSize int
	logger     *slog.Logger

	pendingRemote joyflags.Flags
	pendingLocal  joyflags.Flags
	delivered     bool
	deliveredPkt  []byte
}

// New disables AV on inst and installs the common and shadow trap
// tables, wiring the Shadow itself in as hooks.ShadowCallbacks.
func New(inst emu.Instance, addrs hooks.TrapAddrs, bufs hooks.RegisterBuffers, logger *slog.Logger) *Shadow {
	inst.DisableAV()
	s := &Shadow{
		inst:       inst,
		packetSize: bufs.PacketSize,
		logger:     logger.With("subsystem", "shadow"),
	}
	hooks.InstallCommonTraps(inst, addrs)
	hooks.InstallShadowTraps(inst, addrs, bufs, s)
	return s
}

// PendingInput implements hooks.ShadowCallbacks. It is only ever read
// from within the RunFrame call ApplyInput makes while already holding
// s.mu, so no separate lock is needed here.
func (s *Shadow) PendingInput() (remoteJoyflags, localJoyflags joyflags.Flags) {
	return s.pendingRemote, s.pendingLocal
}

// DeliverPacket implements hooks.ShadowCallbacks.
func (s *Shadow) DeliverPacket(pkt []byte) {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	s.deliveredPkt = cp
	s.delivered = true
}

// ApplyInput advances the shadow emulator until its handle_input trap
// fires with (remoteJoyflags, localJoyflags) deposited swapped relative
// to the primary, then returns the packet bytes the game produced.
func (s *Shadow) ApplyInput(localTick uint32, remoteJoyflags, localJoyflags joyflags.Flags) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingRemote = remoteJoyflags
	s.pendingLocal = localJoyflags
	s.delivered = false
	s.deliveredPkt = nil

	for ticks := 0; ticks < MaxShadowTicks; ticks++ {
		if err := s.inst.RunFrame(); err != nil {
			s.logger.Error("shadow emulator fault", "local_tick", localTick, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrShadow, err)
		}
		if s.delivered {
			if len(s.deliveredPkt) != s.packetSize {
				return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketLength, len(s.deliveredPkt), s.packetSize)
			}
			return s.deliveredPkt, nil
		}
	}
	s.logger.Warn("shadow timed out waiting for handle_input", "local_tick", localTick, "max_ticks", MaxShadowTicks)
	return nil, ErrShadowTimeout
}
