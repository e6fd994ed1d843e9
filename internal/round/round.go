// Package round implements the round state machine (spec.md §4.H):
// Init allocates a fresh queue/RNG/replay writer and installs the
// primary trap table; Running commits paired input each frame; Ending
// drains the tail and finalizes the replay; Aborted still finalizes a
// truncated replay for forensic review.
package round

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/joyflags"
	"github.com/tango-netplay/tango/internal/replay"
	"github.com/tango-netplay/tango/internal/rng"
	"github.com/tango-netplay/tango/internal/shadow"
	"github.com/tango-netplay/tango/internal/stepper"
	"github.com/tango-netplay/tango/internal/wire"
)

// StallTimeout bounds how long the primary's handle_input trap will
// busy-wait for a committed pair before the round aborts (spec.md §4.H,
// §5's STALL_TIMEOUT = 5s). A var, not a const, so tests can shrink it.
var StallTimeout = 5 * time.Second

const stallPollInterval = 10 * time.Millisecond

// State is one of the round lifecycle states of spec.md §4.H.
type State string

const (
	StateInit     State = "init"
	StateRunning  State = "running"
	StateEnding   State = "ending"
	StateEnded    State = "ended"
	StateAborted  State = "aborted"
)

// ShadowApplier is the subset of *shadow.Shadow the round depends on,
// so tests can substitute a fake without spinning up a second
// emu.Instance.
type ShadowApplier interface {
	ApplyInput(localTick uint32, remoteJoyflags, localJoyflags joyflags.Flags) ([]byte, error)
}

// PacketSender is the subset of *transport.Channel the round uses to
// transmit committed local input (spec.md §4.C/§4.H step 2).
type PacketSender interface {
	Send(wire.Packet) error
}

// Config wires one Round's dependencies. The match coordinator builds
// a fresh Config for every round (spec.md §4.H: "the next round
// increments round_number and re-runs Init").
type Config struct {
	Ctx context.Context

	RoundNumber      uint8
	LocalPlayerIndex uint8
	Seed             [16]byte

	QueueCapacity int
	LocalDelay    uint32

	Inst  emu.Instance
	Addrs hooks.TrapAddrs
	Bufs  hooks.RegisterBuffers

	Shadow ShadowApplier
	Out    PacketSender

	ReplayPath string
	Meta       replay.Metadata
	PacketSize uint8

	// ParityInst is an idle emulator instance used only at round end to
	// independently re-derive this round's final state via the stepper,
	// replaying this round's own committed pairs, and check it against
	// the primary instance's live final state ("did both derivations of
	// this round agree"). Nil skips the check.
	ParityInst emu.Instance

	Logger *slog.Logger
}

// Round is one round's state machine and owns its PairQueue, per-round
// RNG, and replay writer (spec.md §4.H, §5: "Replay writer — owned by
// the Round; not shared").
type Round struct {
	ctx context.Context

	roundNumber      uint8
	localPlayerIndex uint8

	queue      *inputqueue.Queue[input.Input, input.Input]
	writer     *replay.Writer
	rng        *rng.Mcg128Xsl64
	shadow     ShadowApplier
	out        PacketSender
	logger     *slog.Logger
	inst       emu.Instance
	initial    emu.Savestate
	parityInst emu.Instance
	addrs      hooks.TrapAddrs
	bufs       hooks.RegisterBuffers

	localJoyflags atomic.Uint32

	mu                 sync.Mutex
	state              State
	localTick          uint32
	pendingPartial     *input.PartialInput
	pendingShadowLocal []joyflags.Flags
	committed          []inputqueue.Pair[input.Input, input.Input]
	result             Result
	abortErr           error

	aborted   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New runs Init (spec.md §4.H): snapshots the emulator into the replay
// header, opens the replay writer, derives the per-round RNG from seed,
// and installs the common+primary trap tables.
func New(cfg Config) (*Round, error) {
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	logger := cfg.Logger.With("subsystem", "round", "round", cfg.RoundNumber)

	initial, err := cfg.Inst.Savestate()
	if err != nil {
		return nil, fmt.Errorf("round: snapshotting initial state: %w", err)
	}
	writer, err := replay.Open(cfg.ReplayPath, cfg.Meta, cfg.LocalPlayerIndex, cfg.PacketSize, initial.Bytes, logger)
	if err != nil {
		return nil, fmt.Errorf("round: opening replay: %w", err)
	}

	r := &Round{
		ctx:              cfg.Ctx,
		roundNumber:      cfg.RoundNumber,
		localPlayerIndex: cfg.LocalPlayerIndex,
		queue:            inputqueue.New[input.Input, input.Input](cfg.QueueCapacity, cfg.LocalDelay),
		writer:           writer,
		rng:              rng.New(cfg.Seed),
		shadow:           cfg.Shadow,
		out:              cfg.Out,
		logger:           logger,
		inst:             cfg.Inst,
		initial:          initial,
		parityInst:       cfg.ParityInst,
		addrs:            cfg.Addrs,
		bufs:             cfg.Bufs,
		state:            StateInit,
		done:             make(chan struct{}),
	}

	hooks.InstallCommonTraps(cfg.Inst, cfg.Addrs)
	hooks.InstallPrimaryTraps(cfg.Inst, cfg.Addrs, cfg.Bufs, r)

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	return r, nil
}

// SetLocalJoyflags is the single writer of the AtomicU32 joyflags
// register spec.md §5 describes; the host input frontend calls this
// every frame before the emulator steps.
func (r *Round) SetLocalJoyflags(jf joyflags.Flags) {
	r.localJoyflags.Store(uint32(jf))
}

// LocalJoyflags implements hooks.PrimaryCallbacks.
func (r *Round) LocalJoyflags() joyflags.Flags {
	return joyflags.Flags(r.localJoyflags.Load())
}

// OnReadJoyflags implements hooks.PrimaryCallbacks (spec.md §4.H
// Running, step 1). It owns the local tick counter: the hooks package
// has no notion of frame count, so one call here is one tick.
func (r *Round) OnReadJoyflags(partial input.PartialInput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tick := r.localTick
	r.localTick++
	full := input.PartialInput{
		RoundNumber: r.roundNumber,
		LocalTick:   tick,
		RemoteTick:  tick + r.queue.LocalDelay(),
		Joyflags:    partial.Joyflags,
	}
	r.pendingPartial = &full
	r.pendingShadowLocal = append(r.pendingShadowLocal, partial.Joyflags)
}

// OnHandleInput implements hooks.PrimaryCallbacks (spec.md §4.H
// Running, steps 2 and 4): pushes the completed local Input, transmits
// it, then busy-waits (bounded by StallTimeout) for a committed pair to
// poke back into the emulator's rx buffer.
func (r *Round) OnHandleInput(tx []byte) (joyflags.Flags, []byte, bool) {
	r.mu.Lock()
	partial := r.pendingPartial
	r.pendingPartial = nil
	r.mu.Unlock()

	if partial == nil {
		r.abort(fmt.Errorf("round: handle_input fired before read_joyflags"))
		return 0, nil, false
	}

	full := partial.WithPacket(tx)
	if err := r.queue.AddLocal(full); err != nil {
		r.abort(fmt.Errorf("%w: %w", ErrDesync, err))
		return 0, nil, false
	}

	wireInput := wire.Input{
		RoundNumber: full.RoundNumber,
		LocalTick:   full.LocalTick,
		TickDiff:    int8(partial.TickDiff()),
		Joyflags:    uint16(full.Joyflags),
	}
	if err := r.out.Send(wire.Packet{Tag: wire.TagInput, Input: wireInput}); err != nil {
		r.abort(fmt.Errorf("round: sending input: %w", err))
		return 0, nil, false
	}

	deadline := time.Now().Add(StallTimeout)
	for {
		if r.aborted.Load() {
			return 0, nil, false
		}
		select {
		case <-r.ctx.Done():
			r.abort(fmt.Errorf("%w: %v", ErrCancelled, r.ctx.Err()))
			return 0, nil, false
		default:
		}

		committed, _ := r.queue.ConsumeAndPeekLocal()
		if len(committed) > 0 {
			for _, pair := range committed {
				if err := r.writer.WriteInput(pair); err != nil {
					r.abort(fmt.Errorf("round: writing replay: %w", err))
					return 0, nil, false
				}
				r.mu.Lock()
				r.committed = append(r.committed, pair)
				r.mu.Unlock()
			}
			last := committed[len(committed)-1]
			return last.Remote.Joyflags, last.Remote.Packet, true
		}

		if time.Now().After(deadline) {
			r.abort(ErrTimeout)
			return 0, nil, false
		}
		time.Sleep(stallPollInterval)
	}
}

// OnRoundResult implements hooks.PrimaryCallbacks (spec.md §4.H
// Ending): drains any pairs still sitting in the queue, finalizes the
// replay, and transitions to Ended.
func (r *Round) OnRoundResult(code uint32) {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.state = StateEnding
	r.mu.Unlock()

	committed, _ := r.queue.ConsumeAndPeekLocal()
	for _, pair := range committed {
		if err := r.writer.WriteInput(pair); err != nil {
			r.abort(fmt.Errorf("round: writing replay during ending: %w", err))
			return
		}
		r.mu.Lock()
		r.committed = append(r.committed, pair)
		r.mu.Unlock()
	}

	if err := r.verifyParity(); err != nil {
		r.abort(err)
		return
	}

	if err := r.writer.Finish(); err != nil {
		r.logger.Error("finalizing replay", "error", err)
	}

	r.mu.Lock()
	r.state = StateEnded
	r.result = Result{Code: code, Outcome: DecodeOutcome(code)}
	r.mu.Unlock()

	r.closeOnce.Do(func() { close(r.done) })
}

// verifyParity independently re-derives this round's final state by
// stepping a dedicated idle instance through the exact committed pair
// tape, from the same initial savestate and the same hook tables, and
// compares the result against the state the primary instance actually
// reached through real-time play (spec.md §4.G's Determinism property:
// "given the same initial savestate, same inputs ... and same hook
// tables, the stepper produces byte-identical final savestates across
// runs"). A nil ParityInst or an empty round skips the check rather
// than failing it.
func (r *Round) verifyParity() error {
	if r.parityInst == nil {
		return nil
	}
	r.mu.Lock()
	pairs := make([]inputqueue.Pair[input.Input, input.Input], len(r.committed))
	copy(pairs, r.committed)
	r.mu.Unlock()
	if len(pairs) == 0 {
		return nil
	}

	live, err := r.inst.Savestate()
	if err != nil {
		return fmt.Errorf("round: snapshotting primary state for parity check: %w", err)
	}

	st, err := stepper.New(r.parityInst, r.initial, r.addrs, r.bufs, pairs)
	if err != nil {
		return fmt.Errorf("round: building parity stepper: %w", err)
	}
	if err := st.Run(); err != nil {
		return fmt.Errorf("%w: parity stepper: %v", ErrDesync, err)
	}
	derived, err := st.Savestate()
	if err != nil {
		return fmt.Errorf("round: snapshotting parity state: %w", err)
	}
	if !bytes.Equal(live.Bytes, derived.Bytes) {
		return fmt.Errorf("%w: round-end parity check: primary and stepper reached different states", ErrDesync)
	}
	return nil
}

// PushRemoteInput is the match coordinator's remote-input task entry
// point (spec.md §4.H Running, step 3): it reconstructs the packet via
// the shadow, then pushes the completed remote Input to the queue.
func (r *Round) PushRemoteInput(peer wire.Input) error {
	if err := input.CheckTickDiff(peer.TickDiff); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrDesync, err)
		r.abort(wrapped)
		return wrapped
	}

	r.mu.Lock()
	if len(r.pendingShadowLocal) == 0 {
		r.mu.Unlock()
		wrapped := fmt.Errorf("%w: remote input arrived before a matching local tick", ErrDesync)
		r.abort(wrapped)
		return wrapped
	}
	localJoy := r.pendingShadowLocal[0]
	r.pendingShadowLocal = r.pendingShadowLocal[1:]
	r.mu.Unlock()

	pkt, err := r.shadow.ApplyInput(peer.LocalTick, joyflags.Flags(peer.Joyflags), localJoy)
	if err != nil {
		wrapped := wrapShadowErr(err)
		r.abort(wrapped)
		return wrapped
	}

	full := input.Input{
		RoundNumber: peer.RoundNumber,
		LocalTick:   peer.LocalTick,
		TickDiff:    peer.TickDiff,
		Joyflags:    joyflags.Flags(peer.Joyflags),
		Packet:      pkt,
	}
	if err := r.queue.AddRemote(full); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrDesync, err)
		r.abort(wrapped)
		return wrapped
	}
	return nil
}

func wrapShadowErr(err error) error {
	switch {
	case errors.Is(err, shadow.ErrPacketLength):
		return fmt.Errorf("%w: %w", ErrDesync, err)
	default:
		return fmt.Errorf("%w: %w", ErrShadowCrash, err)
	}
}

func (r *Round) abort(err error) {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	r.state = StateAborted
	r.abortErr = err
	r.mu.Unlock()

	// Aborted rounds are still finalized, truncated, for forensic
	// review (spec.md §4.H Aborted).
	if ferr := r.writer.Finish(); ferr != nil {
		r.logger.Error("finalizing aborted replay", "error", ferr)
	}
	r.logger.Warn("round aborted", "error", err)
	r.closeOnce.Do(func() { close(r.done) })
}

// State returns the round's current lifecycle state.
func (r *Round) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the round's outcome once it has reached Ended.
func (r *Round) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.state == StateEnded
}

// Err returns the cause of an Aborted round, or nil otherwise.
func (r *Round) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortErr
}

// Done is closed once the round reaches Ended or Aborted.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// RNG exposes the round's per-round generator (spec.md §4.B/§9) to the
// game-specific stage/turn-order logic that consumes it.
func (r *Round) RNG() *rng.Mcg128Xsl64 {
	return r.rng
}

// FilePath returns the path of this round's replay file.
func (r *Round) FilePath() string {
	return r.writer.FilePath()
}
