// Package match implements the outer match coordinator (spec.md §4.I):
// lobby negotiation, the per-round commit-reveal handshake (spec.md
// §4.B), the round loop, and teardown. It owns the shadow runner, the
// transport, and the currently active round, wiring packets arriving
// from the peer into whichever of those three is listening at the time.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tango-netplay/tango/internal/handshake"
	"github.com/tango-netplay/tango/internal/replay"
	"github.com/tango-netplay/tango/internal/round"
	"github.com/tango-netplay/tango/internal/shadow"
	"github.com/tango-netplay/tango/internal/wire"
)

// frameInterval approximates one GBA video frame (≈16.777 ms at
// 59.73 Hz), used to pace the emulator loop when the host hasn't
// already paced emulation itself (e.g. tests, headless replay
// verification).
const frameInterval = 16777 * time.Microsecond

// remoteInputRateLimit bounds how fast the rx loop will accept Input
// packets before tick-diff policing even runs, protecting the
// coordinator from a flooding peer (spec.md §2.6 domain-stack wiring
// for golang.org/x/time).
const remoteInputRateLimit = 240 // generous headroom over 60Hz play

// Match is the outer lifecycle coordinator (spec.md §3 Match, §4.I).
type Match struct {
	cfg    Config
	logger *slog.Logger

	localPlayerIndex uint8
	sh               *shadow.Shadow
	limiter          *rate.Limiter

	mu          sync.Mutex
	roundNumber uint8
	current     *round.Round
	score       Result

	events    chan Event
	closeOnce sync.Once

	helloSeen atomic.Bool
	helloRecv chan wire.Hello

	lobbyRecv    chan wire.Settings
	commitRecv   chan wire.Commit
	uncommitRecv chan wire.Uncommit
	chunkRecv    chan wire.Chunk
	startRecv    chan wire.StartMatch
}

// New builds a Match ready to Run. It installs the shadow runner's trap
// tables on cfg.ShadowInst but does not touch cfg.PrimaryInst until the
// first round starts.
func New(cfg Config) (*Match, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("match: Logger is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("match: Transport is required")
	}
	if cfg.PrimaryInst == nil || cfg.ShadowInst == nil {
		return nil, fmt.Errorf("match: PrimaryInst and ShadowInst are required")
	}
	if cfg.BestOf <= 0 {
		cfg.BestOf = 1
	}

	logger := cfg.Logger.With("subsystem", "match", "link_code", cfg.LinkCode)

	localIdx := uint8(1)
	if cfg.IsOfferer {
		localIdx = 0
	}

	sh := shadow.New(cfg.ShadowInst, cfg.Game.Traps, cfg.Game.Buffers, logger)

	m := &Match{
		cfg:              cfg,
		logger:           logger,
		localPlayerIndex: localIdx,
		sh:               sh,
		limiter:          rate.NewLimiter(rate.Limit(remoteInputRateLimit), remoteInputRateLimit),
		roundNumber:      1,
		events:           make(chan Event, 1),
		helloRecv:        make(chan wire.Hello, 1),
		lobbyRecv:        make(chan wire.Settings, 4),
		commitRecv:       make(chan wire.Commit, 1),
		uncommitRecv:     make(chan wire.Uncommit, 1),
		chunkRecv:        make(chan wire.Chunk, 8),
		startRecv:        make(chan wire.StartMatch, 1),
	}
	return m, nil
}

// Events returns the channel the GUI layer should watch for
// EventMatchEnded (spec.md §9's resolution of "surface a matchEnded
// event" instead of calling process-exit).
func (m *Match) Events() <-chan Event { return m.events }

// Run drives the full match lifecycle: lobby negotiation, then a
// sequence of per-round handshake+round cycles, until the match
// finishes or ctx is cancelled. It returns once teardown is complete;
// the final Result is also delivered on Events().
func (m *Match) Run(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error { return m.rxLoop(egCtx) })
	eg.Go(func() error {
		// cancel unblocks rxLoop whether the round loop ends in error
		// or finishes the match cleanly (errgroup only auto-cancels on
		// a non-nil return, so a clean finish needs this explicitly).
		defer cancel()
		return m.coordinatorLoop(egCtx)
	})

	err := eg.Wait()

	result := m.currentScore()
	if err != nil && !errors.Is(err, ErrCancelled) && !errors.Is(err, context.Canceled) {
		m.emitEnded(result, err)
		return result, err
	}
	if errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}
	m.emitEnded(result, nil)
	return result, nil
}

func (m *Match) currentScore() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

func (m *Match) emitEnded(result Result, err error) {
	m.closeOnce.Do(func() {
		m.events <- Event{Kind: EventMatchEnded, Result: result, Err: err}
		close(m.events)
	})
}

// coordinatorLoop runs lobby negotiation once, then loops: handshake a
// per-round seed, run that round to completion, record and score it,
// and decide whether the match (best-of cfg.BestOf) is finished.
func (m *Match) coordinatorLoop(ctx context.Context) error {
	if err := m.cfg.Transport.WaitOpen(ctx); err != nil {
		return fmt.Errorf("%w: waiting for transport: %v", ErrIO, err)
	}
	if err := m.sayHello(ctx); err != nil {
		return err
	}
	if err := m.negotiateLobby(ctx); err != nil {
		return err
	}

	startedMatch := false
	for {
		if m.matchDecided() {
			return nil
		}

		seed, peerSave, err := m.runHandshake(ctx)
		if err != nil {
			return fmt.Errorf("match: handshake: %w", err)
		}

		if !startedMatch {
			if err := m.cfg.Transport.Send(wire.Packet{Tag: wire.TagStartMatch}); err != nil {
				return fmt.Errorf("%w: sending StartMatch: %v", ErrIO, err)
			}
			select {
			case <-m.startRecv:
			case <-ctx.Done():
				return ctx.Err()
			}
			startedMatch = true
		}

		outcome, roundErr := m.runOneRound(ctx, seed, peerSave)
		if roundErr != nil {
			if errors.Is(roundErr, round.ErrDesync) {
				// Desync aborts the round only; the replay is already
				// finalized for forensic review and the match continues
				// with a fresh round (spec.md §7).
				m.logger.Warn("round desynced, continuing to next round", "error", roundErr)
				m.advanceRound()
				continue
			}
			return roundErr
		}

		m.recordOutcome(outcome)
		m.advanceRound()
	}
}

func (m *Match) matchDecided() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	majority := m.cfg.BestOf/2 + 1
	return m.score.LocalWins >= majority || m.score.RemoteWins >= majority
}

func (m *Match) advanceRound() {
	m.mu.Lock()
	m.roundNumber++
	m.current = nil
	m.mu.Unlock()
}

func (m *Match) recordOutcome(outcome round.Outcome) {
	m.mu.Lock()
	switch outcome {
	case round.OutcomeWin:
		m.score.LocalWins++
	case round.OutcomeLoss:
		m.score.RemoteWins++
	case round.OutcomeDraw:
		m.score.Draws++
	}
	majority := m.cfg.BestOf/2 + 1
	switch {
	case m.score.LocalWins >= majority:
		m.score.Outcome = OutcomeLocalWon
	case m.score.RemoteWins >= majority:
		m.score.Outcome = OutcomeRemoteWon
	}
	m.mu.Unlock()
}

// sayHello sends the local Hello and validates the peer's.
func (m *Match) sayHello(ctx context.Context) error {
	if err := m.cfg.Transport.Send(wire.Packet{Tag: wire.TagHello, Hello: wire.Hello{ProtocolVersion: ProtocolVersion}}); err != nil {
		return fmt.Errorf("%w: sending Hello: %v", ErrIO, err)
	}
	select {
	case hello := <-m.helloRecv:
		switch {
		case hello.ProtocolVersion < ProtocolVersion:
			return ErrProtocolVersionTooOld
		case hello.ProtocolVersion > ProtocolVersion:
			return ErrProtocolVersionTooNew
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// negotiateLobby resends local Settings and waits for the peer's
// RevealSetup to go true, per spec.md §4.C/§4.I: "exchange Settings
// until both peers toggle 'ready'".
func (m *Match) negotiateLobby(ctx context.Context) error {
	send := func() error {
		return m.cfg.Transport.Send(wire.Packet{Tag: wire.TagSettings, Settings: wire.Settings{
			Nickname:       m.cfg.LocalSettings.Nickname,
			MatchType:      m.cfg.LocalSettings.MatchType,
			MatchSubtype:   m.cfg.LocalSettings.MatchSubtype,
			GameInfo:       m.cfg.LocalSettings.GameInfo,
			AvailableGames: m.cfg.LocalSettings.AvailableGames,
			RevealSetup:    true,
		}})
	}
	if err := send(); err != nil {
		return fmt.Errorf("%w: sending Settings: %v", ErrIO, err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case s := <-m.lobbyRecv:
			if s.RevealSetup {
				return nil
			}
		case <-ticker.C:
			if err := send(); err != nil {
				return fmt.Errorf("%w: resending Settings: %v", ErrIO, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runHandshake executes one round's commit-reveal exchange (spec.md
// §4.B) and returns the derived shared seed plus the peer's revealed
// save data.
func (m *Match) runHandshake(ctx context.Context) ([16]byte, []byte, error) {
	side, err := handshake.NewSide()
	if err != nil {
		return [16]byte{}, nil, fmt.Errorf("drawing local nonce: %w", err)
	}

	commitment := side.LocalCommitment()
	if err := m.cfg.Transport.Send(wire.Packet{Tag: wire.TagCommit, Commit: wire.Commit{Commitment: commitment}}); err != nil {
		return [16]byte{}, nil, fmt.Errorf("%w: sending Commit: %v", ErrIO, err)
	}

	select {
	case c := <-m.commitRecv:
		side.ReceivePeerCommitment(c.Commitment)
	case <-ctx.Done():
		return [16]byte{}, nil, ctx.Err()
	}

	savestate, err := m.cfg.PrimaryInst.Savestate()
	if err != nil {
		return [16]byte{}, nil, fmt.Errorf("snapshotting for reveal: %w", err)
	}
	reveal := side.LocalReveal(savestate.Bytes)
	if err := m.sendNegotiatedState(ctx, reveal); err != nil {
		return [16]byte{}, nil, err
	}

	peerState, err := m.recvNegotiatedState(ctx)
	if err != nil {
		return [16]byte{}, nil, err
	}
	if err := side.ReceivePeerReveal(peerState); err != nil {
		return [16]byte{}, nil, fmt.Errorf("%w", err)
	}

	seed, err := side.Seed()
	if err != nil {
		return [16]byte{}, nil, err
	}
	peerSave, _ := side.PeerSaveData()
	return seed, peerSave, nil
}

// maxChunkPayload is the fragment ceiling spec.md §4.B step 3 mandates:
// "fragmented to ≤32 KiB per Chunk".
const maxChunkPayload = 32 * 1024

func (m *Match) sendNegotiatedState(ctx context.Context, state handshake.NegotiatedState) error {
	payload := make([]byte, 0, handshake.NonceSize+len(state.SaveData))
	payload = append(payload, state.Nonce[:]...)
	payload = append(payload, state.SaveData...)

	for len(payload) > 0 {
		n := maxChunkPayload
		if n > len(payload) {
			n = len(payload)
		}
		chunk := payload[:n]
		payload = payload[n:]
		if err := m.cfg.Transport.Send(wire.Packet{Tag: wire.TagChunk, Chunk: wire.Chunk{Data: chunk}}); err != nil {
			return fmt.Errorf("%w: sending Chunk: %v", ErrIO, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	// empty Chunk terminates the fragment stream
	if err := m.cfg.Transport.Send(wire.Packet{Tag: wire.TagChunk, Chunk: wire.Chunk{}}); err != nil {
		return fmt.Errorf("%w: sending terminator Chunk: %v", ErrIO, err)
	}
	return nil
}

func (m *Match) recvNegotiatedState(ctx context.Context) (handshake.NegotiatedState, error) {
	var buf []byte
	for {
		select {
		case c := <-m.chunkRecv:
			if len(c.Data) == 0 {
				if len(buf) < handshake.NonceSize {
					return handshake.NegotiatedState{}, fmt.Errorf("match: NegotiatedState shorter than a nonce")
				}
				var n handshake.Nonce
				copy(n[:], buf[:handshake.NonceSize])
				return handshake.NegotiatedState{Nonce: n, SaveData: buf[handshake.NonceSize:]}, nil
			}
			buf = append(buf, c.Data...)
		case <-ctx.Done():
			return handshake.NegotiatedState{}, ctx.Err()
		}
	}
}

// runOneRound builds and runs a single round.Round to completion,
// driving the primary emulator loop until the round reaches Ended or
// Aborted.
func (m *Match) runOneRound(ctx context.Context, seed [16]byte, peerSave []byte) (round.Outcome, error) {
	startedAt := time.Now()

	m.mu.Lock()
	num := m.roundNumber
	m.mu.Unlock()

	replayPath := filepath.Join(m.cfg.ReplaysDir, fmt.Sprintf("%s_%d_%s_vs_%s.tangoreplay",
		time.Now().UTC().Format("20060102T150405Z"), num, m.cfg.LocalSettings.Nickname, "peer"))

	meta := replay.Metadata{
		TS:        uint64(time.Now().UnixMilli()),
		LinkCode:  m.cfg.LinkCode,
		Round:     uint32(num),
		MatchType: uint32(m.cfg.LocalSettings.MatchType),
	}

	r, err := round.New(round.Config{
		Ctx:              ctx,
		RoundNumber:      num,
		LocalPlayerIndex: m.localPlayerIndex,
		Seed:             seed,
		QueueCapacity:    m.cfg.QueueCapacity,
		LocalDelay:       m.cfg.LocalDelay,
		Inst:             m.cfg.PrimaryInst,
		Addrs:            m.cfg.Game.Traps,
		Bufs:             m.cfg.Game.Buffers,
		Shadow:           m.sh,
		Out:              m.cfg.Transport,
		ReplayPath:       replayPath,
		Meta:             meta,
		PacketSize:       uint8(m.cfg.Game.PacketSize),
		ParityInst:       m.cfg.ParityInst,
		Logger:           m.logger,
	})
	if err != nil {
		return round.OutcomeUnknown, fmt.Errorf("starting round %d: %w", num, err)
	}

	m.mu.Lock()
	m.current = r
	m.mu.Unlock()

	_ = peerSave // the peer's revealed save data is a game-specific munger concern (spec.md §1); the match engine only round-trips it.

	runErr := make(chan error, 1)
	go func() { runErr <- m.driveEmulator(ctx, r) }()

	select {
	case <-r.Done():
	case <-ctx.Done():
		<-runErr
		return round.OutcomeUnknown, ctx.Err()
	}
	<-runErr

	if err := r.Err(); err != nil {
		return round.OutcomeUnknown, err
	}
	result, ok := r.Result()
	if !ok {
		return round.OutcomeUnknown, fmt.Errorf("match: round %d ended without a result", num)
	}

	if m.cfg.History != nil {
		rec := HistoryRecord{
			ID:           uuid.NewString(),
			RoundNumber:  num,
			LinkCode:     m.cfg.LinkCode,
			PeerNickname: "peer",
			LocalPlayer:  m.localPlayerIndex,
			Outcome:      result.Outcome.String(),
			ReplayPath:   r.FilePath(),
			ROMTitle:     m.cfg.Game.Name,
			StartedAt:    startedAt.Unix(),
			EndedAt:      time.Now().Unix(),
		}
		if err := m.cfg.History.RecordRound(ctx, rec); err != nil {
			m.logger.Error("recording match history", "error", err)
		}
	}

	return result.Outcome, nil
}

// driveEmulator steps the primary emulator one frame at a time until the
// round reaches a terminal state. This models spec.md §5's "emulator
// thread (primary)... runs a tight frame loop"; traps installed by
// round.New fire synchronously inside RunFrame.
func (m *Match) driveEmulator(ctx context.Context, r *round.Round) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.cfg.PrimaryInst.RunFrame(); err != nil {
				m.logger.Error("primary emulator fault", "error", err)
				return err
			}
		}
	}
}

// rxLoop is the transport's single reader (spec.md §4.I step 2, §5
// "Transport RX task"): it dispatches each arriving packet to whichever
// phase (Hello, lobby, handshake, or the active round) is listening.
func (m *Match) rxLoop(ctx context.Context) error {
	for {
		select {
		case pkt, ok := <-m.cfg.Transport.Recv():
			if !ok {
				return fmt.Errorf("%w: transport closed", ErrIO)
			}
			if err := m.dispatch(ctx, pkt); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Match) dispatch(ctx context.Context, pkt wire.Packet) error {
	if !m.helloSeen.Load() {
		if pkt.Tag != wire.TagHello {
			return ErrExpectedHello
		}
		m.helloSeen.Store(true)
		m.helloRecv <- pkt.Hello
		return nil
	}

	switch pkt.Tag {
	case wire.TagHello:
		return fmt.Errorf("%w: duplicate Hello", ErrProtocolError)
	case wire.TagPing, wire.TagPong:
		// handled transparently inside internal/transport.Channel
		return nil
	case wire.TagSettings:
		select {
		case m.lobbyRecv <- pkt.Settings:
		default:
		}
		return nil
	case wire.TagCommit:
		select {
		case m.commitRecv <- pkt.Commit:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case wire.TagUncommit:
		select {
		case m.uncommitRecv <- pkt.Uncommit:
		default:
		}
		return nil
	case wire.TagChunk:
		select {
		case m.chunkRecv <- pkt.Chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case wire.TagStartMatch:
		select {
		case m.startRecv <- pkt.StartMatch:
		default:
		}
		return nil
	case wire.TagInput:
		return m.dispatchInput(ctx, pkt.Input)
	default:
		return fmt.Errorf("%w: unknown tag %d", ErrProtocolError, pkt.Tag)
	}
}

// dispatchInput routes a remote Input into the active round, or
// discards it with a warning if it belongs to a round that is no
// longer current (spec.md §9's Open Question: "discard inputs whose
// round_number != current round ... do not buffer cross-round").
func (m *Match) dispatchInput(ctx context.Context, in wire.Input) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	r := m.current
	num := m.roundNumber
	m.mu.Unlock()

	if r == nil {
		m.logger.Warn("dropping input received with no active round", "round_number", in.RoundNumber)
		return nil
	}
	if in.RoundNumber != num {
		m.logger.Warn("discarding cross-round input", "received_round", in.RoundNumber, "current_round", num)
		return nil
	}

	if err := r.PushRemoteInput(in); err != nil {
		if errors.Is(err, round.ErrDesync) {
			// the round itself has already transitioned to Aborted;
			// surfacing here would make coordinatorLoop see the same
			// desync twice. Let coordinatorLoop observe it via r.Done().
			return nil
		}
		return err
	}
	return nil
}
