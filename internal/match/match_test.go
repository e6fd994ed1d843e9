package match

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/gamedb"
	"github.com/tango-netplay/tango/internal/round"
	"github.com/tango-netplay/tango/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-memory Transport pair used in place of a real
// WebRTC data channel; signaling/negotiation is out of scope for the
// match engine (spec.md §1), so tests connect two Match coordinators
// directly over Go channels. Delivery runs through a single pump
// goroutine per side with a small fixed delay, modeling real network
// latency: without it, a peer's Input could arrive before this side's
// own driveEmulator tick has produced the matching local joyflags for
// the shadow to replay, which the round layer correctly treats as a
// desync rather than a race to paper over.
type fakeTransport struct {
	out     chan wire.Packet
	in      chan wire.Packet
	pending chan wire.Packet
}

const fakeTransportLatency = 40 * time.Millisecond

func newFakeTransportPair() (*fakeTransport, *fakeTransport) {
	a := make(chan wire.Packet, 256)
	b := make(chan wire.Packet, 256)
	ta := &fakeTransport{out: a, in: b, pending: make(chan wire.Packet, 256)}
	tb := &fakeTransport{out: b, in: a, pending: make(chan wire.Packet, 256)}
	go ta.pump()
	go tb.pump()
	return ta, tb
}

// pump delivers pending sends to out in the order Send was called,
// each after fakeTransportLatency, so fragmented Chunks and Input
// packets never arrive out of order relative to each other.
func (t *fakeTransport) pump() {
	for p := range t.pending {
		time.Sleep(fakeTransportLatency)
		t.out <- p
	}
}

func (t *fakeTransport) Send(p wire.Packet) error {
	t.pending <- p
	return nil
}
func (t *fakeTransport) Recv() <-chan wire.Packet           { return t.in }
func (t *fakeTransport) WaitOpen(ctx context.Context) error { return nil }
func (t *fakeTransport) PingNow() error                     { return nil }
func (t *fakeTransport) RoundTripTimeSeconds() float64      { return 0 }
func (t *fakeTransport) PacketsSentTotal() uint64           { return 0 }
func (t *fakeTransport) PacketsReceivedTotal() uint64       { return 0 }

func demoEntry(t *testing.T) gamedb.Entry {
	t.Helper()
	e, ok := gamedb.Lookup(gamedb.DemoKey)
	if !ok {
		t.Fatal("gamedb.DemoKey not registered")
	}
	return e
}

func newPrimaryFake(game gamedb.Entry, outcomeCode uint32) *emu.Fake {
	f := emu.NewFake([]emu.Addr{game.Traps.ReadJoyflags, game.Traps.HandleInput, game.Traps.RoundResult})
	f.WriteMem(game.Buffers.TxPacketAddr, make([]byte, game.PacketSize))
	f.SetReg(0, outcomeCode)
	return f
}

func newShadowFake(game gamedb.Entry) *emu.Fake {
	f := emu.NewFake([]emu.Addr{game.Traps.ReadJoyflags, game.Traps.HandleInput})
	f.WriteMem(game.Buffers.TxPacketAddr, make([]byte, game.PacketSize))
	return f
}

// TestMatchRunsOneRoundBestOfOne drives a complete match between two
// in-process Match coordinators: lobby negotiation, commit-reveal
// handshake, one round, and teardown, verifying both peers agree on
// the final Result.
func TestMatchRunsOneRoundBestOfOne(t *testing.T) {
	origTimeout := round.StallTimeout
	round.StallTimeout = 2 * time.Second
	defer func() { round.StallTimeout = origTimeout }()

	game := demoEntry(t)
	trA, trB := newFakeTransportPair()

	// A reports a win (code 1); B reports a loss (code 2) for its own
	// local_player_index — both describe the same real-world result
	// from each peer's own perspective, matching spec.md §3 RoundResult
	// being local to each side's round state machine.
	primaryA := newPrimaryFake(game, 1)
	shadowA := newShadowFake(game)
	parityA := newShadowFake(game)
	primaryB := newPrimaryFake(game, 2)
	shadowB := newShadowFake(game)
	parityB := newShadowFake(game)

	mkCfg := func(isOfferer bool, tr Transport, primary, shadow, parity emu.Instance, nick string) Config {
		return Config{
			Logger:        discardLogger(),
			IsOfferer:     isOfferer,
			LocalSettings: Settings{Nickname: nick, MatchType: 1},
			LinkCode:      "ABCD",
			Transport:     tr,
			PrimaryInst:   primary,
			ShadowInst:    shadow,
			ParityInst:    parity,
			Game:          game,
			QueueCapacity: 16,
			LocalDelay:    0,
			ReplaysDir:    t.TempDir(),
			BestOf:        1,
		}
	}

	mA, err := New(mkCfg(true, trA, primaryA, shadowA, parityA, "alice"))
	if err != nil {
		t.Fatalf("New(A): %v", err)
	}
	mB, err := New(mkCfg(false, trB, primaryB, shadowB, parityB, "bob"))
	if err != nil {
		t.Fatalf("New(B): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type runOut struct {
		result Result
		err    error
	}
	resA := make(chan runOut, 1)
	resB := make(chan runOut, 1)
	go func() { r, err := mA.Run(ctx); resA <- runOut{r, err} }()
	go func() { r, err := mB.Run(ctx); resB <- runOut{r, err} }()

	outA := <-resA
	outB := <-resB

	if outA.err != nil {
		t.Fatalf("A.Run() error: %v", outA.err)
	}
	if outB.err != nil {
		t.Fatalf("B.Run() error: %v", outB.err)
	}

	if outA.result.Outcome != OutcomeLocalWon {
		t.Errorf("A outcome = %v, want OutcomeLocalWon", outA.result.Outcome)
	}
	if outB.result.Outcome != OutcomeRemoteWon {
		t.Errorf("B outcome = %v, want OutcomeRemoteWon", outB.result.Outcome)
	}

	evA, ok := <-mA.Events()
	if !ok || evA.Kind != EventMatchEnded {
		t.Fatalf("A Events() = %+v, ok=%v, want EventMatchEnded", evA, ok)
	}
	evB, ok := <-mB.Events()
	if !ok || evB.Kind != EventMatchEnded {
		t.Fatalf("B Events() = %+v, ok=%v, want EventMatchEnded", evB, ok)
	}
}

// TestMatchDiscardsCrossRoundInput verifies the Open Question
// resolution from spec.md §9: input tagged with a stale round_number is
// discarded rather than buffered.
func TestMatchDiscardsCrossRoundInput(t *testing.T) {
	game := demoEntry(t)
	trA, _ := newFakeTransportPair()

	m, err := New(Config{
		Logger:        discardLogger(),
		IsOfferer:     true,
		LocalSettings: Settings{Nickname: "alice"},
		LinkCode:      "ABCD",
		Transport:     trA,
		PrimaryInst:   newPrimaryFake(game, 1),
		ShadowInst:    newShadowFake(game),
		Game:          game,
		QueueCapacity: 8,
		ReplaysDir:    t.TempDir(),
		BestOf:        1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.roundNumber = 5

	// No active round at all: dispatchInput must not block or panic,
	// and must not error the match.
	if err := m.dispatchInput(context.Background(), wire.Input{RoundNumber: 3, LocalTick: 0}); err != nil {
		t.Fatalf("dispatchInput with no active round: %v", err)
	}

	// An active round numbered 5: the stale round-3 input must be
	// discarded before it reaches the round (a zero Round would panic
	// if the input were pushed to it).
	m.current = &round.Round{}
	if err := m.dispatchInput(context.Background(), wire.Input{RoundNumber: 3, LocalTick: 0}); err != nil {
		t.Fatalf("dispatchInput with stale round number: %v", err)
	}
}
