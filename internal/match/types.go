package match

import (
	"context"
	"log/slog"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/gamedb"
	"github.com/tango-netplay/tango/internal/wire"
)

// ProtocolVersion is the single byte bumped on any wire-incompatible
// change (spec.md §4.C).
const ProtocolVersion uint8 = 1

// Transport is the subset of *internal/transport.Channel the
// coordinator depends on. Extracted as an interface so tests can drive
// the coordinator over an in-memory pair instead of a real WebRTC data
// channel (signaling/negotiation itself is out of scope per spec.md §1).
type Transport interface {
	Send(wire.Packet) error
	Recv() <-chan wire.Packet
	WaitOpen(ctx context.Context) error
	PingNow() error
	RoundTripTimeSeconds() float64
	PacketsSentTotal() uint64
	PacketsReceivedTotal() uint64
}

// Settings is the local lobby state advertised to the peer (spec.md
// §4.C's Settings packet, mirrored locally).
type Settings struct {
	Nickname       string
	MatchType      uint8
	MatchSubtype   uint8
	GameInfo       wire.GameInfo
	AvailableGames []wire.GameInfo
}

// Config wires one Match's dependencies. The host (GUI/CLI layer)
// constructs one Config per match and calls New.
type Config struct {
	Logger *slog.Logger

	// IsOfferer is true for the peer whose SDP offer was accepted; it
	// is deterministically player index 0 (spec.md §4.B step 5).
	IsOfferer bool

	LocalSettings Settings
	LinkCode      string

	Transport Transport

	PrimaryInst emu.Instance
	ShadowInst  emu.Instance
	// ParityInst is an idle instance each round hands the stepper for
	// the round-end parity check (spec.md §4.G). Nil skips the check.
	ParityInst emu.Instance
	Game       gamedb.Entry

	QueueCapacity int
	LocalDelay    uint32

	ReplaysDir string
	// BestOf is the number of rounds in the match format; the match
	// ends once either player reaches a majority of BestOf wins.
	BestOf int

	// History is optional local match-history bookkeeping (spec.md
	// §2.8). A nil History simply skips persistence.
	History History
}

// History is the subset of *internal/store.Store the coordinator needs
// at match end, kept as an interface so tests don't need a real sqlite
// file.
type History interface {
	RecordRound(ctx context.Context, r HistoryRecord) error
}

// HistoryRecord mirrors store.RoundRecord without importing internal/store
// (which would pull sqlite into packages that only ever see a fake).
type HistoryRecord struct {
	ID           string
	RoundNumber  uint8
	LinkCode     string
	PeerNickname string
	LocalPlayer  uint8
	Outcome      string
	ReplayPath   string
	ROMTitle     string
	StartedAt    int64 // unix seconds
	EndedAt      int64
}

// Outcome is the match's final result, distinct from a single round's
// round.Outcome (spec.md §3's RoundResult is per-round; Outcome here is
// the best-of-N aggregate).
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeLocalWon
	OutcomeRemoteWon
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLocalWon:
		return "local_won"
	case OutcomeRemoteWon:
		return "remote_won"
	case OutcomeDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// Result is the final score surfaced to the GUI layer when the match
// ends (spec.md §4.I step 5).
type Result struct {
	LocalWins  int
	RemoteWins int
	Draws      int
	Outcome    Outcome
}

// EventKind discriminates the events a Match emits on its Events channel.
type EventKind int

const (
	// EventMatchEnded is the terminal event (spec.md §9: "surface a
	// matchEnded event to the GUI layer" rather than calling
	// process-exit, as the original source's end_match() did).
	EventMatchEnded EventKind = iota
)

// Event is one notification surfaced to the GUI layer.
type Event struct {
	Kind   EventKind
	Result Result
	Err    error
}
