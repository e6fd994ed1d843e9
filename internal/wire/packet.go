// Package wire defines the transport-framing wire protocol from
// spec.md §4.C/§6: a length-prefixed codec for a small tagged-union
// Packet type, carried over a single reliable, ordered data channel
// (see internal/transport).
package wire

// Tag is the Packet discriminant, assigned in the declaration order
// spec.md §4.C lists the variants in.
type Tag byte

const (
	TagHello Tag = iota
	TagPing
	TagPong
	TagSettings
	TagCommit
	TagUncommit
	TagChunk
	TagStartMatch
	TagInput
)

// MaxPacketSize is the ceiling enforced on both sides of the channel
// (spec.md §6).
const MaxPacketSize = 65536

// Packet is the sum type carried by the transport. Exactly one of the
// typed fields below is meaningful, selected by Tag.
type Packet struct {
	Tag Tag

	Hello      Hello
	Ping       Ping
	Pong       Pong
	Settings   Settings
	Commit     Commit
	Uncommit   Uncommit
	Chunk      Chunk
	StartMatch StartMatch
	Input      Input
}

// Hello must be the first packet on a connection; ProtocolVersion
// mismatches are rejected before any other state is exchanged.
type Hello struct {
	ProtocolVersion uint8
}

// Ping carries a Unix nanosecond timestamp the peer echoes back in Pong for
// RTT measurement and liveness.
type Ping struct {
	TS uint64
}

// Pong echoes a Ping's timestamp.
type Pong struct {
	TS uint64
}

// GameInfo identifies a cartridge/patch combination a peer can play.
type GameInfo struct {
	ROMFamily  string
	ROMVariant string
	// Patch is empty when no patch is applied.
	Patch string
}

// Settings is resent by either peer whenever lobby state changes:
// nickname, requested match type/subtype, the game it wants to play,
// the set of games it has available, and whether it is ready to reveal
// (i.e. proceed to the handshake).
type Settings struct {
	Nickname       string
	MatchType      uint8
	MatchSubtype   uint8
	GameInfo       GameInfo
	AvailableGames []GameInfo
	RevealSetup    bool
}

// Commit carries a 16-byte BLAKE3-derived commitment (spec.md §4.B).
type Commit struct {
	Commitment [16]byte
}

// Uncommit retracts a previously sent Commit.
type Uncommit struct{}

// Chunk carries a fragment (<=32KiB payload) of a NegotiatedState during
// the reveal phase; an empty Chunk terminates the fragment stream.
type Chunk struct {
	Data []byte
}

// StartMatch signals both peers are ready and the round loop may begin.
type StartMatch struct{}

// Input is sent once per committed local tick. Note that Input.packet
// bytes from spec.md §3 are never sent over the wire — the peer
// reconstructs them via its shadow (spec.md §4.H step 2-3).
type Input struct {
	RoundNumber uint8
	LocalTick   uint32
	TickDiff    int8
	Joyflags    uint16
}
