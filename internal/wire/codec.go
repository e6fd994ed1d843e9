package wire

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes p as a 1-byte tag followed by its fields, each field
// LE / varint-length-prefixed per spec.md §6. protowire's Append*
// helpers supply the varint and length-delimited primitives; there is no
// generated protobuf schema here, Packet is hand-framed.
func Marshal(p Packet) ([]byte, error) {
	b := make([]byte, 0, 64)
	b = append(b, byte(p.Tag))

	switch p.Tag {
	case TagHello:
		b = append(b, p.Hello.ProtocolVersion)
	case TagPing:
		b = protowire.AppendVarint(b, p.Ping.TS)
	case TagPong:
		b = protowire.AppendVarint(b, p.Pong.TS)
	case TagSettings:
		b = appendSettings(b, p.Settings)
	case TagCommit:
		b = append(b, p.Commit.Commitment[:]...)
	case TagUncommit:
		// no fields
	case TagChunk:
		b = protowire.AppendBytes(b, p.Chunk.Data)
	case TagStartMatch:
		// no fields
	case TagInput:
		b = append(b, p.Input.RoundNumber)
		b = protowire.AppendVarint(b, uint64(p.Input.LocalTick))
		b = append(b, byte(p.Input.TickDiff))
		b = protowire.AppendVarint(b, uint64(p.Input.Joyflags))
	default:
		return nil, fmt.Errorf("wire: unknown packet tag %d", p.Tag)
	}

	if len(b) > MaxPacketSize {
		return nil, fmt.Errorf("wire: encoded packet of %d bytes exceeds %d byte ceiling", len(b), MaxPacketSize)
	}
	return b, nil
}

func appendGameInfo(b []byte, g GameInfo) []byte {
	b = protowire.AppendString(b, g.ROMFamily)
	b = protowire.AppendString(b, g.ROMVariant)
	b = protowire.AppendString(b, g.Patch)
	return b
}

func appendSettings(b []byte, s Settings) []byte {
	b = protowire.AppendString(b, s.Nickname)
	b = append(b, s.MatchType, s.MatchSubtype)
	b = appendGameInfo(b, s.GameInfo)
	b = protowire.AppendVarint(b, uint64(len(s.AvailableGames)))
	for _, g := range s.AvailableGames {
		b = appendGameInfo(b, g)
	}
	if s.RevealSetup {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

// Unmarshal decodes a single framed Packet payload (post length-prefix).
func Unmarshal(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, fmt.Errorf("wire: empty packet")
	}
	p := Packet{Tag: Tag(b[0])}
	rest := b[1:]

	var err error
	switch p.Tag {
	case TagHello:
		if len(rest) < 1 {
			return Packet{}, fmt.Errorf("wire: truncated Hello")
		}
		p.Hello.ProtocolVersion = rest[0]
	case TagPing:
		p.Ping.TS, err = consumeVarintFull(rest)
	case TagPong:
		p.Pong.TS, err = consumeVarintFull(rest)
	case TagSettings:
		p.Settings, err = consumeSettings(rest)
	case TagCommit:
		if len(rest) < 16 {
			return Packet{}, fmt.Errorf("wire: truncated Commit")
		}
		copy(p.Commit.Commitment[:], rest[:16])
	case TagUncommit:
	case TagChunk:
		data, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return Packet{}, fmt.Errorf("wire: malformed Chunk")
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		p.Chunk.Data = cp
	case TagStartMatch:
	case TagInput:
		if len(rest) < 2 {
			return Packet{}, fmt.Errorf("wire: truncated Input")
		}
		p.Input.RoundNumber = rest[0]
		tick, n := protowire.ConsumeVarint(rest[1:])
		if n < 0 {
			return Packet{}, fmt.Errorf("wire: malformed Input.local_tick")
		}
		p.Input.LocalTick = uint32(tick)
		off := 1 + n
		if off >= len(rest) {
			return Packet{}, fmt.Errorf("wire: truncated Input.tick_diff")
		}
		p.Input.TickDiff = int8(rest[off])
		off++
		jf, n2 := protowire.ConsumeVarint(rest[off:])
		if n2 < 0 {
			return Packet{}, fmt.Errorf("wire: malformed Input.joyflags")
		}
		p.Input.Joyflags = uint16(jf)
	default:
		return Packet{}, fmt.Errorf("wire: unknown packet tag %d", p.Tag)
	}
	if err != nil {
		return Packet{}, err
	}
	return p, nil
}

func consumeVarintFull(b []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("wire: malformed varint")
	}
	return v, nil
}

func consumeGameInfo(b []byte) (GameInfo, int, error) {
	var g GameInfo
	off := 0
	fam, n := protowire.ConsumeString(b[off:])
	if n < 0 {
		return g, 0, fmt.Errorf("wire: malformed GameInfo.rom_family")
	}
	g.ROMFamily = fam
	off += n
	variant, n := protowire.ConsumeString(b[off:])
	if n < 0 {
		return g, 0, fmt.Errorf("wire: malformed GameInfo.rom_variant")
	}
	g.ROMVariant = variant
	off += n
	patch, n := protowire.ConsumeString(b[off:])
	if n < 0 {
		return g, 0, fmt.Errorf("wire: malformed GameInfo.patch")
	}
	g.Patch = patch
	off += n
	return g, off, nil
}

func consumeSettings(b []byte) (Settings, error) {
	var s Settings
	off := 0
	nick, n := protowire.ConsumeString(b[off:])
	if n < 0 {
		return s, fmt.Errorf("wire: malformed Settings.nickname")
	}
	s.Nickname = nick
	off += n

	if off+2 > len(b) {
		return s, fmt.Errorf("wire: truncated Settings match type")
	}
	s.MatchType = b[off]
	s.MatchSubtype = b[off+1]
	off += 2

	gi, n, err := consumeGameInfo(b[off:])
	if err != nil {
		return s, err
	}
	s.GameInfo = gi
	off += n

	count, n := protowire.ConsumeVarint(b[off:])
	if n < 0 {
		return s, fmt.Errorf("wire: malformed Settings.available_games length")
	}
	off += n
	s.AvailableGames = make([]GameInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		g, n, err := consumeGameInfo(b[off:])
		if err != nil {
			return s, err
		}
		s.AvailableGames = append(s.AvailableGames, g)
		off += n
	}

	if off >= len(b) {
		return s, fmt.Errorf("wire: truncated Settings.reveal_setup")
	}
	s.RevealSetup = b[off] != 0
	return s, nil
}

// WritePacket frames p with a varint length prefix and writes it to w.
func WritePacket(w io.Writer, p Packet) error {
	body, err := Marshal(p)
	if err != nil {
		return err
	}
	var lenBuf []byte
	lenBuf = protowire.AppendVarint(lenBuf, uint64(len(body)))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("wire: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: writing packet body: %w", err)
	}
	return nil
}

// ReadPacket reads one varint-length-prefixed Packet from r, enforcing
// the same MaxPacketSize ceiling Marshal does.
func ReadPacket(r *bufio.Reader) (Packet, error) {
	length, err := readVarint(r)
	if err != nil {
		return Packet{}, err
	}
	if length > MaxPacketSize {
		return Packet{}, fmt.Errorf("wire: framed packet of %d bytes exceeds %d byte ceiling", length, MaxPacketSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, fmt.Errorf("wire: reading packet body: %w", err)
	}
	return Unmarshal(body)
}

// readVarint reads a 7-bit continuation-encoded varint one byte at a
// time, since protowire operates on an in-memory slice rather than a
// stream.
func readVarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("wire: reading varint: %w", err)
		}
		x |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return x, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("wire: varint too long")
		}
	}
}
