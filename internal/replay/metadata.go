package replay

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Metadata is the protobuf message from spec.md §6, carried opaquely by
// the match engine inside the replay header. Fields are encoded with
// protowire's low-level tag/wire-type primitives directly rather than
// through a generated .pb.go — the match engine never inspects this
// message's contents beyond round-tripping it (spec.md §4.E), so there
// is nothing for generated accessor/reflection code to buy here.
type Metadata struct {
	TS           uint64
	LinkCode     string
	LocalSide    SideInfo
	RemoteSide   SideInfo
	Round        uint32
	MatchType    uint32
	MatchSubtype uint32
}

// SideInfo is one peer's half of Metadata.
type SideInfo struct {
	Nickname    string
	RevealSetup bool
	GameInfo    GameInfo
}

// GameInfo identifies a cartridge/patch combination.
type GameInfo struct {
	ROMFamily  string
	ROMVariant string
	Patch      string // empty when absent
}

const (
	fieldMetaTS           = 1
	fieldMetaLinkCode     = 2
	fieldMetaLocalSide    = 3
	fieldMetaRemoteSide   = 4
	fieldMetaRound        = 5
	fieldMetaMatchType    = 6
	fieldMetaMatchSubtype = 7

	fieldSideNickname    = 1
	fieldSideRevealSetup = 2
	fieldSideGameInfo    = 3

	fieldGameROMFamily  = 1
	fieldGameROMVariant = 2
	fieldGamePatch      = 3
)

func appendGameInfo(b []byte, g GameInfo) []byte {
	if g.ROMFamily != "" {
		b = protowire.AppendTag(b, fieldGameROMFamily, protowire.BytesType)
		b = protowire.AppendString(b, g.ROMFamily)
	}
	if g.ROMVariant != "" {
		b = protowire.AppendTag(b, fieldGameROMVariant, protowire.BytesType)
		b = protowire.AppendString(b, g.ROMVariant)
	}
	if g.Patch != "" {
		b = protowire.AppendTag(b, fieldGamePatch, protowire.BytesType)
		b = protowire.AppendString(b, g.Patch)
	}
	return b
}

func appendSide(b []byte, s SideInfo) []byte {
	if s.Nickname != "" {
		b = protowire.AppendTag(b, fieldSideNickname, protowire.BytesType)
		b = protowire.AppendString(b, s.Nickname)
	}
	if s.RevealSetup {
		b = protowire.AppendTag(b, fieldSideRevealSetup, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	gi := appendGameInfo(nil, s.GameInfo)
	if len(gi) > 0 {
		b = protowire.AppendTag(b, fieldSideGameInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, gi)
	}
	return b
}

// MarshalMetadata encodes m as a protobuf message.
func MarshalMetadata(m Metadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetaTS, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TS)

	if m.LinkCode != "" {
		b = protowire.AppendTag(b, fieldMetaLinkCode, protowire.BytesType)
		b = protowire.AppendString(b, m.LinkCode)
	}

	local := appendSide(nil, m.LocalSide)
	if len(local) > 0 {
		b = protowire.AppendTag(b, fieldMetaLocalSide, protowire.BytesType)
		b = protowire.AppendBytes(b, local)
	}
	remote := appendSide(nil, m.RemoteSide)
	if len(remote) > 0 {
		b = protowire.AppendTag(b, fieldMetaRemoteSide, protowire.BytesType)
		b = protowire.AppendBytes(b, remote)
	}

	b = protowire.AppendTag(b, fieldMetaRound, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Round))
	b = protowire.AppendTag(b, fieldMetaMatchType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MatchType))
	b = protowire.AppendTag(b, fieldMetaMatchSubtype, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MatchSubtype))
	return b
}

func parseGameInfo(b []byte) (GameInfo, error) {
	var g GameInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return g, fmt.Errorf("replay: malformed GameInfo tag")
		}
		b = b[n:]
		switch num {
		case fieldGameROMFamily:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return g, fmt.Errorf("replay: malformed GameInfo.rom_family")
			}
			g.ROMFamily = v
			b = b[n:]
		case fieldGameROMVariant:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return g, fmt.Errorf("replay: malformed GameInfo.rom_variant")
			}
			g.ROMVariant = v
			b = b[n:]
		case fieldGamePatch:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return g, fmt.Errorf("replay: malformed GameInfo.patch")
			}
			g.Patch = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return g, fmt.Errorf("replay: malformed GameInfo unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return g, nil
}

func parseSide(b []byte) (SideInfo, error) {
	var s SideInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, fmt.Errorf("replay: malformed SideInfo tag")
		}
		b = b[n:]
		switch num {
		case fieldSideNickname:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, fmt.Errorf("replay: malformed SideInfo.nickname")
			}
			s.Nickname = v
			b = b[n:]
		case fieldSideRevealSetup:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, fmt.Errorf("replay: malformed SideInfo.reveal_setup")
			}
			s.RevealSetup = v != 0
			b = b[n:]
		case fieldSideGameInfo:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, fmt.Errorf("replay: malformed SideInfo.game_info")
			}
			gi, err := parseGameInfo(v)
			if err != nil {
				return s, err
			}
			s.GameInfo = gi
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, fmt.Errorf("replay: malformed SideInfo unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return s, nil
}

// UnmarshalMetadata decodes a protobuf-encoded Metadata message,
// tolerating unknown fields (standard protobuf forward compatibility).
func UnmarshalMetadata(b []byte) (Metadata, error) {
	var m Metadata
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("replay: malformed Metadata tag")
		}
		b = b[n:]
		switch num {
		case fieldMetaTS:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.ts")
			}
			m.TS = v
			b = b[n:]
		case fieldMetaLinkCode:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.link_code")
			}
			m.LinkCode = v
			b = b[n:]
		case fieldMetaLocalSide:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.local_side")
			}
			side, err := parseSide(v)
			if err != nil {
				return m, err
			}
			m.LocalSide = side
			b = b[n:]
		case fieldMetaRemoteSide:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.remote_side")
			}
			side, err := parseSide(v)
			if err != nil {
				return m, err
			}
			m.RemoteSide = side
			b = b[n:]
		case fieldMetaRound:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.round")
			}
			m.Round = uint32(v)
			b = b[n:]
		case fieldMetaMatchType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.match_type")
			}
			m.MatchType = uint32(v)
			b = b[n:]
		case fieldMetaMatchSubtype:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata.match_subtype")
			}
			m.MatchSubtype = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("replay: malformed Metadata unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return m, nil
}
