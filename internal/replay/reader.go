package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/joyflags"
)

// InputPair is one decoded chunk: a local+remote Input pair plus the
// absolute local tick it was committed at.
type InputPair = inputqueue.Pair[input.Input, input.Input]

// ReadResult is what Read produces: metadata, which player index is
// "local" in this file, the initial savestate, and the full sequence
// of committed pairs. Remote state is not reconstructed by Read itself
// — Read has no emulator to run it on — call Reconstruct once a
// caller has one; see reconstruct.go.
type ReadResult struct {
	Version          uint8
	LocalPlayerIndex uint8
	PacketSize       uint8
	Metadata         Metadata
	InitialState     []byte
	Pairs            []InputPair

	// RemoteState is populated by Reconstruct: the remote side's final
	// savestate, re-derived by replaying the recorded remote inputs
	// through the stepper rather than trusted from the wire.
	RemoteState emu.Savestate
}

// Read parses an entire .tangoreplay file.
func Read(path string) (*ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(bufio.NewReader(f))
}

// ReadFrom parses a replay stream from r, supporting both VersionCurrent
// and VersionLegacy (spec.md §6).
func ReadFrom(r *bufio.Reader) (*ReadResult, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("replay: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("replay: reading version: %w", err)
	}

	result := &ReadResult{Version: version, PacketSize: input.DefaultPacketSize}

	switch version {
	case VersionCurrent:
		flags, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("replay: reading flags: %w", err)
		}
		_ = flags // only FlagRemoteStatePresent is defined; unused here
		lpi, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("replay: reading local_player_index: %w", err)
		}
		result.LocalPlayerIndex = lpi
		pktSize, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("replay: reading packet_size: %w", err)
		}
		result.PacketSize = pktSize
	case VersionLegacy:
		lpi, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("replay: reading local_player_index: %w", err)
		}
		result.LocalPlayerIndex = lpi
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnsupportedVersion, version)
	}

	metaBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, fmt.Errorf("replay: reading metadata: %w", err)
	}
	meta, err := UnmarshalMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("replay: parsing metadata: %w", err)
	}
	result.Metadata = meta

	initialState, err := readLenPrefixed(r)
	if err != nil {
		return nil, fmt.Errorf("replay: reading initial_state: %w", err)
	}
	result.InitialState = initialState

	pairs, err := readChunks(r, int(result.PacketSize), result.Metadata.Round)
	if err != nil {
		return nil, err
	}
	result.Pairs = pairs

	return result, nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readChunks(r *bufio.Reader, packetSize int, roundNumber uint32) ([]InputPair, error) {
	var pairs []InputPair
	var tick uint64
	first := true

	for {
		delta, n, err := readVarintOrEOF(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: reading tick_delta: %w", err)
		}
		_ = n
		if first {
			tick = delta
			first = false
		} else {
			tick += delta
		}

		var u16 [2]byte
		if _, err := io.ReadFull(r, u16[:]); err != nil {
			return nil, fmt.Errorf("replay: reading local_joyflags: %w", err)
		}
		localJoy := joyflags.Flags(binary.LittleEndian.Uint16(u16[:]))
		if _, err := io.ReadFull(r, u16[:]); err != nil {
			return nil, fmt.Errorf("replay: reading remote_joyflags: %w", err)
		}
		remoteJoy := joyflags.Flags(binary.LittleEndian.Uint16(u16[:]))

		localPkt := make([]byte, packetSize)
		if _, err := io.ReadFull(r, localPkt); err != nil {
			return nil, fmt.Errorf("replay: reading local_packet: %w", err)
		}
		remotePkt := make([]byte, packetSize)
		if _, err := io.ReadFull(r, remotePkt); err != nil {
			return nil, fmt.Errorf("replay: reading remote_packet: %w", err)
		}

		pair := InputPair{
			Local: input.Input{
				RoundNumber: uint8(roundNumber),
				LocalTick:   uint32(tick),
				Joyflags:    localJoy,
				Packet:      localPkt,
			},
			Remote: input.Input{
				RoundNumber: uint8(roundNumber),
				LocalTick:   uint32(tick),
				Joyflags:    remoteJoy,
				Packet:      remotePkt,
			},
		}
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

// readVarintOrEOF reads one protowire varint byte-by-byte (mirroring
// internal/wire's stream reader), returning io.EOF cleanly when the
// stream ends exactly on a chunk boundary.
func readVarintOrEOF(r *bufio.Reader) (uint64, int, error) {
	first, err := r.ReadByte()
	if err == io.EOF {
		return 0, 0, io.EOF
	}
	if err != nil {
		return 0, 0, err
	}
	var x uint64
	var shift uint
	b := first
	n := 0
	for {
		x |= uint64(b&0x7f) << shift
		n++
		if b&0x80 == 0 {
			return x, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("replay: varint too long")
		}
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("replay: truncated varint: %w", err)
		}
	}
}
