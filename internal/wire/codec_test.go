package wire

import (
	"bufio"
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	b, err := Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return got
}

func TestRoundTripHello(t *testing.T) {
	got := roundTrip(t, Packet{Tag: TagHello, Hello: Hello{ProtocolVersion: 7}})
	if got.Hello.ProtocolVersion != 7 {
		t.Errorf("ProtocolVersion = %d, want 7", got.Hello.ProtocolVersion)
	}
}

func TestRoundTripInput(t *testing.T) {
	in := Input{RoundNumber: 3, LocalTick: 123456, TickDiff: -12, Joyflags: 0x3ff}
	got := roundTrip(t, Packet{Tag: TagInput, Input: in})
	if got.Input != in {
		t.Errorf("Input = %+v, want %+v", got.Input, in)
	}
}

func TestRoundTripSettings(t *testing.T) {
	s := Settings{
		Nickname:     "rockman",
		MatchType:    1,
		MatchSubtype: 2,
		GameInfo:     GameInfo{ROMFamily: "BR6J", ROMVariant: "0", Patch: ""},
		AvailableGames: []GameInfo{
			{ROMFamily: "BR6J", ROMVariant: "0"},
			{ROMFamily: "BR5J", ROMVariant: "1", Patch: "translation-v2"},
		},
		RevealSetup: true,
	}
	got := roundTrip(t, Packet{Tag: TagSettings, Settings: s})
	if got.Settings.Nickname != s.Nickname || got.Settings.RevealSetup != s.RevealSetup {
		t.Fatalf("Settings = %+v, want %+v", got.Settings, s)
	}
	if len(got.Settings.AvailableGames) != 2 || got.Settings.AvailableGames[1].Patch != "translation-v2" {
		t.Fatalf("AvailableGames = %+v", got.Settings.AvailableGames)
	}
}

func TestRoundTripChunkAndEmptyChunk(t *testing.T) {
	got := roundTrip(t, Packet{Tag: TagChunk, Chunk: Chunk{Data: []byte("hello")}})
	if string(got.Chunk.Data) != "hello" {
		t.Errorf("Chunk.Data = %q, want %q", got.Chunk.Data, "hello")
	}
	got = roundTrip(t, Packet{Tag: TagChunk, Chunk: Chunk{Data: nil}})
	if len(got.Chunk.Data) != 0 {
		t.Errorf("Chunk.Data = %q, want empty", got.Chunk.Data)
	}
}

func TestOversizedPacketRejected(t *testing.T) {
	_, err := Marshal(Packet{Tag: TagChunk, Chunk: Chunk{Data: make([]byte, MaxPacketSize+1)}})
	if err == nil {
		t.Fatal("expected an error for an oversized packet")
	}
}

func TestWriteReadPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	want := Packet{Tag: TagPing, Ping: Ping{TS: 42}}
	if err := WritePacket(&buf, want); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	// A second packet to prove framing doesn't consume extra/too little.
	want2 := Packet{Tag: TagPong, Pong: Pong{TS: 99}}
	if err := WritePacket(&buf, want2); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got.Ping.TS != 42 {
		t.Errorf("first packet TS = %d, want 42", got.Ping.TS)
	}
	got2, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("ReadPacket (second): %v", err)
	}
	if got2.Pong.TS != 99 {
		t.Errorf("second packet TS = %d, want 99", got2.Pong.TS)
	}
}

func TestReadPacketRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf []byte
	// Write a length prefix exceeding MaxPacketSize directly.
	n := uint64(MaxPacketSize + 1)
	for n >= 0x80 {
		lenBuf = append(lenBuf, byte(n)|0x80)
		n >>= 7
	}
	lenBuf = append(lenBuf, byte(n))
	buf.Write(lenBuf)

	r := bufio.NewReader(&buf)
	if _, err := ReadPacket(r); err == nil {
		t.Fatal("expected an error for an oversized length prefix")
	}
}
