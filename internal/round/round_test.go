package round

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/joyflags"
	"github.com/tango-netplay/tango/internal/replay"
	"github.com/tango-netplay/tango/internal/wire"
)

const (
	addrReadJoyflags emu.Addr = 0x0800_1000
	addrHandleInput  emu.Addr = 0x0800_1100
	addrRoundResult  emu.Addr = 0x0800_1200

	joyflagsAddr = 0x0200_0000
	txPacketAddr = 0x0200_1000
	rxPacketAddr = 0x0200_2000
	packetSize   = 4
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAddrs() hooks.TrapAddrs {
	return hooks.TrapAddrs{ReadJoyflags: addrReadJoyflags, HandleInput: addrHandleInput, RoundResult: addrRoundResult}
}

func testBufs() hooks.RegisterBuffers {
	return hooks.RegisterBuffers{JoyflagsAddr: joyflagsAddr, TxPacketAddr: txPacketAddr, RxPacketAddr: rxPacketAddr, PacketSize: packetSize}
}

type fakeShadow struct {
	packet []byte
	err    error
}

func (f *fakeShadow) ApplyInput(localTick uint32, remoteJoyflags, localJoyflags joyflags.Flags) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.packet, nil
}

type fakeSender struct {
	sent []wire.Packet
}

func (f *fakeSender) Send(p wire.Packet) error {
	f.sent = append(f.sent, p)
	return nil
}

func newTestRound(t *testing.T, inst emu.Instance, shadowApplier ShadowApplier, out PacketSender) *Round {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tangoreplay")
	r, err := New(Config{
		RoundNumber:      1,
		LocalPlayerIndex: 0,
		QueueCapacity:    8,
		LocalDelay:       0,
		Inst:             inst,
		Addrs:            testAddrs(),
		Bufs:             testBufs(),
		Shadow:           shadowApplier,
		Out:              out,
		ReplayPath:       path,
		Meta:             replay.Metadata{LinkCode: "TEST", Round: 1},
		PacketSize:       packetSize,
		Logger:           discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRoundCommitsPairAndEndsOnResult(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrReadJoyflags, addrHandleInput, addrRoundResult})
	inst.WriteMem(txPacketAddr, []byte{1, 2, 3, 4})
	inst.SetReg(0, 1) // OutcomeWin

	remotePkt := []byte{9, 9, 9, 9}
	sender := &fakeSender{}
	r := newTestRound(t, inst, &fakeShadow{packet: remotePkt}, sender)
	r.SetLocalJoyflags(joyflags.A)

	runErr := make(chan error, 1)
	go func() { runErr <- inst.RunFrame() }()

	// Give the goroutine time to reach the blocking handle_input trap
	// before supplying the remote side.
	time.Sleep(20 * time.Millisecond)
	if err := r.PushRemoteInput(wire.Input{RoundNumber: 1, LocalTick: 0, TickDiff: 0, Joyflags: uint16(joyflags.Up)}); err != nil {
		t.Fatalf("PushRemoteInput: %v", err)
	}

	if err := <-runErr; err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("round never reached a terminal state")
	}

	if got := r.State(); got != StateEnded {
		t.Fatalf("State = %v, want %v", got, StateEnded)
	}
	result, ok := r.Result()
	if !ok || result.Outcome != OutcomeWin {
		t.Fatalf("Result = %+v, ok=%v, want OutcomeWin", result, ok)
	}
	if len(sender.sent) != 1 || sender.sent[0].Tag != wire.TagInput {
		t.Fatalf("sent = %+v, want exactly one Input packet", sender.sent)
	}

	rr, err := replay.Read(r.FilePath())
	if err != nil {
		t.Fatalf("replay.Read: %v", err)
	}
	if len(rr.Pairs) != 1 {
		t.Fatalf("replay pairs = %d, want 1", len(rr.Pairs))
	}
	if string(rr.Pairs[0].Remote.Packet) != string(remotePkt) {
		t.Fatalf("replay remote packet = %v, want %v", rr.Pairs[0].Remote.Packet, remotePkt)
	}
}

func TestRoundAbortsOnStallTimeout(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrReadJoyflags, addrHandleInput})
	inst.WriteMem(txPacketAddr, []byte{1, 2, 3, 4})
	r := newTestRound(t, inst, &fakeShadow{}, &fakeSender{})

	// Shrink the wait so the test doesn't take the full 5s: PushRemoteInput
	// is simply never called, so handle_input busy-waits until the
	// shortened StallTimeout expires and the round aborts with ErrTimeout.
	origTimeout := StallTimeout
	StallTimeout = 200 * time.Millisecond
	defer func() { StallTimeout = origTimeout }()

	done := make(chan error, 1)
	go func() { done <- inst.RunFrame() }()

	select {
	case <-r.Done():
	case <-time.After(StallTimeout + 2*time.Second):
		t.Fatal("round never aborted")
	}
	<-done

	if got := r.State(); got != StateAborted {
		t.Fatalf("State = %v, want %v", got, StateAborted)
	}
	if !errors.Is(r.Err(), ErrTimeout) {
		t.Fatalf("Err = %v, want ErrTimeout", r.Err())
	}
}

func TestRoundAbortsOnDesyncTickDiff(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrReadJoyflags, addrHandleInput})
	r := newTestRound(t, inst, &fakeShadow{}, &fakeSender{})

	err := r.PushRemoteInput(wire.Input{RoundNumber: 1, LocalTick: 0, TickDiff: 100, Joyflags: 0})
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("PushRemoteInput = %v, want ErrDesync", err)
	}
	if got := r.State(); got != StateAborted {
		t.Fatalf("State = %v, want %v", got, StateAborted)
	}
}

func TestRoundWrapsShadowFailureAsShadowCrash(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrReadJoyflags, addrHandleInput})
	inst.WriteMem(txPacketAddr, []byte{1, 2, 3, 4})
	r := newTestRound(t, inst, &fakeShadow{}, &fakeSender{})

	go inst.RunFrame()
	time.Sleep(10 * time.Millisecond)

	sh := &fakeShadow{err: errors.New("shadow exploded")}
	r.shadow = sh

	err := r.PushRemoteInput(wire.Input{RoundNumber: 1, LocalTick: 0, TickDiff: 0, Joyflags: uint16(joyflags.A)})
	if !errors.Is(err, ErrShadowCrash) {
		t.Fatalf("PushRemoteInput = %v, want ErrShadowCrash", err)
	}
}
