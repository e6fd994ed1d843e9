package stepper

import (
	"errors"
	"testing"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/joyflags"
)

const (
	addrLogoSkip     emu.Addr = 0x0800_0100
	addrReadJoyflags emu.Addr = 0x0800_1000
	addrHandleInput  emu.Addr = 0x0800_1100

	joyflagsAddr = 0x0200_0000
	txPacketAddr = 0x0200_1000
	rxPacketAddr = 0x0200_2000
)

func testAddrs() hooks.TrapAddrs {
	return hooks.TrapAddrs{
		Common:       []emu.Addr{addrLogoSkip},
		ReadJoyflags: addrReadJoyflags,
		HandleInput:  addrHandleInput,
	}
}

func testBufs() hooks.RegisterBuffers {
	return hooks.RegisterBuffers{JoyflagsAddr: joyflagsAddr, TxPacketAddr: txPacketAddr, RxPacketAddr: rxPacketAddr, PacketSize: 4}
}

func makePairs(n int) []inputqueue.Pair[input.Input, input.Input] {
	pairs := make([]inputqueue.Pair[input.Input, input.Input], n)
	for i := range pairs {
		local := input.Input{LocalTick: uint32(i), Joyflags: joyflags.A, Packet: []byte{byte(i), 1, 2, 3}}
		remote := input.Input{LocalTick: uint32(i), Joyflags: joyflags.Up, Packet: []byte{byte(i), 9, 9, 9}}
		pairs[i] = inputqueue.Pair[input.Input, input.Input]{Local: local, Remote: remote}
	}
	return pairs
}

func TestRunAppliesAllPairsInOrder(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrLogoSkip, addrReadJoyflags, addrHandleInput})
	initial, err := inst.Savestate()
	if err != nil {
		t.Fatalf("initial Savestate: %v", err)
	}
	pairs := makePairs(5)

	s, err := New(inst, initial, testAddrs(), testBufs(), pairs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if left := s.InputPairsLeft(); left != 0 {
		t.Fatalf("InputPairsLeft after Run = %d, want 0", left)
	}
	if err := s.TakeError(); err != nil {
		t.Fatalf("TakeError = %v, want nil", err)
	}

	// handle_input writes the pair's Remote side into the joyflags
	// register, matching the value InstallPrimaryTraps leaves standing
	// at the end of a frame.
	gotJoy := hooks.DecodeJoyflags(inst.ReadMem(joyflagsAddr, 2))
	if gotJoy != joyflags.Up {
		t.Fatalf("final joyflags register = %v, want %v", gotJoy, joyflags.Up)
	}
	gotRx := inst.ReadMem(rxPacketAddr, 4)
	wantRx := pairs[len(pairs)-1].Remote.Packet
	if string(gotRx) != string(wantRx) {
		t.Fatalf("final rx buffer = %v, want %v", gotRx, wantRx)
	}
}

func TestRunPropagatesEmulatorFault(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrLogoSkip, addrReadJoyflags, addrHandleInput})
	initial, _ := inst.Savestate()
	wantFault := errors.New("boom")
	inst.Fault(wantFault)

	s, err := New(inst, initial, testAddrs(), testBufs(), makePairs(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(); err == nil {
		t.Fatal("Run returned nil error, want a wrapped fault")
	}
	if got := s.TakeError(); !errors.Is(got, wantFault) {
		t.Fatalf("TakeError = %v, want wrapping %v", got, wantFault)
	}
	if s.InputPairsLeft() != 3 {
		t.Fatalf("InputPairsLeft = %d, want 3 (no frame ever ran)", s.InputPairsLeft())
	}
}

func TestRunCalledTwiceFails(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrLogoSkip, addrReadJoyflags, addrHandleInput})
	initial, _ := inst.Savestate()
	s, err := New(inst, initial, testAddrs(), testBufs(), makePairs(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := s.Run(); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run = %v, want ErrAlreadyRun", err)
	}
}

func TestSavestateReflectsEndState(t *testing.T) {
	inst := emu.NewFake([]emu.Addr{addrLogoSkip, addrReadJoyflags, addrHandleInput})
	initial, _ := inst.Savestate()
	s, err := New(inst, initial, testAddrs(), testBufs(), makePairs(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	end, err := s.Savestate()
	if err != nil {
		t.Fatalf("Savestate: %v", err)
	}
	if string(end.Bytes) == string(initial.Bytes) {
		t.Fatal("end savestate identical to initial savestate after applying pairs")
	}
}
