package input

import "testing"

func TestWithPacket(t *testing.T) {
	p := PartialInput{RoundNumber: 1, LocalTick: 100, RemoteTick: 102, Joyflags: 0x3}
	full := p.WithPacket([]byte{1, 2, 3})
	if full.TickDiff != 2 {
		t.Errorf("TickDiff = %d, want 2", full.TickDiff)
	}
	if full.RemoteTick() != 102 {
		t.Errorf("RemoteTick() = %d, want 102", full.RemoteTick())
	}
}

// S4 from spec.md §8: tick_diff=40 with MaxLag=32 must fail.
func TestScenarioS4(t *testing.T) {
	if err := CheckTickDiff(40); err == nil {
		t.Fatal("expected an error for tick_diff=40 with MaxLag=32")
	}
	if err := CheckTickDiff(-40); err == nil {
		t.Fatal("expected an error for tick_diff=-40 with MaxLag=32")
	}
	if err := CheckTickDiff(32); err != nil {
		t.Errorf("CheckTickDiff(32) = %v, want nil (at the boundary)", err)
	}
	if err := CheckTickDiff(-32); err != nil {
		t.Errorf("CheckTickDiff(-32) = %v, want nil (at the boundary)", err)
	}
}
