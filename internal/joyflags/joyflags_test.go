package joyflags

import "testing"

func TestValid(t *testing.T) {
	cases := []struct {
		f    Flags
		want bool
	}{
		{0, true},
		{A | Up, true},
		{mask, true},
		{Flags(1 << 15), false},
		{mask | Flags(1<<10), false},
	}
	for _, c := range cases {
		if got := Valid(c.f); got != c.want {
			t.Errorf("Valid(%#x) = %v, want %v", uint16(c.f), got, c.want)
		}
	}
}

func TestHas(t *testing.T) {
	f := A | Up | Start
	if !f.Has(A | Up) {
		t.Error("expected A|Up to be set")
	}
	if f.Has(B) {
		t.Error("did not expect B to be set")
	}
}

func TestString(t *testing.T) {
	if got := Flags(0).String(); got != "-" {
		t.Errorf("String() = %q, want %q", got, "-")
	}
	if got := (A | Up).String(); got != "A|UP" {
		t.Errorf("String() = %q, want %q", got, "A|UP")
	}
}
