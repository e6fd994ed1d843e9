// Package rng implements the Mcg128Xsl64 generator: a 128-bit
// multiplicative-congruential PCG variant with an XSL-RR 64-bit output
// function. Both peers in a match seed an instance of this exact
// generator from the same shared seed (see internal/handshake) and must
// derive byte-identical draws from it — this rules out math/rand, whose
// algorithm is unspecified and may change between Go releases.
package rng

import "math/bits"

// multiplier is the constant used by the reference PCG128 MCG stream;
// taken from O'Neill's PCG reference implementation.
const multiplier uint64 = 0x2360ed051fc65da4
const multiplierLow uint64 = 0x4385df649fccf645

// Mcg128Xsl64 is a 128-bit-state, 64-bit-output multiplicative
// congruential generator (no increment: state' = state * multiplier).
type Mcg128Xsl64 struct {
	hi, lo uint64
}

// New seeds a generator from a 16-byte shared seed, high byte first.
func New(seed [16]byte) *Mcg128Xsl64 {
	hi := beUint64(seed[:8])
	lo := beUint64(seed[8:])
	g := &Mcg128Xsl64{hi: hi, lo: lo}
	// The MCG has no increment step and must start from an odd state;
	// bump once, then force the low bit so seed=0 doesn't produce a
	// degenerate all-zero stream.
	g.step()
	g.lo |= 1
	return g
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// step advances the 128-bit state by one multiplicative-congruential
// iteration: state *= M (mod 2^128), where state = (hi:lo) and
// M = (multiplier:multiplierLow).
func (g *Mcg128Xsl64) step() {
	// state*M = (hi*2^64+lo)*(multiplier*2^64+multiplierLow); the
	// hi*multiplier*2^128 term vanishes mod 2^128, leaving
	// new_lo = low 64 bits of lo*multiplierLow, and new_hi = the carry
	// out of that product plus the two cross terms hi*multiplierLow and
	// lo*multiplier.
	carry, newLo := bits.Mul64(g.lo, multiplierLow)
	newHi := carry + g.hi*multiplierLow + g.lo*multiplier
	g.lo = newLo
	g.hi = newHi
}

// Uint64 advances the generator and returns the next 64-bit output via
// the XSL-RR (xorshift-low, random-rotate) output permutation.
func (g *Mcg128Xsl64) Uint64() uint64 {
	g.step()
	xored := g.hi ^ g.lo
	rot := uint(g.hi >> 58)
	return bits.RotateLeft64(xored, -int(rot))
}

// Uint32 returns the low 32 bits of the next Uint64 draw.
func (g *Mcg128Xsl64) Uint32() uint32 {
	return uint32(g.Uint64())
}

// Intn returns a uniform value in [0,n). n must be > 0.
func (g *Mcg128Xsl64) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn called with n <= 0")
	}
	return int(g.Uint64() % uint64(n))
}
