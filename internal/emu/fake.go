package emu

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// Fake is a small, fully deterministic Instance used by tests and by
// cmd/tangod's demo wiring. It has no real CPU: each call to RunFrame
// walks a scripted list of addresses ("the instructions this frame
// executes") and fires whichever trap is installed at each one, mutating
// a flat register file and byte-addressable memory space exactly like a
// real trap handler would.
type Fake struct {
	regs [16]uint32
	mem  map[uint32][]byte
	pc   []Addr // addresses visited on every RunFrame call, in order
	trap map[Addr]TrapFunc
	tick uint32
	av   bool
	fault error
}

// NewFake constructs a Fake whose RunFrame visits framePCs, in order, on
// every frame. A real ROM's instruction trace is irregular; tests
// instead configure the exact trap addresses they care about.
func NewFake(framePCs []Addr) *Fake {
	return &Fake{
		mem:  make(map[uint32][]byte),
		pc:   framePCs,
		trap: make(map[Addr]TrapFunc),
		av:   true,
	}
}

func (f *Fake) InstallTrap(addr Addr, fn TrapFunc) { f.trap[addr] = fn }
func (f *Fake) RemoveTrap(addr Addr)               { delete(f.trap, addr) }
func (f *Fake) DisableAV()                         { f.av = false }

// Tick returns the number of frames executed so far.
func (f *Fake) Tick() uint32 { return f.tick }

func (f *Fake) RunFrame() error {
	if f.fault != nil {
		return f.fault
	}
	for _, addr := range f.pc {
		if fn, ok := f.trap[addr]; ok {
			fn(f)
		}
	}
	f.tick++
	return nil
}

// Fault marks the fake as crashed; subsequent RunFrame calls return err.
func (f *Fake) Fault(err error) { f.fault = err }

func (f *Fake) Reg(r int) uint32      { return f.regs[r] }
func (f *Fake) SetReg(r int, v uint32) { f.regs[r] = v }

func (f *Fake) ReadMem(addr uint32, n int) []byte {
	b := make([]byte, n)
	src := f.mem[addr]
	copy(b, src)
	return b
}

func (f *Fake) WriteMem(addr uint32, b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	f.mem[addr] = cp
}

func (f *Fake) StepOver() {}

// Savestate serializes the register file, tick counter, and every
// written memory region into a deterministic byte blob.
func (f *Fake) Savestate() (Savestate, error) {
	buf := make([]byte, 0, 256)
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], f.tick)
	buf = append(buf, hdr[:]...)
	for i := 0; i < 16; i++ {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], f.regs[i])
		buf = append(buf, b[:]...)
	}
	// Memory is serialized in a stable, sorted-by-address order so the
	// resulting bytes are reproducible across runs (map iteration is
	// not ordered in Go).
	addrs := make([]uint32, 0, len(f.mem))
	for a := range f.mem {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	for _, a := range addrs {
		v := f.mem[a]
		var entry [8]byte
		binary.LittleEndian.PutUint32(entry[0:4], a)
		binary.LittleEndian.PutUint32(entry[4:8], uint32(len(v)))
		buf = append(buf, entry[:]...)
		buf = append(buf, v...)
	}
	return Savestate{Bytes: buf, ROMTitle: "FAKE", ROMCRC32: 0}, nil
}

func (f *Fake) LoadSavestate(s Savestate) error {
	b := s.Bytes
	if len(b) < 4+16*4 {
		return fmt.Errorf("emu: fake savestate too short: %d bytes", len(b))
	}
	f.tick = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := 0; i < 16; i++ {
		f.regs[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	f.mem = make(map[uint32][]byte)
	for off < len(b) {
		if off+8 > len(b) {
			return fmt.Errorf("emu: fake savestate truncated at offset %d", off)
		}
		addr := binary.LittleEndian.Uint32(b[off : off+4])
		n := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if off+n > len(b) {
			return fmt.Errorf("emu: fake savestate truncated region at offset %d", off)
		}
		v := make([]byte, n)
		copy(v, b[off:off+n])
		f.mem[addr] = v
		off += n
	}
	return nil
}
