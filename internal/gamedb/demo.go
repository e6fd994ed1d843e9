package gamedb

import (
	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/hooks"
)

// DemoKey is a synthetic cartridge used by internal/emu.Fake-backed
// tests and cmd/tangod's demo host — there is no real ROM behind it.
var DemoKey = Key{ROMCode: [4]byte{'T', 'A', 'N', 'G'}, Revision: 0}

func init() {
	Register(DemoKey, Entry{
		Name: "Tango Demo Match",
		Traps: hooks.TrapAddrs{
			Common:       []emu.Addr{0x0800_0100},
			ReadJoyflags: 0x0800_1000,
			HandleInput:  0x0800_1100,
			RoundResult:  0x0800_1200,
		},
		Buffers: hooks.RegisterBuffers{
			JoyflagsAddr: 0x0200_0000,
			TxPacketAddr: 0x0200_1000,
			RxPacketAddr: 0x0200_2000,
			PacketSize:   16,
		},
		PacketSize: 16,
	})
}
