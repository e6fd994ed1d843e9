// Package gamedb is the per-cartridge lookup table the match engine
// consults to find a game's trap addresses (spec.md §4.D, §9: "global
// lazily-initialized per-game tables ... map to a single immutable
// lookup table built at startup; lookup by (rom_code, revision)").
//
// The actual per-game offsets are plug-in data outside the match
// engine's scope (spec.md §1) — this package only defines the registry
// shape and ships one demo entry exercised by tests and cmd/tangod.
package gamedb

import (
	"fmt"

	"github.com/tango-netplay/tango/internal/hooks"
)

// Key identifies a cartridge revision.
type Key struct {
	ROMCode  [4]byte
	Revision uint8
}

func (k Key) String() string {
	return fmt.Sprintf("%s/rev%d", k.ROMCode, k.Revision)
}

// Entry is everything the match engine needs to drive one game: its trap
// addresses, its register/buffer layout, and the packet size its
// Input.packet field carries (spec.md §3: "default 16 bytes").
type Entry struct {
	Name       string
	Traps      hooks.TrapAddrs
	Buffers    hooks.RegisterBuffers
	PacketSize int
}

var registry = make(map[Key]Entry)

// Register adds an entry to the global table. Called from init() in
// per-game files, mirroring a static registry built once at startup —
// never mutated after program init.
func Register(key Key, e Entry) {
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("gamedb: duplicate registration for %s", key))
	}
	registry[key] = e
}

// Lookup returns the entry for key, or false if the cartridge is unknown.
func Lookup(key Key) (Entry, bool) {
	e, ok := registry[key]
	return e, ok
}

// Registered returns every known key, for diagnostics and tests.
func Registered() []Key {
	keys := make([]Key, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	return keys
}
