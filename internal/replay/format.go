package replay

import "errors"

// Magic identifies a .tangoreplay file (spec.md §6).
var Magic = [4]byte{'T', 'O', 'O', 'T'}

const (
	// VersionCurrent is the version this package writes.
	VersionCurrent = 0x11
	// VersionLegacy is the last version this package can still read but
	// never writes (no flags or packet_size header bytes).
	VersionLegacy = 0x10
)

// FlagRemoteStatePresent marks that the optional remote_state section
// follows the chunk stream, instead of being reconstructed on read by
// replaying remote inputs through the stepper (spec.md §4.E).
const FlagRemoteStatePresent = 1 << 0

// ErrBadMagic is returned when a file doesn't start with "TOOT".
var ErrBadMagic = errors.New("replay: bad magic, not a tangoreplay file")

// ErrUnsupportedVersion is returned for any version other than
// VersionCurrent or VersionLegacy.
var ErrUnsupportedVersion = errors.New("replay: unsupported version")

// Header is the fixed-layout prefix of a replay file (spec.md §6).
type Header struct {
	Version          uint8
	Flags            uint8
	LocalPlayerIndex uint8
	PacketSize       uint8
	Metadata         Metadata
	InitialState     []byte
}
