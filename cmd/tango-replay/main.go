// Command tango-replay inspects and transforms .tangoreplay files
// (spec.md §6): invert swaps local/remote perspective, metadata dumps
// the embedded protobuf header as JSON, wram extracts the initial
// savestate, and text renders the chunk stream for diffing.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/gamedb"
	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
	"github.com/tango-netplay/tango/internal/replay"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "invert":
		err = runInvert(os.Args[2:])
	case "metadata":
		err = runMetadata(os.Args[2:])
	case "wram":
		err = runWRAM(os.Args[2:])
	case "text":
		err = runText(os.Args[2:])
	case "remote":
		err = runRemote(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tango-replay <invert|metadata|wram|text|remote> <args...>")
	fmt.Fprintln(os.Stderr, "  invert <in> <out>   swap local/remote sides in a replay")
	fmt.Fprintln(os.Stderr, "  metadata <in>       print metadata as JSON to stdout")
	fmt.Fprintln(os.Stderr, "  wram <in>           write initial WRAM image to stdout")
	fmt.Fprintln(os.Stderr, "  text <in>           one line per chunk")
	fmt.Fprintln(os.Stderr, "  remote <in>         reconstruct the remote side's final WRAM image, write to stdout")
}

func runInvert(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("invert: expected <in> <out>")
	}
	rr, err := replay.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	invertedMeta := rr.Metadata
	invertedMeta.LocalSide, invertedMeta.RemoteSide = rr.Metadata.RemoteSide, rr.Metadata.LocalSide
	invertedLPI := 1 - rr.LocalPlayerIndex

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	w, err := replay.Open(args[1], invertedMeta, invertedLPI, rr.PacketSize, rr.InitialState, logger)
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[1], err)
	}
	for _, pair := range rr.Pairs {
		swapped := inputqueue.Pair[input.Input, input.Input]{Local: pair.Remote, Remote: pair.Local}
		if err := w.WriteInput(swapped); err != nil {
			return fmt.Errorf("writing inverted chunk: %w", err)
		}
	}
	if err := w.Finish(); err != nil {
		return fmt.Errorf("finishing %s: %w", args[1], err)
	}
	return nil
}

func runMetadata(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("metadata: expected <in>")
	}
	rr, err := replay.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rr.Metadata)
}

func runWRAM(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("wram: expected <in>")
	}
	rr, err := replay.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	_, err = os.Stdout.Write(rr.InitialState)
	return err
}

func runText(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("text: expected <in>")
	}
	rr, err := replay.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	for _, pair := range rr.Pairs {
		fmt.Printf("tick=%x, l=%s %s, r=%s %s\n",
			pair.Local.LocalTick,
			pair.Local.Joyflags.String(),
			hex.EncodeToString(pair.Local.Packet),
			pair.Remote.Joyflags.String(),
			hex.EncodeToString(pair.Remote.Packet),
		)
	}
	return nil
}

// runRemote reconstructs the remote side's final savestate by replaying
// the file's recorded remote inputs through the stepper, rather than
// trusting any state the peer might have reported over the wire. Only
// the demo cartridge's trap table is registered in this tree, so that
// is what drives the replay.
func runRemote(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("remote: expected <in>")
	}
	rr, err := replay.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	entry, ok := gamedb.Lookup(gamedb.DemoKey)
	if !ok {
		return fmt.Errorf("remote: gamedb.DemoKey not registered")
	}

	framePCs := append([]emu.Addr{}, entry.Traps.Common...)
	framePCs = append(framePCs, entry.Traps.ReadJoyflags, entry.Traps.HandleInput)
	inst := emu.NewFake(framePCs)

	end, err := rr.Reconstruct(inst, entry.Traps, entry.Buffers)
	if err != nil {
		return fmt.Errorf("reconstructing remote state for %s: %w", args[0], err)
	}
	_, err = os.Stdout.Write(end.Bytes)
	return err
}
