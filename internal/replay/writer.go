package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tango-netplay/tango/internal/input"
	"github.com/tango-netplay/tango/internal/inputqueue"
)

// Writer streams a .tangoreplay file: header + initial savestate are
// written by Open, then every committed pair is appended by WriteInput.
// Structurally this mirrors internal/media/recorder.go's "header now,
// stream chunks, finalize on Stop" shape, but synchronously — replay
// chunks must preserve exact commit order and can never be dropped the
// way a best-effort audio recorder drops packets under backpressure.
type Writer struct {
	mu         sync.Mutex
	f          *os.File
	bw         *bufio.Writer
	packetSize int
	lastTick   uint64
	wroteAny   bool
	finished   bool
	logger     *slog.Logger
	filePath   string
}

// Open creates path (and its parent directories) and writes the replay
// header plus the initial savestate. packetSize is the per-game
// Input.Packet width (spec.md §3, typically 16).
func Open(path string, meta Metadata, localPlayerIndex uint8, packetSize uint8, initialState []byte, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("replay: creating replay directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: creating replay file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := writeHeader(bw, meta, localPlayerIndex, packetSize, initialState); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	w := &Writer{
		f:          f,
		bw:         bw,
		packetSize: int(packetSize),
		logger:     logger.With("subsystem", "replay-writer", "file", path),
		filePath:   path,
	}
	w.logger.Info("replay recording started")
	return w, nil
}

func writeHeader(bw *bufio.Writer, meta Metadata, localPlayerIndex, packetSize uint8, initialState []byte) error {
	if _, err := bw.Write(Magic[:]); err != nil {
		return fmt.Errorf("replay: writing magic: %w", err)
	}
	if err := bw.WriteByte(VersionCurrent); err != nil {
		return fmt.Errorf("replay: writing version: %w", err)
	}
	if err := bw.WriteByte(0); err != nil { // flags: remote state reconstructed on read
		return fmt.Errorf("replay: writing flags: %w", err)
	}
	if err := bw.WriteByte(localPlayerIndex); err != nil {
		return fmt.Errorf("replay: writing local_player_index: %w", err)
	}
	if err := bw.WriteByte(packetSize); err != nil {
		return fmt.Errorf("replay: writing packet_size: %w", err)
	}

	metaBytes := MarshalMetadata(meta)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(metaBytes)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("replay: writing metadata_len: %w", err)
	}
	if _, err := bw.Write(metaBytes); err != nil {
		return fmt.Errorf("replay: writing metadata: %w", err)
	}

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(initialState)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("replay: writing initial_state_len: %w", err)
	}
	if _, err := bw.Write(initialState); err != nil {
		return fmt.Errorf("replay: writing initial_state: %w", err)
	}
	return nil
}

// WriteInput appends one committed pair as a chunk. pair.Local and
// pair.Remote must each carry a Packet of exactly the writer's
// packetSize bytes.
func (w *Writer) WriteInput(pair inputqueue.Pair[input.Input, input.Input]) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return fmt.Errorf("replay: WriteInput after Finish")
	}
	if len(pair.Local.Packet) != w.packetSize || len(pair.Remote.Packet) != w.packetSize {
		return fmt.Errorf("replay: packet length mismatch: local=%d remote=%d want %d",
			len(pair.Local.Packet), len(pair.Remote.Packet), w.packetSize)
	}

	tick := uint64(pair.Local.LocalTick)
	var delta uint64
	if w.wroteAny {
		if tick < w.lastTick {
			return fmt.Errorf("replay: non-monotonic tick %d after %d", tick, w.lastTick)
		}
		delta = tick - w.lastTick
	} else {
		delta = tick
	}

	var buf []byte
	buf = protowire.AppendVarint(buf, delta)
	if _, err := w.bw.Write(buf); err != nil {
		return fmt.Errorf("replay: writing tick_delta: %w", err)
	}

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(pair.Local.Joyflags))
	if _, err := w.bw.Write(u16[:]); err != nil {
		return fmt.Errorf("replay: writing local_joyflags: %w", err)
	}
	binary.LittleEndian.PutUint16(u16[:], uint16(pair.Remote.Joyflags))
	if _, err := w.bw.Write(u16[:]); err != nil {
		return fmt.Errorf("replay: writing remote_joyflags: %w", err)
	}
	if _, err := w.bw.Write(pair.Local.Packet); err != nil {
		return fmt.Errorf("replay: writing local_packet: %w", err)
	}
	if _, err := w.bw.Write(pair.Remote.Packet); err != nil {
		return fmt.Errorf("replay: writing remote_packet: %w", err)
	}

	w.lastTick = tick
	w.wroteAny = true
	return nil
}

// Finish flushes and closes the file. It is safe to call on an aborted
// round: per spec.md §4.H, an aborted round's replay is still
// finalized, truncated at whatever chunk was last committed.
func (w *Writer) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("replay: flushing: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("replay: closing: %w", err)
	}
	w.logger.Info("replay recording finished")
	return nil
}

// FilePath returns the path this writer is writing to.
func (w *Writer) FilePath() string {
	return w.filePath
}
