// Command tangod is an example host: it wires config, the match-history
// store, Prometheus metrics, and a full match (lobby, handshake, one
// round, teardown) between two in-process peers connected over an
// in-memory transport and driven by the deterministic fake emulator.
// A real host replaces the transport with internal/transport.Channel
// (negotiated out-of-band by a signaling server, out of scope per
// spec.md §1) and the fake emulator with a real GBA core binding.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tango-netplay/tango/internal/config"
	"github.com/tango-netplay/tango/internal/emu"
	"github.com/tango-netplay/tango/internal/gamedb"
	"github.com/tango-netplay/tango/internal/match"
	"github.com/tango-netplay/tango/internal/metrics"
	"github.com/tango-netplay/tango/internal/store"
	"github.com/tango-netplay/tango/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting tangod",
		"data_dir", cfg.DataDir,
		"replay_dir", cfg.ReplayDir,
		"input_delay", cfg.InputDelay,
		"metrics_addr", cfg.MetricsAddr,
	)

	if cfg.DisableShadow {
		slog.Warn("disable-shadow is configured but the shadow bypass path is not yet wired; running with the shadow runner enabled")
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open match history store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	game, ok := gamedb.Lookup(gamedb.DemoKey)
	if !ok {
		slog.Error("demo game not registered in gamedb")
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	trA, trB := newLoopbackPair()

	startTime := time.Now()
	collector := metrics.NewCollector(nil, nil, nil, trA, st, startTime)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	srv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
	}()

	history := historyAdapter{st}

	mkCfg := func(isOfferer bool, tr match.Transport, nick string) match.Config {
		return match.Config{
			Logger:        logger,
			IsOfferer:     isOfferer,
			LocalSettings: match.Settings{Nickname: nick, MatchType: 1},
			LinkCode:      "DEMO",
			Transport:     tr,
			PrimaryInst:   emu.NewFake([]emu.Addr{game.Traps.ReadJoyflags, game.Traps.HandleInput, game.Traps.RoundResult}),
			ShadowInst:    emu.NewFake([]emu.Addr{game.Traps.ReadJoyflags, game.Traps.HandleInput}),
			ParityInst:    emu.NewFake([]emu.Addr{game.Traps.ReadJoyflags, game.Traps.HandleInput}),
			Game:          game,
			QueueCapacity: cfg.MaxQueueLen,
			LocalDelay:    uint32(cfg.InputDelay),
			ReplaysDir:    cfg.ReplayDir,
			BestOf:        1,
			History:       history,
		}
	}

	mA, err := match.New(mkCfg(true, trA, "alice"))
	if err != nil {
		slog.Error("failed to construct match for alice", "error", err)
		os.Exit(1)
	}
	mB, err := match.New(mkCfg(false, trB, "bob"))
	if err != nil {
		slog.Error("failed to construct match for bob", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	type runOut struct {
		result match.Result
		err    error
	}
	done := make(chan struct{})
	var resA, resB runOut
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); resA.result, resA.err = mA.Run(appCtx) }()
		go func() { defer wg.Done(); resB.result, resB.err = mB.Run(appCtx) }()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if resA.err != nil {
			slog.Error("match ended with error", "side", "alice", "error", resA.err)
		} else {
			slog.Info("match ended", "side", "alice", "outcome", resA.result.Outcome, "local_wins", resA.result.LocalWins, "remote_wins", resA.result.RemoteWins)
		}
		if resB.err != nil {
			slog.Error("match ended with error", "side", "bob", "error", resB.err)
		} else {
			slog.Info("match ended", "side", "bob", "outcome", resB.result.Outcome, "local_wins", resB.result.LocalWins, "remote_wins", resB.result.RemoteWins)
		}
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
		appCancel()
		<-done
	case err := <-srvErr:
		slog.Error("metrics server error", "error", err)
		appCancel()
		<-done
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	slog.Info("tangod stopped")
}

// historyAdapter satisfies match.History by translating match.HistoryRecord
// into store.RoundRecord, keeping internal/match free of a direct
// dependency on internal/store (and the sqlite driver it pulls in).
type historyAdapter struct{ s *store.Store }

func (h historyAdapter) RecordRound(ctx context.Context, r match.HistoryRecord) error {
	return h.s.RecordRound(ctx, store.RoundRecord{
		ID:           r.ID,
		RoundNumber:  r.RoundNumber,
		LinkCode:     r.LinkCode,
		PeerNickname: r.PeerNickname,
		LocalPlayer:  r.LocalPlayer,
		Outcome:      r.Outcome,
		ReplayPath:   r.ReplayPath,
		ROMTitle:     r.ROMTitle,
		StartedAt:    time.Unix(r.StartedAt, 0),
		EndedAt:      time.Unix(r.EndedAt, 0),
	})
}

// loopbackTransport is a process-local stand-in for internal/transport.Channel,
// used here because real peer discovery/signaling is out of scope for the
// match engine (spec.md §1) and this binary's purpose is to demonstrate the
// full match lifecycle end to end without a second machine.
type loopbackTransport struct {
	out     chan wire.Packet
	in      chan wire.Packet
	recvOut chan wire.Packet
	pending chan wire.Packet

	mu   sync.Mutex
	sent uint64
	recv uint64
}

func newLoopbackPair() (*loopbackTransport, *loopbackTransport) {
	a := make(chan wire.Packet, 256)
	b := make(chan wire.Packet, 256)
	ta := &loopbackTransport{out: a, in: b, recvOut: make(chan wire.Packet, 256), pending: make(chan wire.Packet, 256)}
	tb := &loopbackTransport{out: b, in: a, recvOut: make(chan wire.Packet, 256), pending: make(chan wire.Packet, 256)}
	go ta.pump()
	go tb.pump()
	go ta.countRecv()
	go tb.countRecv()
	return ta, tb
}

// countRecv relays from the raw in channel to the channel Recv exposes,
// counting each packet actually delivered to this side.
func (t *loopbackTransport) countRecv() {
	for p := range t.in {
		t.mu.Lock()
		t.recv++
		t.mu.Unlock()
		t.recvOut <- p
	}
}

func (t *loopbackTransport) pump() {
	for p := range t.pending {
		time.Sleep(20 * time.Millisecond)
		t.out <- p
		t.mu.Lock()
		t.sent++
		t.mu.Unlock()
	}
}

func (t *loopbackTransport) Send(p wire.Packet) error {
	t.pending <- p
	return nil
}

func (t *loopbackTransport) Recv() <-chan wire.Packet {
	return t.recvOut
}

func (t *loopbackTransport) WaitOpen(ctx context.Context) error { return nil }
func (t *loopbackTransport) PingNow() error                     { return nil }
func (t *loopbackTransport) RoundTripTimeSeconds() float64      { return 0.02 }

func (t *loopbackTransport) PacketsSentTotal() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

func (t *loopbackTransport) PacketsReceivedTotal() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recv
}
