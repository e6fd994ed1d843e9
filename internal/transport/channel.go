// Package transport wraps a single reliable, ordered WebRTC data channel
// (spec.md §4.C: "a single negotiated data channel with ordered=true,
// unreliable=false") carrying the framed wire.Packet stream between the
// two match peers. Signaling (SDP/ICE exchange) is out of scope (spec.md
// §1) and is the caller's responsibility — Channel only takes an
// already-negotiated *webrtc.PeerConnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tango-netplay/tango/internal/wire"
)

// ErrClosed is returned by Send after Close; Close also closes the
// channel Recv returns.
var ErrClosed = errors.New("transport: channel closed")

const dataChannelLabel = "tango"

// channelConfig is the negotiated data channel shape spec.md §4.C
// mandates: ordered delivery, no unreliable/partial-reliability mode.
func channelConfig() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

// Channel is a framed, bidirectional packet stream over one WebRTC data
// channel, plus round-trip-time tracking via Ping/Pong (spec.md §4.C).
type Channel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	recvCh chan wire.Packet
	opened chan struct{}
	once   sync.Once
	closed atomic.Bool

	logger *slog.Logger

	rttSeconds   atomic.Value // float64
	packetsSent  atomic.Uint64
	packetsRecvd atomic.Uint64

	pendingPingsMu sync.Mutex
	pendingPings   map[uint64]time.Time
}

// Offer creates a Channel that will negotiate the data channel itself
// (the "offerer" side of spec.md §4.B's player-index designation).
func Offer(pc *webrtc.PeerConnection, logger *slog.Logger) (*Channel, error) {
	dc, err := pc.CreateDataChannel(dataChannelLabel, channelConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: creating data channel: %w", err)
	}
	return wrap(pc, dc, logger), nil
}

// Answer builds a Channel around a data channel the remote peer opened
// (the "answerer" side); hook this into pc.OnDataChannel.
func Answer(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *slog.Logger) *Channel {
	return wrap(pc, dc, logger)
}

func wrap(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *slog.Logger) *Channel {
	c := &Channel{
		pc:           pc,
		dc:           dc,
		recvCh:       make(chan wire.Packet, 256),
		opened:       make(chan struct{}),
		logger:       logger.With("subsystem", "transport"),
		pendingPings: make(map[uint64]time.Time),
	}
	c.rttSeconds.Store(float64(0))

	dc.OnOpen(func() {
		c.once.Do(func() { close(c.opened) })
		c.logger.Info("data channel open")
	})
	dc.OnClose(func() {
		c.logger.Info("data channel closed")
	})
	dc.OnError(func(err error) {
		c.logger.Error("data channel error", "error", err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleMessage(msg.Data)
	})

	return c
}

func (c *Channel) handleMessage(data []byte) {
	pkt, err := wire.Unmarshal(data)
	if err != nil {
		c.logger.Warn("dropping malformed packet", "error", err)
		return
	}
	c.packetsRecvd.Add(1)

	switch pkt.Tag {
	case wire.TagPing:
		_ = c.Send(wire.Packet{Tag: wire.TagPong, Pong: wire.Pong{TS: pkt.Ping.TS}})
		c.deliver(pkt)
	case wire.TagPong:
		c.observeRTT(pkt.Pong.TS)
		c.deliver(pkt)
	default:
		c.deliver(pkt)
	}
}

func (c *Channel) deliver(pkt wire.Packet) {
	select {
	case c.recvCh <- pkt:
	default:
		c.logger.Warn("receive queue full, dropping packet", "tag", pkt.Tag)
	}
}

func (c *Channel) observeRTT(sentAtUnixNano uint64) {
	c.pendingPingsMu.Lock()
	sentAt, ok := c.pendingPings[sentAtUnixNano]
	if ok {
		delete(c.pendingPings, sentAtUnixNano)
	}
	c.pendingPingsMu.Unlock()
	if !ok {
		return
	}
	c.rttSeconds.Store(time.Since(sentAt).Seconds())
}

// WaitOpen blocks until the data channel is open or ctx is cancelled.
func (c *Channel) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send marshals and transmits pkt.
func (c *Channel) Send(pkt wire.Packet) error {
	if c.closed.Load() {
		return ErrClosed
	}
	b, err := wire.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	if err := c.dc.Send(b); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	c.packetsSent.Add(1)
	return nil
}

// Recv returns the channel of packets delivered from the peer, in
// arrival order (the data channel itself guarantees in-order delivery).
func (c *Channel) Recv() <-chan wire.Packet { return c.recvCh }

// PingNow sends a Ping stamped with the current time for RTT measurement.
func (c *Channel) PingNow() error {
	now := uint64(time.Now().UnixNano())
	c.pendingPingsMu.Lock()
	c.pendingPings[now] = time.Now()
	c.pendingPingsMu.Unlock()
	return c.Send(wire.Packet{Tag: wire.TagPing, Ping: wire.Ping{TS: now}})
}

// RoundTripTimeSeconds implements internal/metrics.TransportStatsProvider.
func (c *Channel) RoundTripTimeSeconds() float64 { return c.rttSeconds.Load().(float64) }

// PacketsSentTotal implements internal/metrics.TransportStatsProvider.
func (c *Channel) PacketsSentTotal() uint64 { return c.packetsSent.Load() }

// PacketsReceivedTotal implements internal/metrics.TransportStatsProvider.
func (c *Channel) PacketsReceivedTotal() uint64 { return c.packetsRecvd.Load() }

// Close shuts down the data channel; the underlying PeerConnection is
// left open for its owner to close.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.recvCh)
	if err := c.dc.Close(); err != nil {
		return fmt.Errorf("transport: closing data channel: %w", err)
	}
	return nil
}
