package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tango-netplay/tango/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLoopbackPair wires two PeerConnections together entirely in-process
// (no network, no STUN) by exchanging SDP/ICE directly between the two
// objects — a minimal local signaling loop standing in for the external
// rendezvous service spec.md places out of scope.
func newLoopbackPair(t *testing.T) (offerPC, answerPC *webrtc.PeerConnection) {
	t.Helper()
	var err error
	offerPC, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("offer NewPeerConnection: %v", err)
	}
	answerPC, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("answer NewPeerConnection: %v", err)
	}

	offerPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = answerPC.AddICECandidate(c.ToJSON())
	})
	answerPC.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = offerPC.AddICECandidate(c.ToJSON())
	})

	return offerPC, answerPC
}

func negotiate(t *testing.T, offerPC, answerPC *webrtc.PeerConnection) {
	t.Helper()
	offer, err := offerPC.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := offerPC.SetLocalDescription(offer); err != nil {
		t.Fatalf("offer SetLocalDescription: %v", err)
	}
	if err := answerPC.SetRemoteDescription(offer); err != nil {
		t.Fatalf("answer SetRemoteDescription: %v", err)
	}
	answer, err := answerPC.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := answerPC.SetLocalDescription(answer); err != nil {
		t.Fatalf("answer SetLocalDescription: %v", err)
	}
	if err := offerPC.SetRemoteDescription(answer); err != nil {
		t.Fatalf("offer SetRemoteDescription: %v", err)
	}
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	offerPC, answerPC := newLoopbackPair(t)
	defer offerPC.Close()
	defer answerPC.Close()

	offerCh, err := Offer(offerPC, discardLogger())
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	var answerCh *Channel
	answerReady := make(chan struct{})
	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		answerCh = Answer(answerPC, dc, discardLogger())
		close(answerReady)
	})

	negotiate(t, offerPC, answerPC)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := offerCh.WaitOpen(ctx); err != nil {
		t.Fatalf("offer WaitOpen: %v", err)
	}
	select {
	case <-answerReady:
	case <-ctx.Done():
		t.Fatal("answer side never received a data channel")
	}
	if err := answerCh.WaitOpen(ctx); err != nil {
		t.Fatalf("answer WaitOpen: %v", err)
	}

	hello := wire.Packet{Tag: wire.TagHello, Hello: wire.Hello{ProtocolVersion: 3}}
	if err := offerCh.Send(hello); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-answerCh.Recv():
		if got.Tag != wire.TagHello || got.Hello.ProtocolVersion != 3 {
			t.Fatalf("got = %+v, want Hello{3}", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for packet delivery")
	}

	if offerCh.PacketsSentTotal() != 1 {
		t.Fatalf("PacketsSentTotal = %d, want 1", offerCh.PacketsSentTotal())
	}
}

func TestChannelPingPongMeasuresRTT(t *testing.T) {
	offerPC, answerPC := newLoopbackPair(t)
	defer offerPC.Close()
	defer answerPC.Close()

	offerCh, err := Offer(offerPC, discardLogger())
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	answerReady := make(chan struct{})
	answerPC.OnDataChannel(func(dc *webrtc.DataChannel) {
		Answer(answerPC, dc, discardLogger())
		close(answerReady)
	})
	negotiate(t, offerPC, answerPC)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := offerCh.WaitOpen(ctx); err != nil {
		t.Fatalf("WaitOpen: %v", err)
	}
	<-answerReady

	if err := offerCh.PingNow(); err != nil {
		t.Fatalf("PingNow: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for offerCh.RoundTripTimeSeconds() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if offerCh.RoundTripTimeSeconds() <= 0 {
		t.Fatal("RTT was never observed after ping/pong")
	}
}

func TestChannelSendAfterCloseFails(t *testing.T) {
	offerPC, answerPC := newLoopbackPair(t)
	defer offerPC.Close()
	defer answerPC.Close()

	offerCh, err := Offer(offerPC, discardLogger())
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := offerCh.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := offerCh.Send(wire.Packet{Tag: wire.TagPing}); err != ErrClosed {
		t.Fatalf("Send after close = %v, want ErrClosed", err)
	}
}
