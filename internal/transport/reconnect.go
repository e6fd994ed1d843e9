package transport

import (
	"context"
	"log/slog"
	"time"
)

// DialFunc negotiates and returns a fresh Channel. Signaling itself
// (SDP/ICE exchange) is outside the match engine's scope (spec.md §1);
// the host supplies DialFunc wired to its own signaling client.
type DialFunc func(ctx context.Context) (*Channel, error)

// DialWithBackoff calls dial until it succeeds or ctx is cancelled,
// waiting with exponential backoff between attempts. A host can call it
// to re-establish the data channel after a drop without the two peers
// redialing in lockstep; nothing in this module calls it.
func DialWithBackoff(ctx context.Context, dial DialFunc, logger *slog.Logger) (*Channel, error) {
	b := newBackoff()
	for {
		ch, err := dial(ctx)
		if err == nil {
			return ch, nil
		}
		delay := b.next()
		logger.Warn("dial failed, retrying", "error", err, "delay", delay, "attempt", b.attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
