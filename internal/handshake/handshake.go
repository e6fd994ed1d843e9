// Package handshake implements the commit-reveal RNG seed exchange from
// spec.md §4.B: both peers draw a nonce, commit to it with a BLAKE3
// digest, then reveal and verify, so that neither peer can bias the
// shared seed that drives per-round stage/turn-order RNG.
package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// ErrCommitMismatch is returned when a revealed nonce does not hash to
// the commitment the peer sent earlier (spec.md §7).
var ErrCommitMismatch = errors.New("handshake: revealed nonce does not match commitment")

// ErrAlreadyCommitted is returned by Uncommit when there is no
// outstanding commitment to retract.
var ErrAlreadyCommitted = errors.New("handshake: no commitment to retract")

// NonceSize is the width of the commit-reveal nonce, in bytes.
const NonceSize = 16

// CommitSize is the width of a commitment digest, in bytes.
const CommitSize = 16

// Nonce is an OS-drawn random value a peer commits to before reveal.
type Nonce [NonceSize]byte

// Commitment is BLAKE3(nonce) truncated to the first CommitSize bytes.
type Commitment [CommitSize]byte

// NegotiatedState is what a peer reveals after both commitments have
// been exchanged: its nonce plus any save data needed to start the
// round (e.g. a savestate fragment), per spec.md §4.B step 3.
type NegotiatedState struct {
	Nonce    Nonce
	SaveData []byte
}

// NewNonce draws a fresh OS-grade random nonce.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("handshake: drawing nonce: %w", err)
	}
	return n, nil
}

// Commit computes the commitment a peer sends before revealing n.
func Commit(n Nonce) Commitment {
	h := blake3.New()
	h.Write(n[:])
	sum := h.Sum(nil)
	var c Commitment
	copy(c[:], sum[:CommitSize])
	return c
}

// Verify checks that reveal hashes to the previously-sent commitment,
// using a constant-time comparison so a failed verification leaks no
// timing information about which byte first diverged.
func Verify(commitment Commitment, reveal Nonce) error {
	got := Commit(reveal)
	if subtle.ConstantTimeCompare(got[:], commitment[:]) != 1 {
		return ErrCommitMismatch
	}
	return nil
}

// Side is one participant's half of the handshake: its own nonce/commit
// and whatever it has learned about the peer so far.
type Side struct {
	local      Nonce
	commitSent bool

	peerCommitment *Commitment
	peerState      *NegotiatedState
}

// NewSide draws a local nonce and prepares a Side ready to commit.
func NewSide() (*Side, error) {
	n, err := NewNonce()
	if err != nil {
		return nil, err
	}
	return &Side{local: n}, nil
}

// LocalCommitment returns the Commit message to send to the peer. It is
// idempotent: calling it again after Uncommit re-commits to the same
// local nonce.
func (s *Side) LocalCommitment() Commitment {
	s.commitSent = true
	return Commit(s.local)
}

// Uncommit retracts an outstanding local commitment, per spec.md §4.B
// ("Uncommit allows either peer to retract a commit ... if the lobby
// settings change").
func (s *Side) Uncommit() error {
	if !s.commitSent {
		return ErrAlreadyCommitted
	}
	s.commitSent = false
	return nil
}

// LocalReveal returns the NegotiatedState this side sends after
// receiving the peer's commitment.
func (s *Side) LocalReveal(saveData []byte) NegotiatedState {
	return NegotiatedState{Nonce: s.local, SaveData: saveData}
}

// ReceivePeerCommitment records the peer's Commit message.
func (s *Side) ReceivePeerCommitment(c Commitment) {
	cp := c
	s.peerCommitment = &cp
}

// ReceivePeerReveal verifies and records the peer's revealed state. It
// fails if no peer commitment has been recorded yet, or if the reveal
// does not match it.
func (s *Side) ReceivePeerReveal(state NegotiatedState) error {
	if s.peerCommitment == nil {
		return fmt.Errorf("handshake: received reveal before commitment")
	}
	if err := Verify(*s.peerCommitment, state.Nonce); err != nil {
		return err
	}
	st := state
	s.peerState = &st
	return nil
}

// Seed derives the shared per-round PRNG seed once both sides have
// revealed: local.nonce XOR remote.nonce (spec.md §4.B step 5).
func (s *Side) Seed() ([16]byte, error) {
	if s.peerState == nil {
		return [16]byte{}, fmt.Errorf("handshake: peer has not revealed yet")
	}
	var seed [16]byte
	for i := 0; i < NonceSize; i++ {
		seed[i] = s.local[i] ^ s.peerState.Nonce[i]
	}
	return seed, nil
}

// PeerSaveData returns the save data the peer revealed, once available.
func (s *Side) PeerSaveData() ([]byte, bool) {
	if s.peerState == nil {
		return nil, false
	}
	return s.peerState.SaveData, true
}
