// Package relay implements TTL-bounded flood relay with loop suppression.
package relay

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/storage"
)

// Decision is the outcome of offering a foreign frame to the engine.
type Decision int

const (
	// DecisionQueued means the frame now occupies the pending slot.
	DecisionQueued Decision = iota
	// DecisionSelfEcho means our own frame came back; stop listening.
	DecisionSelfEcho
	// DecisionExpired means the hop budget is spent.
	DecisionExpired
	// DecisionSuppressed means the sender is inside the history window.
	DecisionSuppressed
	// DecisionSlotBusy means a relay candidate is already pending.
	DecisionSlotBusy
	// DecisionMalformed means the frame is not a valid telemetry frame.
	DecisionMalformed
)

func (d Decision) String() string {
	switch d {
	case DecisionQueued:
		return "queued"
	case DecisionSelfEcho:
		return "self-echo"
	case DecisionExpired:
		return "expired"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionSlotBusy:
		return "slot-busy"
	case DecisionMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Engine owns the pending relay slot and the history window. It is driven
// only from the tick goroutine.
type Engine struct {
	own        uint32
	cipher     hal.Cipher
	history    History
	pending    [frame.Size]byte
	hasPending bool
	logger     *zap.Logger
}

// NewEngine creates an Engine for the node identified by own.
func NewEngine(own uint32, cipher hal.Cipher, logger *zap.Logger) *Engine {
	return &Engine{own: own, cipher: cipher, logger: logger}
}

// Handle decides the fate of one decrypted 16-byte foreign frame. On
// DecisionQueued the frame has its TTL decremented, is re-encrypted into the
// pending slot, and its sender enters the history window.
func (e *Engine) Handle(plain []byte) (Decision, error) {
	if len(plain) != frame.Size {
		return DecisionMalformed, nil
	}
	sender := frame.SenderOf(plain)
	ttl := frame.TTLOf(plain)

	switch {
	case sender == e.own:
		return DecisionSelfEcho, nil
	case sender == 0:
		return DecisionMalformed, nil
	case ttl <= 1:
		return DecisionExpired, nil
	case e.history.Contains(sender):
		return DecisionSuppressed, nil
	case e.hasPending:
		return DecisionSlotBusy, nil
	}

	var buf [frame.Size]byte
	copy(buf[:], plain)
	frame.SetTTL(buf[:], ttl-1)
	if err := e.cipher.Encrypt(e.pending[:], buf[:]); err != nil {
		return DecisionMalformed, fmt.Errorf("re-encrypt relay frame: %w", err)
	}
	e.hasPending = true
	e.history.Push(sender)

	e.logger.Debug("Relay queued",
		zap.Uint32("sender", sender),
		zap.Uint8("ttl", ttl-1),
	)
	return DecisionQueued, nil
}

// TakePending returns the encrypted pending frame and empties the slot.
func (e *Engine) TakePending() ([frame.Size]byte, bool) {
	if !e.hasPending {
		return [frame.Size]byte{}, false
	}
	out := e.pending
	e.pending = [frame.Size]byte{}
	e.hasPending = false
	return out, true
}

// HasPending reports whether a relay candidate is waiting.
func (e *Engine) HasPending() bool { return e.hasPending }

// History returns a copy of the loop-suppression window.
func (e *Engine) History() History { return e.history }

// Reset discards the pending slot and history, used on the first boot.
func (e *Engine) Reset() {
	e.history.Clear()
	e.pending = [frame.Size]byte{}
	e.hasPending = false
}

// Restore loads engine state from a checkpoint.
func (e *Engine) Restore(cp storage.Checkpoint) {
	e.history = History(cp.History)
	e.hasPending = cp.RelayPending
	if e.hasPending {
		e.pending = cp.RelayFrame
	} else {
		e.pending = [frame.Size]byte{}
	}
}

// Checkpoint copies engine state into cp.
func (e *Engine) Checkpoint(cp *storage.Checkpoint) {
	cp.History = e.history
	cp.RelayPending = e.hasPending
	cp.RelayFrame = e.pending
}
