package relay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/relay"
	"github.com/Alexey-Lukin/silken-net/internal/sim"
	"github.com/Alexey-Lukin/silken-net/internal/storage"
)

const ownDID = 0x0000BEEF

func setupEngine(t *testing.T) (*relay.Engine, *sim.ECBCipher) {
	t.Helper()
	c, err := sim.NewECBCipher(sim.NetworkKey)
	require.NoError(t, err)
	return relay.NewEngine(ownDID, c, zap.NewNop()), c
}

func foreign(did uint32, ttl uint8) []byte {
	b := frame.Telemetry{SenderDID: did, CapacitorMV: 3000, TTL: ttl}.Encode()
	return b[:]
}

func offer(t *testing.T, e *relay.Engine, did uint32, ttl uint8) relay.Decision {
	t.Helper()
	d, err := e.Handle(foreign(did, ttl))
	require.NoError(t, err)
	return d
}

// drain emulates the RelayEmit phase of a tick.
func drain(e *relay.Engine) { e.TakePending() }

func TestRelayDecrementsTTL(t *testing.T) {
	e, c := setupEngine(t)
	assert.Equal(t, relay.DecisionQueued, offer(t, e, 1, 3))

	enc, ok := e.TakePending()
	require.True(t, ok)
	plain := make([]byte, frame.Size)
	require.NoError(t, c.Decrypt(plain, enc[:]))
	assert.Equal(t, uint8(2), frame.TTLOf(plain))
	assert.Equal(t, uint32(1), frame.SenderOf(plain))

	_, ok = e.TakePending()
	assert.False(t, ok)
}

func TestRelayTTLStrictlyDecreases(t *testing.T) {
	for ttl := uint8(0); ttl <= 6; ttl++ {
		e, c := setupEngine(t)
		d := offer(t, e, 77, ttl)
		if ttl <= 1 {
			assert.Equal(t, relay.DecisionExpired, d, "ttl %d", ttl)
			assert.False(t, e.HasPending())
			continue
		}
		require.Equal(t, relay.DecisionQueued, d, "ttl %d", ttl)
		enc, _ := e.TakePending()
		plain := make([]byte, frame.Size)
		require.NoError(t, c.Decrypt(plain, enc[:]))
		assert.Less(t, frame.TTLOf(plain), ttl)
		assert.NotZero(t, frame.TTLOf(plain))
	}
}

func TestSelfEchoAlwaysDropped(t *testing.T) {
	e, _ := setupEngine(t)
	for _, ttl := range []uint8{0, 1, 3, 5, 255} {
		assert.Equal(t, relay.DecisionSelfEcho, offer(t, e, ownDID, ttl))
	}
	assert.False(t, e.HasPending())
	assert.Zero(t, e.History().Len())
}

func TestSlotBusyDropsWithoutHistory(t *testing.T) {
	e, _ := setupEngine(t)
	assert.Equal(t, relay.DecisionQueued, offer(t, e, 1, 3))
	assert.Equal(t, relay.DecisionSlotBusy, offer(t, e, 2, 3))
	assert.False(t, e.History().Contains(2))
}

func TestMalformedFrames(t *testing.T) {
	e, _ := setupEngine(t)
	d, err := e.Handle(make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, relay.DecisionMalformed, d)
	assert.Equal(t, relay.DecisionMalformed, offer(t, e, 0, 3))
}

func TestLoopSuppressionWindow(t *testing.T) {
	e, _ := setupEngine(t)

	for _, did := range []uint32{1, 2, 3} {
		assert.Equal(t, relay.DecisionQueued, offer(t, e, did, 3))
		drain(e)
	}
	assert.Equal(t, relay.History{3, 2, 1}, e.History())

	// 1 is still inside the window.
	assert.Equal(t, relay.DecisionSuppressed, offer(t, e, 1, 3))

	assert.Equal(t, relay.DecisionQueued, offer(t, e, 4, 3))
	drain(e)
	assert.Equal(t, relay.History{4, 3, 2}, e.History())

	// 1 was evicted by 4.
	assert.Equal(t, relay.DecisionQueued, offer(t, e, 1, 3))
	assert.Equal(t, relay.History{1, 4, 3}, e.History())
}

func TestHistoryPushDuplicateIsNoop(t *testing.T) {
	var h relay.History
	h.Push(5)
	h.Push(6)
	h.Push(5)
	assert.Equal(t, relay.History{6, 5, 0}, h)
	assert.Equal(t, 2, h.Len())
	assert.False(t, h.Contains(0))
}

func TestCheckpointRestore(t *testing.T) {
	e, c := setupEngine(t)
	offer(t, e, 10, 5)

	var cp storage.Checkpoint
	e.Checkpoint(&cp)
	assert.True(t, cp.RelayPending)
	assert.Equal(t, [3]uint32{10, 0, 0}, cp.History)

	restored := relay.NewEngine(ownDID, c, zap.NewNop())
	restored.Restore(cp)
	assert.True(t, restored.HasPending())
	assert.Equal(t, relay.DecisionSuppressed, offer(t, restored, 10, 5))

	restored.Reset()
	assert.False(t, restored.HasPending())
	assert.Zero(t, restored.History().Len())
}
