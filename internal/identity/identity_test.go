package identity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/storage"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

type fixedHW struct {
	uid [3]uint32
	err error
}

func (f fixedHW) UniqueID() ([3]uint32, error) { return f.uid, f.err }

type seqEntropy struct {
	vals []uint32
	err  error
}

func (s *seqEntropy) Uint32() (uint32, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v, nil
}

func setupState(t *testing.T) *storage.NodeState {
	t.Helper()
	ns := storage.New(local.NewMemoryStore(zap.NewNop()), zap.NewNop())
	require.NoError(t, ns.Init())
	t.Cleanup(func() { ns.Close() })
	return ns
}

func TestDeriveMixesWords(t *testing.T) {
	uid := [3]uint32{0x11111111, 0x2, 0x80}
	want := identity.DID(0x11111111 ^ (0x2 << 5) ^ (0x80 >> 3) ^ 0xABCD)
	assert.Equal(t, want, identity.Derive(uid, 0xABCD))
}

func TestDeriveZeroUsesFallback(t *testing.T) {
	assert.Equal(t, identity.Fallback, identity.Derive([3]uint32{}, 0))
}

func TestIdentityStableAcrossReboots(t *testing.T) {
	ns := setupState(t)
	hw := fixedHW{uid: [3]uint32{0xCAFE, 0xBEEF, 0xF00D}}
	rng := &seqEntropy{vals: []uint32{1, 2, 3, 4, 5}}

	first, firstBoot, err := identity.LoadOrCreate(ns, hw, rng)
	require.NoError(t, err)
	assert.True(t, firstBoot)
	assert.NotZero(t, first)

	// Relay state written between boots never influences the identity.
	require.NoError(t, ns.Persist(storage.Checkpoint{RelayPending: true, History: [3]uint32{9, 8, 7}}))

	for i := 0; i < 4; i++ {
		did, firstBoot, err := identity.LoadOrCreate(ns, hw, rng)
		require.NoError(t, err)
		assert.False(t, firstBoot)
		assert.Equal(t, first, did)
	}
}

func TestIdentitySourceFailure(t *testing.T) {
	ns := setupState(t)
	_, _, err := identity.LoadOrCreate(ns, fixedHW{err: errors.New("bus fault")}, &seqEntropy{})
	assert.ErrorIs(t, err, identity.ErrIdentitySource)

	_, _, err = identity.LoadOrCreate(ns, fixedHW{}, &seqEntropy{err: errors.New("rng seed error")})
	assert.ErrorIs(t, err, identity.ErrIdentitySource)

	did, err := identity.Pin(ns, 0)
	require.NoError(t, err)
	assert.Equal(t, identity.Fallback, did)

	again, firstBoot, err := identity.LoadOrCreate(ns, fixedHW{err: errors.New("bus fault")}, &seqEntropy{})
	require.NoError(t, err)
	assert.False(t, firstBoot)
	assert.Equal(t, identity.Fallback, again)
}

func TestDIDString(t *testing.T) {
	assert.Equal(t, "511CEE01", identity.Fallback.String())
}
