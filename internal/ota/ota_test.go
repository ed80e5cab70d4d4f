package ota_test

import (
	"bytes"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
	"github.com/Alexey-Lukin/silken-net/internal/sim"
)

const block = frame.Size

func image(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i*7 + 1)
	}
	return img
}

// wire pads and decodes a chunk the way it appears after a radio hop.
func wire(t *testing.T, c frame.Chunk) frame.Chunk {
	t.Helper()
	out, err := frame.DecodeChunk(c.Encode(block))
	require.NoError(t, err)
	return out
}

func TestBroadcasterCycles(t *testing.T) {
	b, err := ota.NewBroadcaster(image(40), block, false)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Total())

	var seen []uint8
	for i := 0; i < 9; i++ {
		c, ok := b.Next()
		require.True(t, ok)
		assert.Equal(t, uint8(4), c.Total)
		seen = append(seen, c.Index)
	}
	assert.Equal(t, []uint8{0, 1, 2, 3, 0, 1, 2, 3, 0}, seen)
	assert.Equal(t, 2, b.Progress().Passes)
	assert.True(t, b.Active())
}

func TestBroadcasterSinglePass(t *testing.T) {
	b, err := ota.NewBroadcaster(image(26), block, true)
	require.NoError(t, err)
	for i := 0; i < b.Total(); i++ {
		_, ok := b.Next()
		require.True(t, ok)
	}
	_, ok := b.Next()
	assert.False(t, ok)
	assert.False(t, b.Progress().Active)
}

func TestBroadcasterLastChunkIsShort(t *testing.T) {
	b, err := ota.NewBroadcaster(image(30), block, false)
	require.NoError(t, err)
	var last frame.Chunk
	for i := 0; i < b.Total(); i++ {
		last, _ = b.Next()
	}
	assert.Equal(t, uint8(2), last.Index)
	assert.Len(t, last.Payload, 30-2*13)
}

func TestBroadcasterRejectsBadImages(t *testing.T) {
	_, err := ota.NewBroadcaster(nil, block, false)
	assert.ErrorIs(t, err, ota.ErrEmptyImage)

	_, err = ota.NewBroadcaster(image(256*13), block, false)
	assert.ErrorIs(t, err, ota.ErrImageTooLarge)

	for _, size := range []int{0, frame.ChunkHeaderSize, 20, 24} {
		_, err = ota.NewBroadcaster(image(10), size, false)
		assert.ErrorIs(t, err, ota.ErrBlockSize, "block %d", size)
	}
}

func TestImageMustFitLeafBuffer(t *testing.T) {
	// 78 chunks of 13 bytes fill 1014 of the 1024 buffer bytes.
	largest := (ota.BufferSize / 13) * 13
	b, err := ota.NewBroadcaster(image(largest), block, true)
	require.NoError(t, err)
	assert.Equal(t, 78, b.Total())

	for _, n := range []int{largest + 1, 2000} {
		_, err = ota.NewBroadcaster(image(n), block, false)
		assert.ErrorIs(t, err, ota.ErrImageTooLarge, "%d bytes", n)
		_, err = ota.NewManifest("1.0.0", image(n), block)
		assert.ErrorIs(t, err, ota.ErrImageTooLarge, "%d bytes", n)
	}

	_, err = ota.NewManifest("1.0.0", image(10), 20)
	assert.ErrorIs(t, err, ota.ErrBlockSize)

	// The largest accepted image always completes on a leaf.
	reset := &sim.ResetLine{}
	flash := &sim.Flash{}
	a := ota.NewAssembler(flash, reset, zap.NewNop())
	var res ota.Result
	for {
		c, ok := b.Next()
		if !ok {
			break
		}
		res, err = a.OnChunk(wire(t, c))
		require.NoError(t, err)
		require.NotEqual(t, ota.ResultOutOfBounds, res, "chunk %d", c.Index)
	}
	assert.Equal(t, ota.ResultComplete, res)
	assert.Equal(t, 1, reset.Count())
}

func TestAssemblerCompletesInAnyOrder(t *testing.T) {
	img := image(13 * 5)
	b, err := ota.NewBroadcaster(img, block, false)
	require.NoError(t, err)
	chunks := make([]frame.Chunk, b.Total())
	for i := range chunks {
		c, _ := b.Next()
		chunks[i] = wire(t, c)
	}

	rand.New(rand.NewSource(3)).Shuffle(len(chunks), func(i, j int) {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	})

	flash, reset := &sim.Flash{}, &sim.ResetLine{}
	a := ota.NewAssembler(flash, reset, zap.NewNop())
	for i, c := range chunks {
		res, err := a.OnChunk(c)
		require.NoError(t, err)
		if i == len(chunks)-1 {
			assert.Equal(t, ota.ResultComplete, res)
		} else {
			assert.Equal(t, ota.ResultStored, res)
		}
	}

	got, err := flash.ReadImage()
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, 1, reset.Count())
	assert.Equal(t, 1, flash.Writes())
}

func TestAssemblerDuplicatesAreIdempotent(t *testing.T) {
	flash, reset := &sim.Flash{}, &sim.ResetLine{}
	a := ota.NewAssembler(flash, reset, zap.NewNop())

	first := frame.Chunk{Index: 1, Total: 3, Payload: bytes.Repeat([]byte{0xAA}, 13)}
	res, err := a.OnChunk(first)
	require.NoError(t, err)
	assert.Equal(t, ota.ResultStored, res)

	again := frame.Chunk{Index: 1, Total: 3, Payload: bytes.Repeat([]byte{0xBB}, 13)}
	res, err = a.OnChunk(again)
	require.NoError(t, err)
	assert.Equal(t, ota.ResultDuplicate, res)

	chunks, n, total := a.Received()
	assert.Equal(t, 1, chunks)
	assert.Equal(t, 13, n)
	assert.Equal(t, 3, total)
	assert.True(t, a.Has(1))
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 13), a.Buffer(26)[13:])
}

func TestAssemblerCompletionHappensOnce(t *testing.T) {
	flash, reset := &sim.Flash{}, &sim.ResetLine{}
	a := ota.NewAssembler(flash, reset, zap.NewNop())

	c0 := frame.Chunk{Index: 0, Total: 2, Payload: []byte{1, 2}}
	c1 := frame.Chunk{Index: 1, Total: 2, Payload: []byte{3, 4}}
	_, err := a.OnChunk(c0)
	require.NoError(t, err)
	res, err := a.OnChunk(c1)
	require.NoError(t, err)
	assert.Equal(t, ota.ResultComplete, res)

	for _, c := range []frame.Chunk{c0, c1} {
		res, err = a.OnChunk(c)
		require.NoError(t, err)
		assert.Equal(t, ota.ResultDuplicate, res)
	}
	assert.Equal(t, 1, reset.Count())
	assert.Equal(t, 1, flash.Writes())
}

func TestAssemblerOutOfBounds(t *testing.T) {
	flash, reset := &sim.Flash{}, &sim.ResetLine{}
	a := ota.NewAssembler(flash, reset, zap.NewNop())

	cases := []frame.Chunk{
		{Index: 200, Total: 255, Payload: make([]byte, 13)},
		{Index: 3, Total: 3, Payload: make([]byte, 13)},
		{Index: 0, Total: 0, Payload: make([]byte, 13)},
		{Index: 0, Total: 1},
	}
	for _, c := range cases {
		res, err := a.OnChunk(c)
		require.NoError(t, err)
		assert.Equal(t, ota.ResultOutOfBounds, res, "chunk %d/%d", c.Index, c.Total)
	}
	chunks, _, _ := a.Received()
	assert.Zero(t, chunks)
	assert.Zero(t, reset.Count())
}

type failingFlash struct{ sim.Flash }

func (*failingFlash) WriteImage([]byte) error { return errors.New("flash locked") }

func TestAssemblerFlashFailureDoesNotRestart(t *testing.T) {
	reset := &sim.ResetLine{}
	a := ota.NewAssembler(&failingFlash{}, reset, zap.NewNop())

	_, err := a.OnChunk(frame.Chunk{Index: 0, Total: 1, Payload: []byte{9}})
	assert.Error(t, err)
	assert.Zero(t, reset.Count())
}

func TestManifestVerify(t *testing.T) {
	img := image(100)
	m, err := ota.NewManifest("1.2.0", img, block)
	require.NoError(t, err)
	assert.Equal(t, 100, m.TotalSize)
	assert.Equal(t, 13, m.ChunkSize)
	assert.Equal(t, 8, m.TotalChunks)
	assert.Len(t, m.Checksum, 8)
	require.NoError(t, m.Verify(img))

	tampered := append([]byte(nil), img...)
	tampered[50] ^= 0xFF
	assert.ErrorIs(t, m.Verify(tampered), ota.ErrManifestMismatch)
	assert.ErrorIs(t, m.Verify(img[:99]), ota.ErrManifestMismatch)
}

func TestManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.yaml")
	m, err := ota.NewManifest("2.0.0", image(64), block)
	require.NoError(t, err)
	require.NoError(t, ota.WriteManifest(path, m))

	got, err := ota.ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
