// Package ota implements the chunked over-the-air firmware distribution
// protocol: a cycling broadcaster on the gateway and a duplicate-tolerant
// assembler on leaf nodes. There is no acknowledgement channel; the gateway
// simply keeps rebroadcasting.
package ota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
)

// MaxChunks is the largest campaign a one-byte chunk counter can describe.
const MaxChunks = 255

var (
	// ErrImageTooLarge is returned when the chunked image needs more than
	// MaxChunks chunks or does not fit the leaf reassembly buffer.
	ErrImageTooLarge = errors.New("ota: image too large for a campaign")
	// ErrBlockSize is returned for a block size that is not a positive
	// multiple of the cipher block.
	ErrBlockSize = errors.New("ota: block size must be a multiple of the cipher block")
	// ErrEmptyImage is returned for a zero-length image.
	ErrEmptyImage = errors.New("ota: empty image")
)

// Progress is a point-in-time view of a broadcast campaign.
type Progress struct {
	Campaign   string `json:"campaign"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Passes     int    `json:"passes"`
	ImageBytes int    `json:"image_bytes"`
	Active     bool   `json:"active"`
}

// Broadcaster emits an image as a cycling sequence of chunks.
type Broadcaster struct {
	mu         sync.Mutex
	campaign   uuid.UUID
	image      []byte
	capacity   int
	total      uint8
	index      uint8
	passes     int
	singlePass bool
	done       bool
}

// NewBroadcaster splits image into chunks that fit a wire block of blockSize
// bytes once the 3-byte header is added.
func NewBroadcaster(image []byte, blockSize int, singlePass bool) (*Broadcaster, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	capacity, total, err := split(len(image), blockSize)
	if err != nil {
		return nil, err
	}
	img := make([]byte, len(image))
	copy(img, image)
	return &Broadcaster{
		campaign:   uuid.New(),
		image:      img,
		capacity:   capacity,
		total:      uint8(total),
		singlePass: singlePass,
	}, nil
}

// split returns the payload bytes per chunk and the chunk count for an image
// of n bytes. Every chunk lands at index*capacity on the leaf, so the image
// rounded up to whole chunks must fit BufferSize.
func split(n, blockSize int) (capacity, total int, err error) {
	if blockSize <= 0 || blockSize%frame.Size != 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	capacity = blockSize - frame.ChunkHeaderSize
	total = (n + capacity - 1) / capacity
	if total > MaxChunks || total*capacity > BufferSize {
		return 0, 0, fmt.Errorf("%w: %d bytes in %d chunks of %d, leaf buffer %d",
			ErrImageTooLarge, n, total, capacity, BufferSize)
	}
	return capacity, total, nil
}

// Next returns the chunk at the current index and advances it, wrapping to
// zero after the last chunk. With singlePass set, Next reports false once the
// first pass has been emitted.
func (b *Broadcaster) Next() (frame.Chunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return frame.Chunk{}, false
	}

	off := int(b.index) * b.capacity
	end := off + b.capacity
	if end > len(b.image) {
		end = len(b.image)
	}
	c := frame.Chunk{
		Index:   b.index,
		Total:   b.total,
		Payload: b.image[off:end],
	}

	b.index++
	if b.index >= b.total {
		b.index = 0
		b.passes++
		if b.singlePass {
			b.done = true
		}
	}
	return c, true
}

// Stop ends the campaign.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
}

// Active reports whether Next still yields chunks.
func (b *Broadcaster) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.done
}

// Total returns the number of chunks in the campaign.
func (b *Broadcaster) Total() int { return int(b.total) }

// Progress snapshots the campaign state.
func (b *Broadcaster) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Progress{
		Campaign:   b.campaign.String(),
		Index:      int(b.index),
		Total:      int(b.total),
		Passes:     b.passes,
		ImageBytes: len(b.image),
		Active:     !b.done,
	}
}
