package ota

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
)

const (
	// BufferSize is the leaf's reassembly buffer capacity in bytes.
	BufferSize = 1024
	// bitmapSize covers every value of the one-byte chunk index.
	bitmapSize = 256
)

// Result is the outcome of feeding one chunk to the Assembler.
type Result int

const (
	// ResultStored means the payload was copied into the buffer.
	ResultStored Result = iota
	// ResultDuplicate means the index was already received; nothing changed.
	ResultDuplicate
	// ResultOutOfBounds means the chunk does not fit the buffer and was dropped.
	ResultOutOfBounds
	// ResultComplete means the image was written to code storage and a restart issued.
	ResultComplete
)

func (r Result) String() string {
	switch r {
	case ResultStored:
		return "stored"
	case ResultDuplicate:
		return "duplicate"
	case ResultOutOfBounds:
		return "out-of-bounds"
	case ResultComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Assembler collects chunks of a single campaign. It is reset only by the
// restart that follows completion.
type Assembler struct {
	buf       [BufferSize]byte
	received  [bitmapSize]bool
	chunks    int
	bytes     int
	total     uint8
	completed bool

	code   hal.CodeStore
	sys    hal.System
	logger *zap.Logger
}

// NewAssembler creates an empty Assembler that flashes into code and restarts via sys.
func NewAssembler(code hal.CodeStore, sys hal.System, logger *zap.Logger) *Assembler {
	return &Assembler{code: code, sys: sys, logger: logger}
}

// OnChunk stores a chunk at index*len(payload). The campaign size is taken
// from the latest chunk header. When every chunk has arrived the image is
// written to code storage and the device restarted; this happens once.
func (a *Assembler) OnChunk(c frame.Chunk) (Result, error) {
	if a.completed {
		return ResultDuplicate, nil
	}

	n := len(c.Payload)
	off := int(c.Index) * n
	if n == 0 || c.Index >= c.Total || off+n > BufferSize {
		return ResultOutOfBounds, nil
	}
	if a.received[c.Index] {
		return ResultDuplicate, nil
	}

	copy(a.buf[off:], c.Payload)
	a.received[c.Index] = true
	a.chunks++
	a.bytes += n
	a.total = c.Total

	if a.chunks < int(a.total) {
		return ResultStored, nil
	}

	image := make([]byte, a.bytes)
	copy(image, a.buf[:a.bytes])
	if err := a.code.WriteImage(image); err != nil {
		return ResultStored, fmt.Errorf("flash ota image: %w", err)
	}
	a.completed = true
	a.logger.Info("OTA image complete",
		zap.Int("chunks", a.chunks),
		zap.Int("bytes", a.bytes),
	)
	a.sys.Restart()
	return ResultComplete, nil
}

// Received returns the chunk and byte counters and the last seen campaign size.
func (a *Assembler) Received() (chunks, bytes, total int) {
	return a.chunks, a.bytes, int(a.total)
}

// Has reports whether chunk index was received.
func (a *Assembler) Has(index uint8) bool { return a.received[index] }

// Buffer returns a copy of the first n assembled bytes.
func (a *Assembler) Buffer(n int) []byte {
	if n > BufferSize {
		n = BufferSize
	}
	out := make([]byte, n)
	copy(out, a.buf[:n])
	return out
}
