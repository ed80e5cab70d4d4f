package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Alexey-Lukin/silken-net/internal/contract"
	"github.com/Alexey-Lukin/silken-net/internal/frame"
)

// RecordSize is the length of one batch record: DID, signal magnitude, payload.
const RecordSize = 4 + 1 + frame.Size

// ErrShortBatch is returned when a batch length is not a multiple of RecordSize.
var ErrShortBatch = errors.New("cache: batch length is not a whole number of records")

// Record is one decoded batch entry.
type Record struct {
	DID     uint32
	RSSI    int8
	Payload [frame.Size]byte
}

// DecodeBatch splits an uplink batch into records.
func DecodeBatch(b []byte) ([]Record, error) {
	if len(b)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBatch, len(b))
	}
	out := make([]Record, 0, len(b)/RecordSize)
	for off := 0; off < len(b); off += RecordSize {
		r := Record{
			DID:  binary.BigEndian.Uint32(b[off:]),
			RSSI: -int8(b[off+4]),
		}
		copy(r.Payload[:], b[off+5:off+RecordSize])
		out = append(out, r)
	}
	return out, nil
}

// Telemetry decodes the record payload as a telemetry frame.
func (r Record) Telemetry() (frame.Telemetry, error) {
	return frame.DecodeTelemetry(r.Payload[:])
}

// StatusOf splits a telemetry contract score into status and growth points.
func StatusOf(score uint8) (contract.Status, uint8) {
	return contract.Unpack(score)
}
