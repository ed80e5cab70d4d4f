// Package frame defines the cleartext radio frame layouts exchanged by mesh nodes.
//
// Telemetry layout (16 bytes, big-endian):
//
//	DID(4) | Vcap mV(2) | Temp(1) | Acoustic(1) | DeltaT s(2) | Score(1) | TTL(1) | Reserved(4)
//
// OTA chunk layout (variable, padded to the cipher block on the air):
//
//	Marker 0x99(1) | Index(1) | Total(1) | Payload(n)
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Size is the fixed length of a telemetry frame and of one cipher block.
	Size = 16

	// OTAMarker is the first byte of every OTA chunk frame.
	OTAMarker byte = 0x99
	// ChunkHeaderSize is the OTA header length preceding the payload.
	ChunkHeaderSize = 3

	// TTLNormal is the hop budget of a regular telemetry frame.
	TTLNormal uint8 = 3
	// TTLPanic is the hop budget of a panic frame.
	TTLPanic uint8 = 5
	// PanicMarker in the acoustic byte flags a tamper/panic frame.
	PanicMarker uint8 = 0xFF

	offDID      = 0
	offVcap     = 4
	offTemp     = 6
	offAcoustic = 7
	offDeltaT   = 8
	offScore    = 10
	offTTL      = 11
	offReserved = 12
)

var (
	// ErrFrameSize is returned when a buffer is not a 16-byte telemetry frame.
	ErrFrameSize = errors.New("frame: telemetry frame must be 16 bytes")
	// ErrNotChunk is returned when a buffer does not carry the OTA marker.
	ErrNotChunk = errors.New("frame: not an OTA chunk")
)

// Telemetry is the decoded 16-byte leaf report.
type Telemetry struct {
	SenderDID     uint32
	CapacitorMV   uint16
	Temperature   int8
	AcousticCount uint8
	DeltaTSeconds uint16
	ContractScore uint8
	TTL           uint8
	Reserved      [4]byte
}

// IsPanic reports whether the frame is a tamper/panic report.
func (t Telemetry) IsPanic() bool { return t.AcousticCount == PanicMarker }

// Encode writes the frame into a fixed 16-byte array.
func (t Telemetry) Encode() [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint32(b[offDID:], t.SenderDID)
	binary.BigEndian.PutUint16(b[offVcap:], t.CapacitorMV)
	b[offTemp] = byte(t.Temperature)
	b[offAcoustic] = t.AcousticCount
	binary.BigEndian.PutUint16(b[offDeltaT:], t.DeltaTSeconds)
	b[offScore] = t.ContractScore
	b[offTTL] = t.TTL
	copy(b[offReserved:], t.Reserved[:])
	return b
}

// DecodeTelemetry parses a 16-byte cleartext frame.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	if len(b) != Size {
		return Telemetry{}, fmt.Errorf("%w: got %d", ErrFrameSize, len(b))
	}
	t := Telemetry{
		SenderDID:     binary.BigEndian.Uint32(b[offDID:]),
		CapacitorMV:   binary.BigEndian.Uint16(b[offVcap:]),
		Temperature:   int8(b[offTemp]),
		AcousticCount: b[offAcoustic],
		DeltaTSeconds: binary.BigEndian.Uint16(b[offDeltaT:]),
		ContractScore: b[offScore],
		TTL:           b[offTTL],
	}
	copy(t.Reserved[:], b[offReserved:Size])
	return t, nil
}

// SenderOf returns the DID in the first four bytes without a full decode.
func SenderOf(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b[offDID:])
}

// TTLOf returns the hop counter byte of a telemetry frame.
func TTLOf(b []byte) uint8 {
	if len(b) <= offTTL {
		return 0
	}
	return b[offTTL]
}

// SetTTL rewrites the hop counter in place.
func SetTTL(b []byte, ttl uint8) {
	if len(b) > offTTL {
		b[offTTL] = ttl
	}
}

// IsChunk reports whether a decrypted frame is routed to the OTA handler.
func IsChunk(b []byte) bool {
	return len(b) > 0 && b[0] == OTAMarker
}

// Chunk is one piece of a firmware image.
type Chunk struct {
	Index   uint8
	Total   uint8
	Payload []byte
}

// Encode builds the chunk frame and zero-pads it to a multiple of block bytes.
// A block of 0 disables padding.
func (c Chunk) Encode(block int) []byte {
	n := ChunkHeaderSize + len(c.Payload)
	if block > 0 && n%block != 0 {
		n += block - n%block
	}
	b := make([]byte, n)
	b[0] = OTAMarker
	b[1] = c.Index
	b[2] = c.Total
	copy(b[ChunkHeaderSize:], c.Payload)
	return b
}

// DecodeChunk parses an OTA chunk frame. The payload is everything after the
// header, so a padded frame yields a padded payload.
func DecodeChunk(b []byte) (Chunk, error) {
	if len(b) < ChunkHeaderSize || b[0] != OTAMarker {
		return Chunk{}, ErrNotChunk
	}
	return Chunk{
		Index:   b[1],
		Total:   b[2],
		Payload: b[ChunkHeaderSize:],
	}, nil
}
