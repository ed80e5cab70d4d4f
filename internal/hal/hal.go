// Package hal declares the hardware services the mesh core depends on. Radio,
// cipher, sensors, modem and power control are trusted collaborators; the core
// only sees these interfaces.
package hal

import (
	"context"
	"errors"
	"time"
)

// ErrRxTimeout is returned by Radio.Receive when the window closes empty.
var ErrRxTimeout = errors.New("radio: receive timeout")

// Packet is one frame caught by the receiver, still encrypted.
type Packet struct {
	Data []byte
	RSSI int8
}

// Radio is the half-duplex radio driver.
type Radio interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks until a frame arrives or timeout elapses.
	Receive(ctx context.Context, timeout time.Duration) (Packet, error)
	// Sleep powers the transceiver down.
	Sleep() error
}

// Cipher is the hardware block cipher. Buffers are always a multiple of the block size.
type Cipher interface {
	Encrypt(dst, src []byte) error
	Decrypt(dst, src []byte) error
}

// Reading holds the slow environmental channels sampled every tick.
type Reading struct {
	CapacitorMV  uint16
	TemperatureC int8
}

// Sensors samples capacitor voltage and die temperature.
type Sensors interface {
	Read(ctx context.Context) (Reading, error)
}

// Sampler runs a DMA acoustic capture and signals done when the buffer is full.
type Sampler interface {
	Start(done *Completion) error
	Samples() []uint16
}

// EventClass is the acoustic classifier output.
type EventClass uint8

const (
	EventSilence EventClass = iota
	EventWind
	EventCavitation
	EventChainsaw
)

func (e EventClass) String() string {
	switch e {
	case EventSilence:
		return "silence"
	case EventWind:
		return "wind"
	case EventCavitation:
		return "cavitation"
	case EventChainsaw:
		return "chainsaw"
	default:
		return "unknown"
	}
}

// Classifier labels an acoustic capture.
type Classifier interface {
	Classify(samples []uint16) (EventClass, float32)
}

// Scorer is the contract evaluator deriving the token-economics byte.
type Scorer func(seed uint32, temperature int8, acousticCount uint8) byte

// Transport delivers an opaque uplink blob to the backend.
type Transport interface {
	Send(ctx context.Context, blob []byte) error
}

// Power enters low-power modes between ticks.
type Power interface {
	Sleep(ctx context.Context, d time.Duration) error
	// DeepSleep is entered on brownout and returns once voltage recovers.
	DeepSleep(ctx context.Context) error
}

// Watchdog must be refreshed once per tick.
type Watchdog interface {
	Refresh()
}

// CodeStore is durable code storage for OTA images.
type CodeStore interface {
	WriteImage(image []byte) error
	ReadImage() ([]byte, error)
}

// System performs a hardware restart.
type System interface {
	Restart()
}

// HardwareID exposes the factory-unique identifier words.
type HardwareID interface {
	UniqueID() ([3]uint32, error)
}

// Entropy is the true-random source.
type Entropy interface {
	Uint32() (uint32, error)
}

// Clock reports seconds since power-on.
type Clock interface {
	Now() time.Time
}
