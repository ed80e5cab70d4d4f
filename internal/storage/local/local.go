// Package local defines the Store interface for the node's durable register file.
package local

// Slot addresses one 32-bit durable register, mirroring the backup domain of
// the radio MCU. Values survive reset and most power-loss events.
type Slot uint8

const (
	SlotAcoustic     Slot = 0  // acoustic event count
	SlotLastWake     Slot = 1  // last wake timestamp, seconds
	SlotRelayPending Slot = 2  // 1 when SlotRelayFrame holds a frame
	SlotRelayFrame   Slot = 3  // 4 words: 3..6
	SlotDID          Slot = 7  // node identity, written once
	SlotHistory      Slot = 8  // 3 words: 8..10, newest first
	SlotCount             = 11 // number of registers
)

// Store is the interface for the single-node durable key/value register file.
type Store interface {
	// Init opens/creates the underlying store.
	Init() error
	// Close flushes and closes the store.
	Close() error
	// Load returns the value of a slot, 0 when it was never written.
	Load(slot Slot) (uint32, error)
	// Save durably writes a single slot.
	Save(slot Slot, value uint32) error
	// SaveWords durably writes consecutive slots starting at first, atomically.
	SaveWords(first Slot, words []uint32) error
	// Truncate erases every slot.
	Truncate() error
}
