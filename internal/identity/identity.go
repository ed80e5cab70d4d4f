// Package identity generates and pins the node's decentralized identifier.
package identity

import (
	"errors"
	"fmt"

	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

// DID is the 32-bit node identity. Zero means "unset".
type DID uint32

// Fallback is used when the derived identity collapses to zero.
const Fallback DID = 0x511CEE01

// ErrIdentitySource is returned when the unique-id or entropy source fails.
var ErrIdentitySource = errors.New("identity: hardware source unavailable")

// Registers is the subset of the register file identity needs.
type Registers interface {
	LoadState(slot local.Slot) (uint32, error)
	SaveState(slot local.Slot, value uint32) error
}

// Derive mixes the factory id words with one random word.
func Derive(uid [3]uint32, random uint32) DID {
	did := DID(uid[0] ^ (uid[1] << 5) ^ (uid[2] >> 3) ^ random)
	if did == 0 {
		did = Fallback
	}
	return did
}

// LoadOrCreate returns the pinned DID, generating and persisting it on the
// first boot of the device. firstBoot is true only on that boot.
func LoadOrCreate(regs Registers, hw hal.HardwareID, rng hal.Entropy) (did DID, firstBoot bool, err error) {
	stored, err := regs.LoadState(local.SlotDID)
	if err != nil {
		return 0, false, fmt.Errorf("load did: %w", err)
	}
	if stored != 0 {
		return DID(stored), false, nil
	}

	uid, err := hw.UniqueID()
	if err != nil {
		return 0, false, fmt.Errorf("%w: unique id: %v", ErrIdentitySource, err)
	}
	random, err := rng.Uint32()
	if err != nil {
		return 0, false, fmt.Errorf("%w: entropy: %v", ErrIdentitySource, err)
	}

	did = Derive(uid, random)
	if err := regs.SaveState(local.SlotDID, uint32(did)); err != nil {
		return 0, false, fmt.Errorf("pin did: %w", err)
	}
	return did, true, nil
}

// Pin writes a substitute identity when the hardware source failed. It is a
// no-op if a DID is already stored.
func Pin(regs Registers, did DID) (DID, error) {
	stored, err := regs.LoadState(local.SlotDID)
	if err != nil {
		return 0, err
	}
	if stored != 0 {
		return DID(stored), nil
	}
	if did == 0 {
		did = Fallback
	}
	return did, regs.SaveState(local.SlotDID, uint32(did))
}

func (d DID) String() string { return fmt.Sprintf("%08X", uint32(d)) }
