// Package storage provides the NodeState facade that maps tick state onto the
// durable register file.
package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

// HistorySize is the number of relay-history registers.
const HistorySize = 3

// Checkpoint is the tick state written before every sleep and read at boot.
type Checkpoint struct {
	AcousticCount uint32
	LastWake      uint32
	RelayPending  bool
	RelayFrame    [frame.Size]byte
	History       [HistorySize]uint32
}

// NodeState is the facade over a local.Store used by the scheduler.
type NodeState struct {
	mu          sync.Mutex
	store       local.Store
	logger      *zap.Logger
	initialized bool
}

// New creates a NodeState facade.
func New(store local.Store, logger *zap.Logger) *NodeState {
	return &NodeState{store: store, logger: logger}
}

// Init opens the register file.
func (s *NodeState) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.store.Init(); err != nil {
		return fmt.Errorf("register store init: %w", err)
	}
	s.initialized = true
	return nil
}

// Close closes the register file.
func (s *NodeState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	return s.store.Close()
}

// LoadState reads one register.
func (s *NodeState) LoadState(slot local.Slot) (uint32, error) {
	return s.store.Load(slot)
}

// SaveState durably writes one register.
func (s *NodeState) SaveState(slot local.Slot, value uint32) error {
	return s.store.Save(slot, value)
}

// Restore reads the last checkpoint. A device that never slept yields the zero value.
func (s *NodeState) Restore() (Checkpoint, error) {
	var cp Checkpoint
	var err error

	if cp.AcousticCount, err = s.store.Load(local.SlotAcoustic); err != nil {
		return cp, err
	}
	if cp.LastWake, err = s.store.Load(local.SlotLastWake); err != nil {
		return cp, err
	}
	pending, err := s.store.Load(local.SlotRelayPending)
	if err != nil {
		return cp, err
	}
	cp.RelayPending = pending != 0
	if cp.RelayPending {
		for i := 0; i < 4; i++ {
			w, err := s.store.Load(local.SlotRelayFrame + local.Slot(i))
			if err != nil {
				return cp, err
			}
			binary.BigEndian.PutUint32(cp.RelayFrame[i*4:], w)
		}
	}
	for i := 0; i < HistorySize; i++ {
		if cp.History[i], err = s.store.Load(local.SlotHistory + local.Slot(i)); err != nil {
			return cp, err
		}
	}
	return cp, nil
}

// Persist writes a checkpoint. The DID register is never touched here.
func (s *NodeState) Persist(cp Checkpoint) error {
	words := make([]uint32, 0, 7)
	words = append(words, cp.AcousticCount, cp.LastWake, boolWord(cp.RelayPending))
	for i := 0; i < 4; i++ {
		if cp.RelayPending {
			words = append(words, binary.BigEndian.Uint32(cp.RelayFrame[i*4:]))
		} else {
			words = append(words, 0)
		}
	}
	if err := s.store.SaveWords(local.SlotAcoustic, words); err != nil {
		return fmt.Errorf("persist tick state: %w", err)
	}
	if err := s.store.SaveWords(local.SlotHistory, cp.History[:]); err != nil {
		return fmt.Errorf("persist relay history: %w", err)
	}
	return nil
}

// SaveAcoustic is the minimal emergency write used on brownout.
func (s *NodeState) SaveAcoustic(count uint32) error {
	return s.store.Save(local.SlotAcoustic, count)
}

// ResetRelay clears the pending relay and history registers.
func (s *NodeState) ResetRelay() error {
	if err := s.store.Save(local.SlotRelayPending, 0); err != nil {
		return err
	}
	return s.store.SaveWords(local.SlotHistory, make([]uint32, HistorySize))
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
