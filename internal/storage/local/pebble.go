// Package local provides the Pebble-backed implementation of Store.
package local

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
)

const keyPrefix = "bkp/"

// PebbleStore is a Pebble LSM-tree backed Store. Every write is synced so a
// register is either fully written or untouched after power loss.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	fs     vfs.FS
	logger *zap.Logger
}

// NewPebbleStore creates a PebbleStore instance on disk (not yet opened).
func NewPebbleStore(dbPath string, logger *zap.Logger) *PebbleStore {
	return &PebbleStore{
		path:   dbPath,
		logger: logger,
	}
}

// NewMemoryStore creates a PebbleStore on an in-memory filesystem. Contents
// live as long as the returned value, which lets a simulated node reboot
// against the same registers.
func NewMemoryStore(logger *zap.Logger) *PebbleStore {
	return &PebbleStore{
		path:   "bkp",
		fs:     vfs.NewMem(),
		logger: logger,
	}
}

// Init opens the Pebble database.
func (p *PebbleStore) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{p.logger},
	}
	if p.fs != nil {
		opts.FS = p.fs
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("pebble open %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Debug("Register store opened", zap.String("path", p.path))
	return nil
}

// Close flushes and closes the database. The store can be opened again with Init.
func (p *PebbleStore) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Load returns the stored word for slot, or 0 if it was never written.
func (p *PebbleStore) Load(slot Slot) (uint32, error) {
	data, closer, err := p.db.Get(slotKey(slot))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pebble get slot %d: %w", slot, err)
	}
	defer closer.Close()

	if len(data) != 4 {
		return 0, fmt.Errorf("slot %d: corrupt value of %d bytes", slot, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

// Save writes a single slot.
func (p *PebbleStore) Save(slot Slot, value uint32) error {
	if err := p.db.Set(slotKey(slot), word(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set slot %d: %w", slot, err)
	}
	return nil
}

// SaveWords writes consecutive slots in one synced batch.
func (p *PebbleStore) SaveWords(first Slot, words []uint32) error {
	if int(first)+len(words) > SlotCount {
		return fmt.Errorf("slots %d..%d out of range", first, int(first)+len(words)-1)
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for i, w := range words {
		if err := batch.Set(slotKey(first+Slot(i)), word(w), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Truncate deletes every register.
func (p *PebbleStore) Truncate() error {
	batch := p.db.NewBatch()
	defer batch.Close()
	for s := Slot(0); s < SlotCount; s++ {
		if err := batch.Delete(slotKey(s), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func slotKey(s Slot) []byte {
	return []byte(fmt.Sprintf("%s%02d", keyPrefix, s))
}

func word(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Debugf(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
