// Package cache is the gateway's capacity-bounded edge cache. Entries are
// keyed by sender DID; when the cache is full the entry with the weakest
// received signal is overwritten (Closest-In/Farthest-Out).
package cache

import (
	"encoding/binary"
	"time"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
)

// DefaultCapacity is the gateway's slot count.
const DefaultCapacity = 50

// Slot is one cache entry.
type Slot struct {
	Key     uint32           `json:"key"`
	Payload [frame.Size]byte `json:"-"`
	Signal  int8             `json:"signal"`
	Active  bool             `json:"active"`
}

// EdgeCache holds at most Cap() active slots with unique keys. It is not safe
// for concurrent use; the gateway loop owns it.
type EdgeCache struct {
	slots  []Slot
	active int
}

// New allocates a cache with capacity inactive slots.
func New(capacity int) *EdgeCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EdgeCache{slots: make([]Slot, capacity)}
}

// Upsert stores payload under key. An active entry with the same key is
// overwritten; otherwise the first inactive slot is taken; when full, the
// slot with the minimum signal is replaced and the active count is unchanged.
func (c *EdgeCache) Upsert(key uint32, payload [frame.Size]byte, signal int8) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.Active && s.Key == key {
			s.Payload = payload
			s.Signal = signal
			return
		}
	}

	for i := range c.slots {
		s := &c.slots[i]
		if !s.Active {
			*s = Slot{Key: key, Payload: payload, Signal: signal, Active: true}
			c.active++
			return
		}
	}

	victim := 0
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i].Signal < c.slots[victim].Signal {
			victim = i
		}
	}
	c.slots[victim] = Slot{Key: key, Payload: payload, Signal: signal, Active: true}
}

// Flush serializes active slots into records while they fit in maxBytes. Only
// serialized slots are deactivated. complete is false when some active slots
// did not fit and remain cached.
func (c *EdgeCache) Flush(maxBytes int) (batch []byte, complete bool) {
	batch = make([]byte, 0, min(maxBytes, c.active*RecordSize))
	complete = true
	for i := range c.slots {
		s := &c.slots[i]
		if !s.Active {
			continue
		}
		if len(batch)+RecordSize > maxBytes {
			complete = false
			break
		}
		batch = appendRecord(batch, s)
		*s = Slot{}
		c.active--
	}
	return batch, complete
}

// Len returns the number of active slots.
func (c *EdgeCache) Len() int { return c.active }

// Cap returns the slot capacity.
func (c *EdgeCache) Cap() int { return len(c.slots) }

// Snapshot copies the active slots in slot order.
func (c *EdgeCache) Snapshot() []Slot {
	out := make([]Slot, 0, c.active)
	for _, s := range c.slots {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// ShouldFlush is the gateway's upload trigger: the cache is within margin of
// capacity, or more than interval has passed since the last flush. An empty
// cache never flushes.
func ShouldFlush(count, capacity, margin int, elapsed, interval time.Duration) bool {
	if count == 0 {
		return false
	}
	return count >= capacity-margin || elapsed > interval
}

func appendRecord(b []byte, s *Slot) []byte {
	b = binary.BigEndian.AppendUint32(b, s.Key)
	b = append(b, uint8(-s.Signal))
	return append(b, s.Payload[:]...)
}
