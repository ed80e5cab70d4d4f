package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexey-Lukin/silken-net/internal/hal"
)

const inboxSize = 16

// Medium is a shared broadcast channel. A frame sent by one radio is
// delivered to every radio linked to it, tagged with the link's RSSI.
// Frames are queued in the receiver's inbox until read; a full inbox drops.
type Medium struct {
	mu     sync.RWMutex
	radios map[string]*Radio
	links  map[string]map[string]int8
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{
		radios: make(map[string]*Radio),
		links:  make(map[string]map[string]int8),
	}
}

// Join attaches a radio under name.
func (m *Medium) Join(name string) *Radio {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Radio{name: name, medium: m, inbox: make(chan hal.Packet, inboxSize)}
	m.radios[name] = r
	if m.links[name] == nil {
		m.links[name] = make(map[string]int8)
	}
	return r
}

// Link makes a and b hear each other at rssi dBm.
func (m *Medium) Link(a, b string, rssi int8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range []string{a, b} {
		if m.links[n] == nil {
			m.links[n] = make(map[string]int8)
		}
	}
	m.links[a][b] = rssi
	m.links[b][a] = rssi
}

func (m *Medium) broadcast(from string, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for to, rssi := range m.links[from] {
		r, ok := m.radios[to]
		if !ok {
			continue
		}
		pkt := hal.Packet{Data: append([]byte(nil), data...), RSSI: rssi}
		select {
		case r.inbox <- pkt:
		default:
			r.dropped.Add(1)
		}
	}
}

// Radio is one node's transceiver on a Medium.
type Radio struct {
	name    string
	medium  *Medium
	inbox   chan hal.Packet
	sent    atomic.Int32
	dropped atomic.Int32
	asleep  atomic.Bool
}

// Send broadcasts data to linked radios.
func (r *Radio) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.asleep.Store(false)
	r.sent.Add(1)
	r.medium.broadcast(r.name, data)
	return nil
}

// Receive waits up to timeout for the next queued frame.
func (r *Radio) Receive(ctx context.Context, timeout time.Duration) (hal.Packet, error) {
	r.asleep.Store(false)
	select {
	case pkt := <-r.inbox:
		return pkt, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-r.inbox:
		return pkt, nil
	case <-timer.C:
		return hal.Packet{}, hal.ErrRxTimeout
	case <-ctx.Done():
		return hal.Packet{}, ctx.Err()
	}
}

// Sleep powers the transceiver down until the next Send or Receive.
func (r *Radio) Sleep() error {
	r.asleep.Store(true)
	return nil
}

// Asleep reports whether Sleep was the last call.
func (r *Radio) Asleep() bool { return r.asleep.Load() }

// Sent returns the number of frames transmitted.
func (r *Radio) Sent() int { return int(r.sent.Load()) }

// Dropped returns the number of frames lost to a full inbox.
func (r *Radio) Dropped() int { return int(r.dropped.Load()) }
