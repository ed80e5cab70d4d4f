package sim

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexey-Lukin/silken-net/internal/hal"
)

// Flash is an in-memory code store.
type Flash struct {
	mu     sync.Mutex
	image  []byte
	writes int
}

// WriteImage replaces the stored image.
func (f *Flash) WriteImage(image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = append([]byte(nil), image...)
	f.writes++
	return nil
}

// ReadImage returns the stored image, nil if none.
func (f *Flash) ReadImage() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.image...), nil
}

// Writes returns how many images were flashed.
func (f *Flash) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// FileFlash keeps the code image in a file, for nodes started from the CLI.
type FileFlash struct {
	Path string
}

// WriteImage replaces the image file.
func (f FileFlash) WriteImage(image []byte) error {
	return os.WriteFile(f.Path, image, 0o644)
}

// ReadImage returns the image file contents, nil if it does not exist.
func (f FileFlash) ReadImage() ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// ResetLine records restart requests.
type ResetLine struct {
	count atomic.Int32
}

// Restart records one restart.
func (r *ResetLine) Restart() { r.count.Add(1) }

// Count returns the number of restarts requested.
func (r *ResetLine) Count() int { return int(r.count.Load()) }

// ChipID is a fixed factory identifier.
type ChipID [3]uint32

// UniqueID returns the identifier words.
func (c ChipID) UniqueID() ([3]uint32, error) { return c, nil }

// BrokenChipID fails every read.
type BrokenChipID struct{}

// UniqueID always fails.
func (BrokenChipID) UniqueID() ([3]uint32, error) {
	return [3]uint32{}, errors.New("unique id read failed")
}

// Entropy is a seeded pseudo-random source.
type Entropy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEntropy seeds an Entropy source.
func NewEntropy(seed int64) *Entropy {
	return &Entropy{rnd: rand.New(rand.NewSource(seed))}
}

// Uint32 returns the next random word.
func (e *Entropy) Uint32() (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Uint32(), nil
}

// Sensors returns a scripted reading each tick, repeating the last one.
type Sensors struct {
	mu       sync.Mutex
	readings []hal.Reading
}

// NewSensors creates Sensors that report readings in order.
func NewSensors(readings ...hal.Reading) *Sensors {
	return &Sensors{readings: readings}
}

// Read returns the next scripted reading.
func (s *Sensors) Read(ctx context.Context) (hal.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readings) == 0 {
		return hal.Reading{CapacitorMV: 3300, TemperatureC: 20}, nil
	}
	r := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return r, nil
}

// Sampler fills a capture buffer on a goroutine, like the DMA engine.
type Sampler struct {
	Delay time.Duration
	buf   []uint16
	mu    sync.Mutex
}

// Start begins a capture and signals done when it finishes.
func (s *Sampler) Start(done *hal.Completion) error {
	go func() {
		time.Sleep(s.Delay)
		s.mu.Lock()
		s.buf = make([]uint16, 512)
		for i := range s.buf {
			s.buf[i] = uint16(i * 8 % 4096)
		}
		s.mu.Unlock()
		done.Signal()
	}()
	return nil
}

// Samples returns the last capture.
func (s *Sampler) Samples() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// Classifier returns a fixed label.
type Classifier struct {
	Class      hal.EventClass
	Confidence float32
}

// Classify ignores the samples and returns the configured label.
func (c Classifier) Classify([]uint16) (hal.EventClass, float32) {
	return c.Class, c.Confidence
}

// Power tracks sleep requests. Unless Realtime is set it only yields briefly
// instead of blocking for the full duration.
type Power struct {
	Realtime bool

	sleeps     atomic.Int32
	deepSleeps atomic.Int32
}

// Sleep records a low-power wait.
func (p *Power) Sleep(ctx context.Context, d time.Duration) error {
	p.sleeps.Add(1)
	if !p.Realtime {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DeepSleep records a brownout sleep.
func (p *Power) DeepSleep(ctx context.Context) error {
	p.deepSleeps.Add(1)
	return ctx.Err()
}

// Sleeps returns how many normal sleeps were entered.
func (p *Power) Sleeps() int { return int(p.sleeps.Load()) }

// DeepSleeps returns how many brownout sleeps were entered.
func (p *Power) DeepSleeps() int { return int(p.deepSleeps.Load()) }

// Watchdog counts refreshes.
type Watchdog struct {
	refreshes atomic.Int32
}

// Refresh records a kick.
func (w *Watchdog) Refresh() { w.refreshes.Add(1) }

// Refreshes returns the kick count.
func (w *Watchdog) Refreshes() int { return int(w.refreshes.Load()) }

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// WallClock reads the host clock.
type WallClock struct{}

// Now returns time.Now.
func (WallClock) Now() time.Time { return time.Now() }

// Transport records uplink batches.
type Transport struct {
	mu      sync.Mutex
	batches [][]byte
	Err     error
}

// Send stores blob.
func (t *Transport) Send(ctx context.Context, blob []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.batches = append(t.batches, append([]byte(nil), blob...))
	return nil
}

// Batches returns every delivered batch.
func (t *Transport) Batches() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.batches...)
}
