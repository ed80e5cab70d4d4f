package node

import (
	"sync/atomic"

	"github.com/Alexey-Lukin/silken-net/internal/hal"
)

// Device is the interrupt-facing context of a leaf. Hooks only flip flags or
// signal the sampling completion; the tick loop consumes them.
type Device struct {
	vibration atomic.Bool
	brownout  atomic.Bool
	sampling  *hal.Completion
}

// NewDevice creates a Device with all flags clear.
func NewDevice() *Device {
	return &Device{sampling: hal.NewCompletion()}
}

// OnVibration is the piezo wake interrupt.
func (d *Device) OnVibration() { d.vibration.Store(true) }

// OnBrownout is the low-voltage detector interrupt.
func (d *Device) OnBrownout() { d.brownout.Store(true) }

// OnSamplingDone is the DMA transfer-complete interrupt.
func (d *Device) OnSamplingDone() { d.sampling.Signal() }

// Sampling is the completion the acoustic capture signals.
func (d *Device) Sampling() *hal.Completion { return d.sampling }

func (d *Device) takeVibration() bool { return d.vibration.Swap(false) }

func (d *Device) brownoutPending() bool { return d.brownout.Load() }

func (d *Device) clearBrownout() { d.brownout.Store(false) }
