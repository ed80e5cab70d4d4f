package node

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
	"github.com/Alexey-Lukin/silken-net/internal/relay"
	"github.com/Alexey-Lukin/silken-net/internal/storage"
)

var (
	// ErrBrownout is returned when a low-voltage interrupt cut the tick short.
	ErrBrownout = errors.New("node: brownout")
	// ErrRestart is returned after an OTA image was flashed and a restart issued.
	ErrRestart = errors.New("node: restart requested")
)

// classifyConfidence is the minimum classifier confidence acted upon.
const classifyConfidence = 0.8

// LeafHardware bundles the collaborators a leaf runs on.
type LeafHardware struct {
	Radio      hal.Radio
	Cipher     hal.Cipher
	Sensors    hal.Sensors
	Sampler    hal.Sampler
	Classifier hal.Classifier
	Power      hal.Power
	Watchdog   hal.Watchdog
	Code       hal.CodeStore
	System     hal.System
	Clock      hal.Clock
	Entropy    hal.Entropy
	Scorer     hal.Scorer
}

// LeafConfig holds the tick timing and energy thresholds.
type LeafConfig struct {
	TickInterval      time.Duration
	ListenWindow      time.Duration
	ListenThresholdMV uint16
}

// LeafStats counts tick outcomes.
type LeafStats struct {
	Ticks     int
	OwnFrames int
	Relayed   int
	Panics    int
	Chunks    int
	Brownouts int
}

// Leaf is a sensing node. Tick runs one wake cycle; the relay engine and OTA
// assembler are touched only from Tick.
type Leaf struct {
	did    identity.DID
	hw     LeafHardware
	cfg    LeafConfig
	state  *storage.NodeState
	device *Device
	relay  *relay.Engine
	ota    *ota.Assembler
	logger *zap.Logger

	acoustic uint32
	lastWake uint32
	phase    atomic.Int32
	stats    LeafStats
}

// NewLeaf creates a leaf for did and restores its checkpoint from state.
func NewLeaf(did identity.DID, hw LeafHardware, cfg LeafConfig, state *storage.NodeState, device *Device, logger *zap.Logger) (*Leaf, error) {
	logger = logger.With(zap.Stringer("did", did))
	l := &Leaf{
		did:    did,
		hw:     hw,
		cfg:    cfg,
		state:  state,
		device: device,
		relay:  relay.NewEngine(uint32(did), hw.Cipher, logger),
		ota:    ota.NewAssembler(hw.Code, hw.System, logger),
		logger: logger,
	}
	cp, err := state.Restore()
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	l.acoustic = cp.AcousticCount
	l.lastWake = cp.LastWake
	l.relay.Restore(cp)
	return l, nil
}

// ForgetRelay clears relay history and the pending slot. Used on first boot.
func (l *Leaf) ForgetRelay() error {
	l.relay.Reset()
	return l.state.ResetRelay()
}

// DID returns the node identity.
func (l *Leaf) DID() identity.DID { return l.did }

// Phase returns the phase currently executing.
func (l *Leaf) Phase() Phase { return Phase(l.phase.Load()) }

// Stats returns the tick counters.
func (l *Leaf) Stats() LeafStats { return l.stats }

// Relay exposes the relay engine for inspection.
func (l *Leaf) Relay() *relay.Engine { return l.relay }

// Assembler exposes the OTA assembler for inspection.
func (l *Leaf) Assembler() *ota.Assembler { return l.ota }

// Tick runs Sense, Classify, BuildOwnFrame, Score, RelayEmit, OwnEmit,
// ListenWindow, Persist and Sleep. A pending brownout is checked before each
// phase and ends the tick with ErrBrownout. A completed OTA image ends it with
// ErrRestart.
func (l *Leaf) Tick(ctx context.Context) error {
	l.hw.Watchdog.Refresh()
	l.stats.Ticks++
	defer l.enter(PhaseIdle)

	// Sense
	if err := l.step(ctx, PhaseSense); err != nil {
		return err
	}
	now := uint32(l.hw.Clock.Now().Unix())
	var delta uint32
	if l.lastWake != 0 && now > l.lastWake {
		delta = now - l.lastWake
	}
	l.lastWake = now
	reading, err := l.hw.Sensors.Read(ctx)
	if err != nil {
		return fmt.Errorf("read sensors: %w", err)
	}
	seed, err := l.hw.Entropy.Uint32()
	if err != nil {
		return fmt.Errorf("chaos seed: %w", err)
	}

	// Classify
	if l.device.takeVibration() {
		if err := l.step(ctx, PhaseClassify); err != nil {
			return err
		}
		if err := l.classify(ctx); err != nil {
			return err
		}
	}

	// BuildOwnFrame
	if err := l.step(ctx, PhaseBuildOwnFrame); err != nil {
		return err
	}
	own := frame.Telemetry{
		SenderDID:     uint32(l.did),
		CapacitorMV:   reading.CapacitorMV,
		Temperature:   reading.TemperatureC,
		AcousticCount: uint8(l.acoustic),
		DeltaTSeconds: uint16(min(delta, math.MaxUint16)),
		TTL:           frame.TTLNormal,
	}
	l.acoustic = 0

	// Score
	if err := l.step(ctx, PhaseScore); err != nil {
		return err
	}
	own.ContractScore = l.hw.Scorer(seed, own.Temperature, own.AcousticCount)

	// RelayEmit
	if err := l.step(ctx, PhaseRelayEmit); err != nil {
		return err
	}
	if pending, ok := l.relay.TakePending(); ok {
		if err := l.hw.Radio.Send(ctx, pending[:]); err != nil {
			return fmt.Errorf("relay emit: %w", err)
		}
		l.stats.Relayed++
	}

	// OwnEmit
	if err := l.step(ctx, PhaseOwnEmit); err != nil {
		return err
	}
	if err := l.sendFrame(ctx, own); err != nil {
		return fmt.Errorf("own emit: %w", err)
	}
	l.stats.OwnFrames++

	// ListenWindow
	if reading.CapacitorMV > l.cfg.ListenThresholdMV {
		if err := l.step(ctx, PhaseListenWindow); err != nil {
			return err
		}
		if err := l.listen(ctx); err != nil {
			return err
		}
	}

	// Persist
	if err := l.step(ctx, PhasePersist); err != nil {
		return err
	}
	cp := storage.Checkpoint{AcousticCount: l.acoustic, LastWake: l.lastWake}
	l.relay.Checkpoint(&cp)
	if err := l.state.Persist(cp); err != nil {
		return err
	}

	// Sleep
	if err := l.step(ctx, PhaseSleep); err != nil {
		return err
	}
	return l.hw.Power.Sleep(ctx, l.cfg.TickInterval)
}

func (l *Leaf) enter(p Phase) { l.phase.Store(int32(p)) }

// step enters p unless a brownout is pending, in which case the emergency
// path runs instead.
func (l *Leaf) step(ctx context.Context, p Phase) error {
	if l.device.brownoutPending() {
		return l.brownout(ctx)
	}
	l.enter(p)
	return nil
}

// brownout saves the acoustic counter, silences the radio and deep-sleeps
// until the voltage recovers.
func (l *Leaf) brownout(ctx context.Context) error {
	l.enter(PhaseBrownout)
	l.stats.Brownouts++
	if err := l.state.SaveAcoustic(l.acoustic); err != nil {
		l.logger.Error("Emergency save failed", zap.Error(err))
	}
	if err := l.hw.Radio.Sleep(); err != nil {
		l.logger.Error("Radio sleep failed", zap.Error(err))
	}
	l.logger.Warn("Brownout, entering deep sleep", zap.Uint32("acoustic", l.acoustic))
	if err := l.hw.Power.DeepSleep(ctx); err != nil {
		return err
	}
	l.device.clearBrownout()
	return ErrBrownout
}

func (l *Leaf) classify(ctx context.Context) error {
	done := l.device.Sampling()
	done.Reset()
	if err := l.hw.Sampler.Start(done); err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}
	if err := done.Wait(ctx); err != nil {
		return err
	}
	class, confidence := l.hw.Classifier.Classify(l.hw.Sampler.Samples())
	if confidence <= classifyConfidence {
		return nil
	}
	switch class {
	case hal.EventCavitation:
		l.acoustic++
	case hal.EventChainsaw:
		return l.raiseAlarm(ctx)
	}
	return nil
}

// raiseAlarm transmits an out-of-band tamper frame with extended reach.
func (l *Leaf) raiseAlarm(ctx context.Context) error {
	alarm := frame.Telemetry{
		SenderDID:     uint32(l.did),
		AcousticCount: frame.PanicMarker,
		TTL:           frame.TTLPanic,
	}
	if err := l.sendFrame(ctx, alarm); err != nil {
		return fmt.Errorf("panic emit: %w", err)
	}
	l.stats.Panics++
	l.logger.Warn("Tamper detected, panic frame sent")
	return l.hw.Radio.Sleep()
}

func (l *Leaf) sendFrame(ctx context.Context, t frame.Telemetry) error {
	plain := t.Encode()
	var enc [frame.Size]byte
	if err := l.hw.Cipher.Encrypt(enc[:], plain[:]); err != nil {
		return err
	}
	return l.hw.Radio.Send(ctx, enc[:])
}

// listen receives at most one frame and dispatches it by marker byte.
func (l *Leaf) listen(ctx context.Context) error {
	defer func() {
		if err := l.hw.Radio.Sleep(); err != nil {
			l.logger.Warn("Radio sleep failed", zap.Error(err))
		}
	}()

	pkt, err := l.hw.Radio.Receive(ctx, l.cfg.ListenWindow)
	if errors.Is(err, hal.ErrRxTimeout) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if len(pkt.Data) == 0 || len(pkt.Data)%frame.Size != 0 {
		l.logger.Debug("Dropping unaligned frame", zap.Int("len", len(pkt.Data)))
		return nil
	}
	plain := make([]byte, len(pkt.Data))
	if err := l.hw.Cipher.Decrypt(plain, pkt.Data); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	if frame.IsChunk(plain) {
		return l.onChunk(plain)
	}
	if len(plain) != frame.Size {
		return nil
	}
	decision, err := l.relay.Handle(plain)
	if err != nil {
		return err
	}
	if decision == relay.DecisionSelfEcho {
		l.logger.Debug("Own echo heard, closing window")
	}
	return nil
}

func (l *Leaf) onChunk(plain []byte) error {
	c, err := frame.DecodeChunk(plain)
	if err != nil {
		return nil
	}
	res, err := l.ota.OnChunk(c)
	if err != nil {
		return err
	}
	if res == ota.ResultStored || res == ota.ResultComplete {
		l.stats.Chunks++
	}
	if res == ota.ResultComplete {
		return ErrRestart
	}
	return nil
}
