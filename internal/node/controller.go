// Package node runs the leaf tick scheduler and the gateway loop, and
// bootstraps either role from persistent state.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
	"github.com/Alexey-Lukin/silken-net/internal/storage"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

// Board is the hardware a node boots on.
type Board struct {
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
	HardwareID hal.HardwareID
	Transport  hal.Transport
	Scorer     hal.Scorer
	Registers  local.Store
	Device     *Device
}

// Controller bootstraps the node, wires all components, and runs until shutdown.
type Controller struct {
	cfg      *config.Config
	nodeType ComponentType
	board    Board
	logger   *zap.Logger

	tickLimit int
	boots     int
	onGateway func(*Gateway)
	leaf      *Leaf
}

// NewController creates a Controller for the given node type.
func NewController(cfg *config.Config, nodeType ComponentType, board Board, logger *zap.Logger) *Controller {
	if board.Device == nil {
		board.Device = NewDevice()
	}
	return &Controller{
		cfg:      cfg,
		nodeType: nodeType,
		board:    board,
		logger:   logger,
	}
}

// SetTickLimit stops Run after n leaf ticks or gateway steps. Zero runs until ctx is done.
func (c *Controller) SetTickLimit(n int) { c.tickLimit = n }

// OnGateway registers a callback invoked once the gateway is built, before its loop starts.
func (c *Controller) OnGateway(fn func(*Gateway)) { c.onGateway = fn }

// Boots returns how many times the leaf was booted from the register file.
func (c *Controller) Boots() int { return c.boots }

// Leaf returns the most recently booted leaf, nil for a gateway.
func (c *Controller) Leaf() *Leaf { return c.leaf }

// Run opens the register file, establishes identity and runs the role loop
// until ctx is cancelled or the tick limit is reached.
func (c *Controller) Run(ctx context.Context) error {
	state := storage.New(c.board.Registers, c.logger)
	if err := state.Init(); err != nil {
		return fmt.Errorf("state init: %w", err)
	}
	defer state.Close()

	did, firstBoot, err := identity.LoadOrCreate(state, c.board.HardwareID, c.board.Entropy)
	if errors.Is(err, identity.ErrIdentitySource) {
		c.logger.Warn("Identity source failed, pinning fallback DID", zap.Error(err))
		did, err = identity.Pin(state, identity.Fallback)
		firstBoot = true
	}
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	c.logger.Info("Starting silken-net node",
		zap.String("role", c.nodeType.String()),
		zap.Stringer("did", did),
		zap.Bool("firstBoot", firstBoot),
	)

	switch c.nodeType {
	case RoleLeaf:
		return c.runLeaf(ctx, did, state, firstBoot)
	case RoleGateway:
		return c.runGateway(ctx, did)
	default:
		return fmt.Errorf("unsupported role %s", c.nodeType)
	}
}

func (c *Controller) leafHardware() LeafHardware {
	b := c.board
	return LeafHardware{
		Radio:      b.Radio,
		Cipher:     b.Cipher,
		Sensors:    b.Sensors,
		Sampler:    b.Sampler,
		Classifier: b.Classifier,
		Power:      b.Power,
		Watchdog:   b.Watchdog,
		Code:       b.Code,
		System:     b.System,
		Clock:      b.Clock,
		Entropy:    b.Entropy,
		Scorer:     b.Scorer,
	}
}

// runLeaf ticks the leaf, rebooting it from the register file after an OTA
// restart or an unexpected tick failure.
func (c *Controller) runLeaf(ctx context.Context, did identity.DID, state *storage.NodeState, firstBoot bool) error {
	lcfg := LeafConfig{
		TickInterval:      c.cfg.Schedule.Tick,
		ListenWindow:      c.cfg.Radio.ListenWindow,
		ListenThresholdMV: c.cfg.Radio.ListenThresholdMV,
	}

	ticks := 0
	for {
		leaf, err := NewLeaf(did, c.leafHardware(), lcfg, state, c.board.Device, c.logger)
		if err != nil {
			return err
		}
		c.leaf = leaf
		c.boots++
		if firstBoot {
			if err := leaf.ForgetRelay(); err != nil {
				return fmt.Errorf("reset relay state: %w", err)
			}
			firstBoot = false
		}

		for {
			if ctx.Err() != nil || (c.tickLimit > 0 && ticks >= c.tickLimit) {
				return nil
			}
			ticks++
			err := leaf.Tick(ctx)
			if err == nil || errors.Is(err, ErrBrownout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrRestart) {
				c.logger.Info("Restarting into new firmware")
			} else {
				c.logger.Error("Tick failed, rebooting from registers", zap.Error(err))
			}
			break
		}
	}
}

func (c *Controller) runGateway(ctx context.Context, did identity.DID) error {
	gw := NewGateway(did, GatewayHardware{
		Radio:     c.board.Radio,
		Cipher:    c.board.Cipher,
		Transport: c.board.Transport,
		Clock:     c.board.Clock,
	}, GatewayConfig{
		ReceiveTimeout: c.cfg.Radio.ReceiveTimeout,
		CacheCapacity:  c.cfg.Cache.Capacity,
		FlushMargin:    c.cfg.Cache.FlushMargin,
		FlushInterval:  c.cfg.Cache.FlushInterval,
		BatchSize:      c.cfg.Cache.BatchSize,
		OTABlockSize:   c.cfg.OTA.BlockSize,
	}, c.logger)

	if c.cfg.OTA.ImagePath != "" {
		if err := c.startCampaign(gw); err != nil {
			return err
		}
	}
	if c.onGateway != nil {
		c.onGateway(gw)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.startGatewaySchedulers(ctx, gw)

	for steps := 0; c.tickLimit == 0 || steps < c.tickLimit; steps++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := gw.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Gateway step failed", zap.Error(err))
		}
	}
	return nil
}

// startCampaign loads the configured image, checks it against its manifest
// when one is given, and starts broadcasting it.
func (c *Controller) startCampaign(gw *Gateway) error {
	image, err := os.ReadFile(c.cfg.OTA.ImagePath)
	if err != nil {
		return fmt.Errorf("read ota image: %w", err)
	}
	if c.cfg.OTA.ManifestPath != "" {
		m, err := ota.ReadManifest(c.cfg.OTA.ManifestPath)
		if err != nil {
			return fmt.Errorf("read ota manifest: %w", err)
		}
		if err := m.Verify(image); err != nil {
			return err
		}
		c.logger.Info("OTA manifest verified", zap.String("version", m.Version), zap.String("cid", m.CID))
	}
	_, err = gw.StartOTA(image, c.cfg.OTA.SinglePass)
	return err
}

func (c *Controller) startGatewaySchedulers(ctx context.Context, gw *Gateway) {
	interval := c.cfg.Schedule.StatusReport
	if interval <= 0 {
		return
	}

	// Status report
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := gw.Status()
				c.logger.Info("Gateway status",
					zap.Int("received", s.Received),
					zap.Int("cached", s.Cached),
					zap.Int("flushes", s.Flushes),
					zap.Int("uplinkErrors", s.UplinkErrors),
				)
			}
		}
	}()
}
