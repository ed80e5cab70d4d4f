// Package mesh runs a whole simulated deployment in one process: a gateway
// and a chain of leaves sharing one radio medium.
package mesh

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/contract"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/node"
	"github.com/Alexey-Lukin/silken-net/internal/sim"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

// GatewayName is the radio name of the gateway on the medium.
const GatewayName = "gw"

// Options shape the simulated deployment.
type Options struct {
	// Leaves is the chain length. leaf-1 hears the gateway, leaf-N is the farthest.
	Leaves int
	// Ticks each leaf runs before the run ends.
	Ticks int
	// Chainsaw is the 1-based index of a leaf that hears a chainsaw on its first tick. Zero disables it.
	Chainsaw int
}

// LeafReport summarizes one leaf after the run.
type LeafReport struct {
	Name  string
	DID   identity.DID
	Boots int
	Stats node.LeafStats
	Sent  int
}

// Report summarizes the run.
type Report struct {
	Leaves  []LeafReport
	Gateway node.GatewayStatus
	Batches [][]byte
}

// NetworkKey decodes the hex network key from cfg.
func NetworkKey(cfg *config.Config) ([]byte, error) {
	key, err := hex.DecodeString(cfg.Radio.NetworkKey)
	if err != nil {
		return nil, fmt.Errorf("network key: %w", err)
	}
	return key, nil
}

// LeafName returns the radio name of the i-th leaf (1-based).
func LeafName(i int) string { return fmt.Sprintf("leaf-%d", i) }

// Run boots the gateway and every leaf, waits for the leaves to finish their
// ticks, then stops the gateway.
func Run(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (Report, error) {
	if opts.Leaves <= 0 {
		return Report{}, fmt.Errorf("mesh needs at least one leaf, got %d", opts.Leaves)
	}
	key, err := NetworkKey(cfg)
	if err != nil {
		return Report{}, err
	}
	cipher, err := sim.NewECBCipher(key)
	if err != nil {
		return Report{}, err
	}

	medium := sim.NewMedium()
	prev := GatewayName
	for i := 1; i <= opts.Leaves; i++ {
		medium.Link(prev, LeafName(i), int8(-55-5*min(i, 8)))
		prev = LeafName(i)
	}

	transport := &sim.Transport{}
	gwBoard := baseBoard(cipher, medium.Join(GatewayName), 0, logger)
	gwBoard.Transport = transport
	gwCtrl := node.NewController(cfg, node.RoleGateway, gwBoard, logger.Named(GatewayName))
	var gw *node.Gateway
	ready := make(chan struct{})
	gwCtrl.OnGateway(func(g *node.Gateway) {
		gw = g
		close(ready)
	})

	gwCtx, stopGateway := context.WithCancel(ctx)
	defer stopGateway()
	gwDone := make(chan error, 1)
	go func() { gwDone <- gwCtrl.Run(gwCtx) }()

	select {
	case <-ready:
	case err := <-gwDone:
		if err == nil {
			err = ctx.Err()
		}
		return Report{}, fmt.Errorf("gateway: %w", err)
	}

	leaves := make([]*node.Controller, opts.Leaves)
	radios := make([]*sim.Radio, opts.Leaves)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range leaves {
		idx := i + 1
		radios[i] = medium.Join(LeafName(idx))
		b := baseBoard(cipher, radios[i], idx, logger)
		if idx == opts.Chainsaw {
			b.Classifier = sim.Classifier{Class: hal.EventChainsaw, Confidence: 0.95}
			b.Device.OnVibration()
		}
		ctrl := node.NewController(cfg, node.RoleLeaf, b, logger.Named(LeafName(idx)))
		ctrl.SetTickLimit(opts.Ticks)
		leaves[i] = ctrl

		eg.Go(func() error {
			if err := ctrl.Run(egCtx); err != nil {
				return fmt.Errorf("%s: %w", LeafName(idx), err)
			}
			return nil
		})
	}

	leafErr := eg.Wait()
	stopGateway()
	gwErr := <-gwDone

	report := Report{Gateway: gw.Status(), Batches: transport.Batches()}
	for i, ctrl := range leaves {
		r := LeafReport{Name: LeafName(i + 1), Boots: ctrl.Boots(), Sent: radios[i].Sent()}
		if l := ctrl.Leaf(); l != nil {
			r.DID = l.DID()
			r.Stats = l.Stats()
		}
		report.Leaves = append(report.Leaves, r)
	}

	if leafErr != nil {
		return report, leafErr
	}
	if gwErr != nil {
		return report, fmt.Errorf("gateway: %w", gwErr)
	}
	return report, nil
}

// baseBoard builds a simulated board. seed keeps chip ids and entropy
// distinct per node.
func baseBoard(cipher hal.Cipher, radio *sim.Radio, seed int, logger *zap.Logger) node.Board {
	return node.Board{
		Radio:      radio,
		Cipher:     cipher,
		Sensors:    sim.NewSensors(hal.Reading{CapacitorMV: 3300, TemperatureC: int8(10 + seed%15)}),
		Sampler:    &sim.Sampler{},
		Classifier: sim.Classifier{},
		Power:      &sim.Power{},
		Watchdog:   &sim.Watchdog{},
		Code:       &sim.Flash{},
		System:     &sim.ResetLine{},
		Clock:      sim.WallClock{},
		Entropy:    sim.NewEntropy(int64(seed) + 1),
		HardwareID: sim.ChipID{0x5111C000 + uint32(seed), uint32(seed) * 7919, 0xEE},
		Transport:  &sim.Transport{},
		Scorer:     contract.Score,
		Registers:  local.NewMemoryStore(logger),
		Device:     node.NewDevice(),
	}
}
