package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/contract"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/mesh"
	"github.com/Alexey-Lukin/silken-net/internal/node"
	"github.com/Alexey-Lukin/silken-net/internal/sim"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

// hostBoard builds a single-node board: simulated peripherals with durable
// registers and code storage on the host filesystem.
func hostBoard(cfg *config.Config, logger *zap.Logger) (node.Board, error) {
	key, err := mesh.NetworkKey(cfg)
	if err != nil {
		return node.Board{}, err
	}
	cipher, err := sim.NewECBCipher(key)
	if err != nil {
		return node.Board{}, err
	}
	if dir := filepath.Dir(cfg.Node.CodePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return node.Board{}, fmt.Errorf("code dir: %w", err)
		}
	}

	// The chip id only matters on first boot, after which the DID is pinned.
	id := uuid.New()
	chip := sim.ChipID{
		binary.BigEndian.Uint32(id[0:4]),
		binary.BigEndian.Uint32(id[4:8]),
		binary.BigEndian.Uint32(id[8:12]),
	}

	return node.Board{
		Radio:      sim.NewMedium().Join("host"),
		Cipher:     cipher,
		Sensors:    sim.NewSensors(hal.Reading{CapacitorMV: 3300, TemperatureC: 20}),
		Sampler:    &sim.Sampler{},
		Classifier: sim.Classifier{},
		Power:      &sim.Power{Realtime: true},
		Watchdog:   &sim.Watchdog{},
		Code:       sim.FileFlash{Path: cfg.Node.CodePath},
		System:     &sim.ResetLine{},
		Clock:      sim.WallClock{},
		Entropy:    sim.NewEntropy(time.Now().UnixNano()),
		HardwareID: chip,
		Transport:  &sim.Transport{},
		Scorer:     contract.Score,
		Registers:  local.NewPebbleStore(cfg.Node.StatePath, logger),
		Device:     node.NewDevice(),
	}, nil
}
