package node_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/contract"
	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/node"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
	"github.com/Alexey-Lukin/silken-net/internal/sim"
	"github.com/Alexey-Lukin/silken-net/internal/storage/local"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Schedule.Tick = time.Millisecond
	cfg.Schedule.StatusReport = 0
	cfg.Radio.ListenWindow = 5 * time.Millisecond
	cfg.Radio.ReceiveTimeout = 5 * time.Millisecond
	return cfg
}

func board(t *testing.T, radio hal.Radio, regs local.Store, chip hal.HardwareID) node.Board {
	t.Helper()
	c, err := sim.NewECBCipher(sim.NetworkKey)
	require.NoError(t, err)
	return node.Board{
		Radio:      radio,
		Cipher:     c,
		Sensors:    sim.NewSensors(hal.Reading{CapacitorMV: 3300, TemperatureC: 12}),
		Sampler:    &sim.Sampler{},
		Classifier: sim.Classifier{},
		Power:      &sim.Power{},
		Watchdog:   &sim.Watchdog{},
		Code:       &sim.Flash{},
		System:     &sim.ResetLine{},
		Clock:      sim.NewClock(time.Unix(1_700_000_000, 0)),
		Entropy:    sim.NewEntropy(42),
		HardwareID: chip,
		Transport:  &sim.Transport{},
		Scorer:     contract.Score,
		Registers:  regs,
	}
}

func TestControllerPinsIdentityAcrossBoots(t *testing.T) {
	m := sim.NewMedium()
	listener := m.Join("gw")
	m.Link("leaf", "gw", -50)
	regs := local.NewPebbleStore(filepath.Join(t.TempDir(), "state"), zap.NewNop())
	chip := sim.ChipID{0x11, 0x22, 0x33}

	first := node.NewController(testConfig(), node.RoleLeaf, board(t, m.Join("leaf"), regs, chip), zap.NewNop())
	first.SetTickLimit(2)
	require.NoError(t, first.Run(context.Background()))
	require.NotNil(t, first.Leaf())
	did := first.Leaf().DID()
	assert.NotZero(t, did)

	second := node.NewController(testConfig(), node.RoleLeaf, board(t, m.Join("leaf"), regs, sim.ChipID{9, 9, 9}), zap.NewNop())
	second.SetTickLimit(1)
	require.NoError(t, second.Run(context.Background()))
	assert.Equal(t, did, second.Leaf().DID())

	pkt, err := listener.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, frame.Size)
}

func TestControllerFallsBackWhenIdentitySourceFails(t *testing.T) {
	m := sim.NewMedium()
	regs := local.NewMemoryStore(zap.NewNop())

	c := node.NewController(testConfig(), node.RoleLeaf, board(t, m.Join("leaf"), regs, sim.BrokenChipID{}), zap.NewNop())
	c.SetTickLimit(1)
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, identity.Fallback, c.Leaf().DID())
	assert.Equal(t, 1, c.Boots())
}

func TestControllerRebootsLeafAfterOTA(t *testing.T) {
	m := sim.NewMedium()
	gw := m.Join("gw")
	m.Link("leaf", "gw", -50)
	regs := local.NewMemoryStore(zap.NewNop())
	b := board(t, m.Join("leaf"), regs, sim.ChipID{1, 2, 3})
	flash := b.Code.(*sim.Flash)

	cipher, err := sim.NewECBCipher(sim.NetworkKey)
	require.NoError(t, err)
	chunk := frame.Chunk{Index: 0, Total: 1, Payload: []byte("new firmware!")}
	plain := chunk.Encode(frame.Size)
	enc := make([]byte, len(plain))
	require.NoError(t, cipher.Encrypt(enc, plain))
	require.NoError(t, gw.Send(context.Background(), enc))

	ctrl := node.NewController(testConfig(), node.RoleLeaf, b, zap.NewNop())
	ctrl.SetTickLimit(2)
	require.NoError(t, ctrl.Run(context.Background()))

	assert.Equal(t, 2, ctrl.Boots())
	img, err := flash.ReadImage()
	require.NoError(t, err)
	assert.Equal(t, []byte("new firmware!"), img)
}

func TestControllerGatewayBroadcastsVerifiedImage(t *testing.T) {
	dir := t.TempDir()
	image := []byte("firmware payload split across chunks")
	imagePath := filepath.Join(dir, "fw.bin")
	manifestPath := filepath.Join(dir, "fw.yaml")
	require.NoError(t, os.WriteFile(imagePath, image, 0o644))
	m, err := ota.NewManifest("1.0.0", image, frame.Size)
	require.NoError(t, err)
	require.NoError(t, ota.WriteManifest(manifestPath, m))

	cfg := testConfig()
	cfg.OTA.ImagePath = imagePath
	cfg.OTA.ManifestPath = manifestPath

	medium := sim.NewMedium()
	regs := local.NewMemoryStore(zap.NewNop())
	ctrl := node.NewController(cfg, node.RoleGateway, board(t, medium.Join("gw"), regs, sim.ChipID{4, 5, 6}), zap.NewNop())
	ctrl.SetTickLimit(1)

	var gw *node.Gateway
	ctrl.OnGateway(func(g *node.Gateway) { gw = g })
	require.NoError(t, ctrl.Run(context.Background()))
	require.NotNil(t, gw)

	s := gw.Status()
	require.NotNil(t, s.OTA)
	assert.True(t, s.OTA.Active)
	assert.Equal(t, m.TotalChunks, s.OTA.Total)
}

func TestControllerGatewayRejectsTamperedImage(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "fw.bin")
	manifestPath := filepath.Join(dir, "fw.yaml")
	m, err := ota.NewManifest("1.0.0", []byte("original"), frame.Size)
	require.NoError(t, err)
	require.NoError(t, ota.WriteManifest(manifestPath, m))
	require.NoError(t, os.WriteFile(imagePath, []byte("tampered"), 0o644))

	cfg := testConfig()
	cfg.OTA.ImagePath = imagePath
	cfg.OTA.ManifestPath = manifestPath

	ctrl := node.NewController(cfg, node.RoleGateway, board(t, sim.NewMedium().Join("gw"), local.NewMemoryStore(zap.NewNop()), sim.ChipID{1}), zap.NewNop())
	err = ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ota.ErrManifestMismatch)
}
