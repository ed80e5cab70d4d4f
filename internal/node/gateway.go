package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/cache"
	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/hal"
	"github.com/Alexey-Lukin/silken-net/internal/identity"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
)

// GatewayHardware bundles the collaborators a gateway runs on.
type GatewayHardware struct {
	Radio     hal.Radio
	Cipher    hal.Cipher
	Transport hal.Transport
	Clock     hal.Clock
}

// GatewayConfig holds the receive and flush policy.
type GatewayConfig struct {
	ReceiveTimeout time.Duration
	CacheCapacity  int
	FlushMargin    int
	FlushInterval  time.Duration
	BatchSize      int
	OTABlockSize   int
}

// GatewayStatus is the snapshot served by the status API.
type GatewayStatus struct {
	DID          string        `json:"did"`
	Received     int           `json:"received"`
	Dropped      int           `json:"dropped"`
	Cached       int           `json:"cached"`
	Capacity     int           `json:"capacity"`
	Flushes      int           `json:"flushes"`
	UplinkErrors int           `json:"uplink_errors"`
	ReplyErrors  int           `json:"reply_errors"`
	LastFlush    time.Time     `json:"last_flush"`
	OTA          *ota.Progress `json:"ota,omitempty"`
}

// CacheEntry is one decoded cache slot for the status API.
type CacheEntry struct {
	DID           string `json:"did"`
	RSSI          int8   `json:"rssi"`
	CapacitorMV   uint16 `json:"capacitor_mv"`
	Temperature   int8   `json:"temperature_c"`
	AcousticCount uint8  `json:"acoustic_count"`
	Panic         bool   `json:"panic"`
	Status        string `json:"status"`
	Growth        uint8  `json:"growth_points"`
	TTL           uint8  `json:"ttl"`
}

// Gateway aggregates leaf frames into the edge cache and uploads batches.
// Step is single-goroutine; Status, Entries and the OTA methods are safe to
// call concurrently with it.
type Gateway struct {
	did    identity.DID
	hw     GatewayHardware
	cfg    GatewayConfig
	cache  *cache.EdgeCache
	logger *zap.Logger

	mu          sync.Mutex
	broadcaster *ota.Broadcaster
	lastFlush   time.Time
	status      GatewayStatus
	entries     []CacheEntry
}

// NewGateway creates a gateway with an empty cache.
func NewGateway(did identity.DID, hw GatewayHardware, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	c := cache.New(cfg.CacheCapacity)
	g := &Gateway{
		did:       did,
		hw:        hw,
		cfg:       cfg,
		cache:     c,
		logger:    logger.With(zap.Stringer("did", did)),
		lastFlush: hw.Clock.Now(),
	}
	g.status = GatewayStatus{DID: did.String(), Capacity: c.Cap(), LastFlush: g.lastFlush}
	return g
}

// StartOTA begins broadcasting image, replacing any running campaign.
func (g *Gateway) StartOTA(image []byte, singlePass bool) (ota.Progress, error) {
	b, err := ota.NewBroadcaster(image, g.cfg.OTABlockSize, singlePass)
	if err != nil {
		return ota.Progress{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcaster = b
	p := b.Progress()
	g.status.OTA = &p
	g.logger.Info("OTA campaign started",
		zap.String("campaign", p.Campaign),
		zap.Int("chunks", p.Total),
		zap.Int("bytes", p.ImageBytes),
	)
	return p, nil
}

// StopOTA ends the running campaign, if any.
func (g *Gateway) StopOTA() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.broadcaster == nil {
		return
	}
	g.broadcaster.Stop()
	p := g.broadcaster.Progress()
	g.status.OTA = &p
}

// Status returns the latest snapshot.
func (g *Gateway) Status() GatewayStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.status
	if s.OTA != nil {
		p := *s.OTA
		s.OTA = &p
	}
	return s
}

// Entries returns the decoded cache contents as of the last Step.
func (g *Gateway) Entries() []CacheEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]CacheEntry(nil), g.entries...)
}

// Step receives at most one frame, answers with the next OTA chunk while a
// campaign runs, caches the frame and flushes the cache when due. A failed
// chunk reply is logged and counted; the frame is cached regardless.
func (g *Gateway) Step(ctx context.Context) error {
	pkt, err := g.hw.Radio.Receive(ctx, g.cfg.ReceiveTimeout)
	switch {
	case errors.Is(err, hal.ErrRxTimeout):
	case err != nil:
		return fmt.Errorf("receive: %w", err)
	default:
		if err := g.handle(ctx, pkt); err != nil {
			return err
		}
	}

	g.maybeFlush(ctx)
	g.refresh()
	return nil
}

func (g *Gateway) handle(ctx context.Context, pkt hal.Packet) error {
	if len(pkt.Data) != frame.Size {
		g.count(func(s *GatewayStatus) { s.Dropped++ })
		return nil
	}
	var plain [frame.Size]byte
	if err := g.hw.Cipher.Decrypt(plain[:], pkt.Data); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	if err := g.replyChunk(ctx); err != nil {
		g.logger.Warn("OTA reply failed", zap.Error(err))
		g.count(func(s *GatewayStatus) { s.ReplyErrors++ })
	}

	if frame.IsChunk(plain[:]) {
		g.count(func(s *GatewayStatus) { s.Dropped++ })
		return nil
	}
	sender := frame.SenderOf(plain[:])
	g.cache.Upsert(sender, plain, pkt.RSSI)
	g.count(func(s *GatewayStatus) { s.Received++ })
	g.logger.Debug("Frame cached",
		zap.Uint32("sender", sender),
		zap.Int8("rssi", pkt.RSSI),
		zap.Int("cached", g.cache.Len()),
	)
	return nil
}

// replyChunk sends the next chunk of the active campaign, if any.
func (g *Gateway) replyChunk(ctx context.Context) error {
	g.mu.Lock()
	b := g.broadcaster
	g.mu.Unlock()
	if b == nil {
		return nil
	}
	c, ok := b.Next()
	if !ok {
		return nil
	}
	plain := c.Encode(g.cfg.OTABlockSize)
	enc := make([]byte, len(plain))
	if err := g.hw.Cipher.Encrypt(enc, plain); err != nil {
		return fmt.Errorf("encrypt chunk: %w", err)
	}
	if err := g.hw.Radio.Send(ctx, enc); err != nil {
		return fmt.Errorf("send chunk %d: %w", c.Index, err)
	}
	return nil
}

func (g *Gateway) maybeFlush(ctx context.Context) {
	now := g.hw.Clock.Now()
	if !cache.ShouldFlush(g.cache.Len(), g.cache.Cap(), g.cfg.FlushMargin, now.Sub(g.lastFlush), g.cfg.FlushInterval) {
		return
	}

	batch, complete := g.cache.Flush(g.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	if err := g.hw.Transport.Send(ctx, batch); err != nil {
		g.logger.Error("Uplink failed, requeueing batch", zap.Error(err))
		g.requeue(batch)
		g.count(func(s *GatewayStatus) { s.UplinkErrors++ })
		return
	}
	g.lastFlush = now
	g.count(func(s *GatewayStatus) {
		s.Flushes++
		s.LastFlush = now
	})
	g.logger.Info("Cache flushed",
		zap.Int("records", len(batch)/cache.RecordSize),
		zap.Bool("complete", complete),
		zap.Int("remaining", g.cache.Len()),
	)
}

// requeue puts an undelivered batch back. Nothing was received since the
// flush, so no newer entry is overwritten.
func (g *Gateway) requeue(batch []byte) {
	recs, err := cache.DecodeBatch(batch)
	if err != nil {
		g.logger.Error("Undeliverable batch dropped", zap.Error(err))
		return
	}
	for _, r := range recs {
		g.cache.Upsert(r.DID, r.Payload, r.RSSI)
	}
}

func (g *Gateway) count(fn func(*GatewayStatus)) {
	g.mu.Lock()
	fn(&g.status)
	g.mu.Unlock()
}

// refresh publishes the cache contents for concurrent readers.
func (g *Gateway) refresh() {
	snap := g.cache.Snapshot()
	entries := make([]CacheEntry, 0, len(snap))
	for _, s := range snap {
		e := CacheEntry{DID: identity.DID(s.Key).String(), RSSI: s.Signal}
		if t, err := frame.DecodeTelemetry(s.Payload[:]); err == nil {
			status, growth := cache.StatusOf(t.ContractScore)
			e.CapacitorMV = t.CapacitorMV
			e.Temperature = t.Temperature
			e.AcousticCount = t.AcousticCount
			e.Panic = t.IsPanic()
			e.Status = status.String()
			e.Growth = growth
			e.TTL = t.TTL
		}
		entries = append(entries, e)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = entries
	g.status.Cached = g.cache.Len()
	if g.broadcaster != nil {
		p := g.broadcaster.Progress()
		g.status.OTA = &p
	}
}
