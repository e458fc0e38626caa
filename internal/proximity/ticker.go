package proximity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/engine"
)

const DefaultInterval = 500 * time.Millisecond

// Target is the state machine a tick reports to.
type Target interface {
	GameEnded(ctx context.Context) (bool, error)
	ApplyProximity(info *engine.ProximityInfo)
}

// Ticker drains the sighting buffer on a fixed cadence and resolves each
// batch. Ticks run one after another; a slow backend delays the next tick
// instead of overlapping it.
type Ticker struct {
	buffer   *Buffer
	resolver *Resolver
	target   Target
	interval time.Duration
	logger   *zap.Logger

	// NoDevices, if set, is called on every tick that found no sightings.
	NoDevices func()
}

func NewTicker(buffer *Buffer, resolver *Resolver, target Target, interval time.Duration, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		buffer:   buffer,
		resolver: resolver,
		target:   target,
		interval: interval,
		logger:   logger.Named("ticker"),
	}
}

func (t *Ticker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one proximity cycle.
func (t *Ticker) Tick(ctx context.Context) {
	batch := t.buffer.Drain()
	t.logger.Debug("scan results", zap.Int("count", len(batch)))

	if len(batch) == 0 {
		if t.NoDevices != nil {
			t.NoDevices()
		}
		return
	}

	ended, err := t.target.GameEnded(ctx)
	if err != nil {
		t.logger.Warn("reading game state", zap.Error(err))
		return
	}
	if ended {
		return
	}

	t.target.ApplyProximity(t.resolver.Resolve(ctx, batch))
}
