package beacon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultRetryDelay = 500 * time.Millisecond

// Scanner keeps a BLE scan running and turns adapter events into sightings.
//
// Adapter callbacks are funneled through one channel and consumed by Run, so
// deduplication happens on a single goroutine in arrival order.
type Scanner struct {
	adapter    Adapter
	sink       Sink
	dedup      *Deduplicator
	logger     *zap.Logger
	retryDelay time.Duration

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	loop    *startLoop // non-nil while a start loop is running
	stopped bool       // set by Stop, cleared by Start
}

type startLoop struct {
	cancel context.CancelFunc
}

func NewScanner(adapter Adapter, sink Sink, logger *zap.Logger, retryDelay time.Duration) *Scanner {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Scanner{
		adapter:    adapter,
		sink:       sink,
		dedup:      NewDeduplicator(),
		logger:     logger.Named("scanner"),
		retryDelay: retryDelay,
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
	}
}

// Run dispatches adapter events until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// Start begins scanning. It is a no-op if a scan is running or being started.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	if s.adapter.Scanning() {
		return
	}
	if s.arm(ctx, 0, false) {
		s.logger.Debug("starting search")
	}
}

// Restart re-arms the start loop after a failure. The first attempt waits one
// retry delay so a persistently failing adapter is not hammered. It does
// nothing after Stop until the next Start.
func (s *Scanner) Restart(ctx context.Context) {
	if s.arm(ctx, s.retryDelay, true) {
		s.logger.Info("scanning restarted")
	}
}

// Stop halts the adapter scan and any pending start loop.
func (s *Scanner) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.loop != nil {
		s.loop.cancel()
		s.loop = nil
	}
	s.mu.Unlock()

	if err := s.adapter.StopScan(); err != nil {
		s.logger.Warn("stop scan", zap.Error(err))
	}
}

func (s *Scanner) IsScanning() bool {
	return s.adapter.Scanning()
}

func (s *Scanner) arm(ctx context.Context, wait time.Duration, restart bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil || (restart && s.stopped) {
		return false
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &startLoop{cancel: cancel}
	s.loop = l
	go s.runStartLoop(lctx, l, wait)
	return true
}

func (s *Scanner) runStartLoop(ctx context.Context, l *startLoop, wait time.Duration) {
	var failure error
	defer func() {
		s.mu.Lock()
		if s.loop == l {
			s.loop = nil
		}
		s.mu.Unlock()
		l.cancel()

		// Delivered after the loop is released so the dispatch loop can re-arm it.
		if failure != nil {
			s.deliver(ScanFailed{Err: failure})
		}
	}()

	if wait > 0 && !sleep(ctx, wait) {
		return
	}
	for {
		started, err := s.tryStart()
		if started {
			failure = err
			return
		}
		if !sleep(ctx, s.retryDelay) {
			return
		}
	}
}

func (s *Scanner) tryStart() (bool, error) {
	err := s.adapter.Scan(s.deliver)
	if err == nil {
		return true, nil
	}
	if IsTransient(err) {
		s.logger.Warn("known bluetooth error, trying again later", zap.Error(err))
		return false, nil
	}
	s.logger.Error("fail scan", zap.Error(err))
	return true, err
}

func (s *Scanner) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Scanner) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case DeviceDiscovered:
		s.sight(e.Peripheral)
	case RSSIUpdated:
		s.sight(e.Peripheral)
	case ScanFailed:
		s.logger.Error("scan failed", zap.Error(e.Err))
		s.Restart(ctx)
	}
}

func (s *Scanner) sight(p Peripheral) {
	info, ok := infoFrom(p)
	if !ok {
		return
	}
	info, ok = s.dedup.Process(info)
	if !ok {
		return
	}
	s.logger.Debug("beacon info", zap.String("name", info.Name), zap.Int("rssi", info.RSSI))
	s.sink.Push(info)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
