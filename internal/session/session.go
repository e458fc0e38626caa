package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/storage"
)

var ErrClosed = errors.New("session closed")

type Msg interface{ isSessionMsg() }

type ProximityResolved struct {
	Info *engine.ProximityInfo
}

func (ProximityResolved) isSessionMsg() {}

// NoDevices reports a tick without any sighting.
type NoDevices struct{}

func (NoDevices) isSessionMsg() {}

type ConfigLoaded struct {
	Config engine.GameConfig
	Reply  chan struct{} // optional, closed once the config is visible
}

func (ConfigLoaded) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this observer wants to receive snapshots
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

// Snapshot is what observers render.
type Snapshot struct {
	Version          int
	State            engine.State
	Step             int
	Button           engine.ButtonState
	DiscoveredSpotID *int
	Ended            bool
	Quiet            bool
	ConfigLoaded     bool
}

type View struct {
	Snapshot
	NumClients int
	Config     *engine.GameConfig
}

// Session owns game progress. Every mutation happens on its loop goroutine;
// other goroutines talk to it through Inbox.
type Session struct {
	inbox   chan Msg
	state   engine.State
	config  *engine.GameConfig
	quiet   bool
	version int
	clients map[string]chan Snapshot
	store   storage.CollectedSpots
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, store storage.CollectedSpots, rules engine.Rules, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox:   make(chan Msg, 64),
		state:   engine.NewState(nil, rules),
		clients: make(map[string]chan Snapshot),
		store:   store,
		logger:  logger.Named("session"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	s.state.Collected = s.loadCollected()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				s.send(msg.ClientID, msg.Outbox, s.snapshot())

			case Leave:
				// Dropped observers are already closed and gone from the map.
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case ConfigLoaded:
				cfg := msg.Config
				s.config = &cfg
				s.publish()
				if msg.Reply != nil {
					close(msg.Reply)
				}

			case ProximityResolved:
				s.applyProximity(msg.Info)

			case NoDevices:
				if !s.quiet {
					s.quiet = true
					s.publish()
				}

			case GetState:
				msg.Reply <- View{
					Snapshot:   s.snapshot(),
					NumClients: len(s.clients),
					Config:     s.config,
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) applyProximity(info *engine.ProximityInfo) {
	s.quiet = false

	current := s.state
	current.Collected = s.loadCollected()

	events, next, err := engine.Apply(current, s.config, info)
	if err != nil {
		// No config yet, or a late result for a finished game.
		s.logger.Debug("proximity ignored", zap.Error(err))
		return
	}

	s.logger.Debug("progress",
		zap.Ints("collected", current.Collected),
		zap.Ints("discovered", discovered(info)),
		zap.Any("current", next.Current),
	)

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtCollectedChanged:
			if err := s.store.SetCollectedSpotIDs(s.ctx, ev.IDs); err != nil {
				s.logger.Error("persisting collected spots", zap.Error(err))
			}
		case engine.EvtSpotDiscovered:
			s.logger.Info("spot discovered", zap.Int("spot", ev.SpotID))
		}
	}
	if engine.ContainsEvent(events, engine.EvtGameCompleted) {
		s.logger.Info("game completed", zap.Int("collected", len(next.Collected)))
	}

	s.state = next
	s.publish()
}

// loadCollected reads the persisted set, falling back to memory if the store
// is unavailable.
func (s *Session) loadCollected() []int {
	ids, ok, err := s.store.CollectedSpotIDs(s.ctx)
	if err != nil {
		s.logger.Error("reading collected spots", zap.Error(err))
		return s.state.Collected
	}
	if !ok {
		return nil
	}
	return ids
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Version:          s.version,
		State:            s.state,
		Step:             engine.DeriveStep(s.state, s.config),
		Button:           engine.DeriveButton(s.state),
		DiscoveredSpotID: s.state.Current,
		Ended:            s.state.Ended,
		Quiet:            s.quiet,
		ConfigLoaded:     s.config != nil,
	}
}

func (s *Session) publish() {
	s.version++
	s.broadcast(s.snapshot())
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		s.send(id, ch, snap)
	}
}

func (s *Session) send(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		// Observer is slow/full - drop it.
		s.logger.Debug("dropping slow observer", zap.String("client", id))
		close(ch)
		delete(s.clients, id)
	}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch) // Tell observer no more snapshots
		delete(s.clients, id)
	}
	s.cancel()
}

// Expose the inbox so the pipeline and the UI layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) post(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View asks the loop for its current state.
func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// SetConfig installs the game config and waits until the loop has applied it.
func (s *Session) SetConfig(ctx context.Context, cfg engine.GameConfig) error {
	reply := make(chan struct{})
	if err := s.post(ctx, ConfigLoaded{Config: cfg, Reply: reply}); err != nil {
		return fmt.Errorf("installing config: %w", err)
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) GameEnded(ctx context.Context) (bool, error) {
	v, err := s.View(ctx)
	if err != nil {
		return false, err
	}
	return v.Ended, nil
}

func (s *Session) ApplyProximity(info *engine.ProximityInfo) {
	if err := s.post(s.ctx, ProximityResolved{Info: info}); err != nil {
		s.logger.Debug("proximity dropped", zap.Error(err))
	}
}

func (s *Session) ReportNoDevices() {
	if err := s.post(s.ctx, NoDevices{}); err != nil {
		s.logger.Debug("no-devices dropped", zap.Error(err))
	}
}

func discovered(info *engine.ProximityInfo) []int {
	if info == nil {
		return nil
	}
	return info.DiscoveredBeaconIDs
}
