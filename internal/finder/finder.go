// Package finder wires the beacon pipeline together and exposes the
// operations the UI calls.
package finder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/proximity"
	"github.com/DoyleJ11/jetfinder/internal/session"
	"github.com/DoyleJ11/jetfinder/internal/storage"
	"github.com/DoyleJ11/jetfinder/pkg/types"
)

var ErrEmptyName = errors.New("player name is empty")

const (
	ActionLoadConfig = "load_config"
	ActionRegister   = "register"
)

// ActionError is a failure of a user initiated call. The UI shows it and may
// offer Retry when it is set.
type ActionError struct {
	Action string
	Err    error
	Retry  func(ctx context.Context) error
}

func (e *ActionError) Error() string { return e.Action + ": " + e.Err.Error() }

func (e *ActionError) Unwrap() error { return e.Err }

// Backend is the remote finder API.
type Backend interface {
	proximity.API
	Config(ctx context.Context) (types.ConfigResponse, error)
	Register(ctx context.Context, name string) (types.RegisterResponse, error)
}

type Storage interface {
	storage.CollectedSpots
	storage.KeyValue
}

type Options struct {
	RetryDelay   time.Duration
	TickInterval time.Duration
	Rules        engine.Rules
	// NoDevices is called on every tick without sightings.
	NoDevices func()
}

type Finder struct {
	backend Backend
	store   Storage
	session *session.Session
	buffer  *proximity.Buffer
	scanner *beacon.Scanner
	ticker  *proximity.Ticker
	logger  *zap.Logger
}

func New(ctx context.Context, adapter beacon.Adapter, backend Backend, store Storage, opts Options, logger *zap.Logger) *Finder {
	sess := session.New(ctx, store, opts.Rules, logger)
	buffer := proximity.NewBuffer()

	f := &Finder{
		backend: backend,
		store:   store,
		session: sess,
		buffer:  buffer,
		scanner: beacon.NewScanner(adapter, buffer, logger, opts.RetryDelay),
		ticker:  proximity.NewTicker(buffer, proximity.NewResolver(backend, logger), sess, opts.TickInterval, logger),
		logger:  logger.Named("finder"),
	}
	f.ticker.NoDevices = func() {
		sess.ReportNoDevices()
		if opts.NoDevices != nil {
			opts.NoDevices()
		}
	}
	return f
}

// Run drives the scanner dispatch loop and the proximity ticks until ctx is
// done.
func (f *Finder) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.scanner.Run(gctx) })
	g.Go(func() error { return f.ticker.Run(gctx) })
	return g.Wait()
}

func (f *Finder) Session() *session.Session { return f.session }

func (f *Finder) StartScanning(ctx context.Context) { f.scanner.Start(ctx) }

func (f *Finder) StopScanning() { f.scanner.Stop() }

func (f *Finder) IsScanning() bool { return f.scanner.IsScanning() }

func (f *Finder) IsUserRegistered(ctx context.Context) (bool, error) {
	return f.store.IsUserRegistered(ctx)
}

// TaskForSpotID looks the spot up in the loaded config.
func (f *Finder) TaskForSpotID(ctx context.Context, id int) (engine.TaskItem, bool) {
	v, err := f.session.View(ctx)
	if err != nil {
		f.logger.Warn("reading session", zap.Error(err))
		return engine.TaskItem{}, false
	}
	return v.Config.Task(id)
}

// LoadGameConfig fetches the game config once and caches it in the session.
func (f *Finder) LoadGameConfig(ctx context.Context) (engine.GameConfig, error) {
	v, err := f.session.View(ctx)
	if err != nil {
		return engine.GameConfig{}, fmt.Errorf("reading session: %w", err)
	}
	if v.Config != nil {
		return *v.Config, nil
	}

	resp, err := f.backend.Config(ctx)
	if err != nil {
		return engine.GameConfig{}, &ActionError{
			Action: ActionLoadConfig,
			Err:    err,
			Retry: func(ctx context.Context) error {
				_, err := f.LoadGameConfig(ctx)
				return err
			},
		}
	}
	f.logger.Debug("game config response", zap.Int("tasks", len(resp.Tasks)), zap.Int("active", resp.Active))

	cfg := toGameConfig(resp)
	if err := f.session.SetConfig(ctx, cfg); err != nil {
		return engine.GameConfig{}, err
	}
	return cfg, nil
}

// SendWinnerName registers the player and returns the server message.
func (f *Finder) SendWinnerName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return "", &ActionError{Action: ActionRegister, Err: ErrEmptyName}
	}

	resp, err := f.backend.Register(ctx, name)
	if err != nil {
		return "", &ActionError{
			Action: ActionRegister,
			Err:    err,
			Retry: func(ctx context.Context) error {
				_, err := f.SendWinnerName(ctx, name)
				return err
			},
		}
	}

	if err := f.store.SetUserRegistered(ctx, true); err != nil {
		f.logger.Error("storing registration", zap.Error(err))
	}

	var msg string
	if resp.Message != nil {
		msg = *resp.Message
	}
	f.logger.Info("register response", zap.String("message", msg))
	return msg, nil
}

// ResetCookies drops the backend session.
func (f *Finder) ResetCookies(ctx context.Context) error {
	if err := f.store.SetCookies(ctx, nil); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}
	f.logger.Info("cookies cleared")
	return nil
}

// Close stops scanning and the session loop.
func (f *Finder) Close() {
	f.scanner.Stop()
	select {
	case f.session.Inbox() <- session.Shutdown{}:
	case <-f.session.Done():
	}
}

func toGameConfig(resp types.ConfigResponse) engine.GameConfig {
	tasks := make([]engine.TaskItem, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		tasks = append(tasks, engine.TaskItem{
			Code:        t.Code,
			Title:       t.Title,
			Description: t.Description,
			Hint:        t.Hint,
		})
	}
	return engine.GameConfig{Tasks: tasks, Active: resp.Active}
}
