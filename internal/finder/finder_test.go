package finder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/gameapi"
	"github.com/DoyleJ11/jetfinder/internal/storage"
	"github.com/DoyleJ11/jetfinder/pkg/types"
)

type fakeAdapter struct {
	mu       sync.Mutex
	scanning bool
	onEvent  func(beacon.Event)
}

func (a *fakeAdapter) Scan(onEvent func(beacon.Event)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = true
	a.onEvent = onEvent
	return nil
}

func (a *fakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	return nil
}

func (a *fakeAdapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *fakeAdapter) see(name string, rssi int) {
	a.mu.Lock()
	cb := a.onEvent
	a.mu.Unlock()
	cb(beacon.RSSIUpdated{Peripheral: beacon.Peripheral{Name: name, RSSI: &rssi}})
}

// fakeBackend answers like the finder server: spot 5 is beacon A, spot 9 is
// beacon B, and every spot seen so far is reported on each tick.
type fakeBackend struct {
	failConfig    atomic.Bool
	failProximity atomic.Bool
	registered    atomic.Value
	seenB         atomic.Bool
	proximity     atomic.Int32
}

func (b *fakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/finder/config", func(w http.ResponseWriter, r *http.Request) {
		if b.failConfig.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(types.ConfigResponse{
			Tasks:  []types.TaskResponse{{Code: 5, Title: "Gate"}, {Code: 9, Title: "Hangar"}},
			Active: 2,
		})
	})
	r.Get("/finder/proximity", func(w http.ResponseWriter, r *http.Request) {
		b.proximity.Add(1)
		if b.failProximity.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if strings.Contains(r.URL.Query().Get("beacons"), "B:") {
			b.seenB.Store(true)
		}
		ids := []int{5}
		if b.seenB.Load() {
			ids = append(ids, 9)
		}
		json.NewEncoder(w).Encode(types.ProximityResponse{DiscoveredBeaconsIDs: ids})
	})
	r.Get("/finder/register", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		b.registered.Store(name)
		msg := "well done " + name
		json.NewEncoder(w).Encode(types.RegisterResponse{Message: &msg})
	})
	return r
}

type harness struct {
	finder  *Finder
	adapter *fakeAdapter
	backend *fakeBackend
	store   *storage.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	be := &fakeBackend{}
	srv := httptest.NewServer(be.routes())
	t.Cleanup(srv.Close)

	store := storage.NewMemory()
	client, err := gameapi.New(srv.URL, time.Second, store, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	adapter := &fakeAdapter{}
	f := New(ctx, adapter, client, store, Options{
		RetryDelay:   5 * time.Millisecond,
		TickInterval: 10 * time.Millisecond,
	}, logger)
	go f.Run(ctx)
	t.Cleanup(f.Close)

	return &harness{finder: f, adapter: adapter, backend: be, store: store}
}

func TestFinder_CollectsSpotsUntilGameEnds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)

	h.finder.StartScanning(ctx)
	require.Eventually(t, h.finder.IsScanning, time.Second, 5*time.Millisecond)

	h.adapter.see("A", -40)
	require.Eventually(t, func() bool {
		v, err := h.finder.Session().View(ctx)
		return err == nil && len(v.State.Collected) == 1
	}, time.Second, 5*time.Millisecond)

	v, err := h.finder.Session().View(ctx)
	require.NoError(t, err)
	assert.False(t, v.Ended)
	assert.Equal(t, 1, v.Step)

	h.adapter.see("B", -55)
	require.Eventually(t, func() bool {
		v, err := h.finder.Session().View(ctx)
		return err == nil && v.Ended
	}, time.Second, 5*time.Millisecond)

	v, err = h.finder.Session().View(ctx)
	require.NoError(t, err)
	require.NotNil(t, v.DiscoveredSpotID)
	assert.Equal(t, 9, *v.DiscoveredSpotID)
	assert.Equal(t, engine.ButtonCompleted, v.Button)

	ids, ok, err := h.store.CollectedSpotIDs(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{5, 9}, ids)
}

func TestFinder_ProximityFailureKeepsProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SetCollectedSpotIDs(ctx, []int{5}))
	_, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)

	h.backend.failProximity.Store(true)
	h.finder.StartScanning(ctx)
	require.Eventually(t, h.finder.IsScanning, time.Second, 5*time.Millisecond)

	// Two failed calls mean the first result has reached the session.
	require.Eventually(t, func() bool {
		h.adapter.see("A", -40)
		return h.backend.proximity.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	v, err := h.finder.Session().View(ctx)
	require.NoError(t, err)
	assert.False(t, v.Ended)
	assert.Equal(t, []int{5}, v.State.Collected)
	assert.Nil(t, v.DiscoveredSpotID)
}

func TestFinder_TaskForSpotID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, ok := h.finder.TaskForSpotID(ctx, 9)
	assert.False(t, ok, "no task before config is loaded")

	_, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)

	task, ok := h.finder.TaskForSpotID(ctx, 9)
	require.True(t, ok)
	assert.Equal(t, "Hangar", task.Title)

	_, ok = h.finder.TaskForSpotID(ctx, 42)
	assert.False(t, ok)
}

func TestFinder_LoadGameConfigErrorOffersRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.backend.failConfig.Store(true)

	_, err := h.finder.LoadGameConfig(ctx)
	var ae *ActionError
	require.True(t, errors.As(err, &ae), "want ActionError, got %v", err)
	assert.Equal(t, ActionLoadConfig, ae.Action)
	require.NotNil(t, ae.Retry)

	var se *gameapi.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)

	h.backend.failConfig.Store(false)
	require.NoError(t, ae.Retry(ctx))

	cfg, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Active)
}

func TestFinder_LoadGameConfigIsCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)

	h.backend.failConfig.Store(true)
	cfg, err := h.finder.LoadGameConfig(ctx)
	require.NoError(t, err)
	assert.Len(t, cfg.Tasks, 2)
}

func TestFinder_SendWinnerName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	registered, err := h.finder.IsUserRegistered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)

	msg, err := h.finder.SendWinnerName(ctx, "  Zoé ")
	require.NoError(t, err)
	assert.Equal(t, "well done Zoé", msg)
	assert.Equal(t, "Zoé", h.backend.registered.Load())

	registered, err = h.finder.IsUserRegistered(ctx)
	require.NoError(t, err)
	assert.True(t, registered)

	_, err = h.finder.SendWinnerName(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestFinder_ResetCookies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cookie := "session=1"
	require.NoError(t, h.store.SetCookies(ctx, &cookie))

	require.NoError(t, h.finder.ResetCookies(ctx))

	_, ok, err := h.store.Cookies(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFinder_NoDevicesCallback(t *testing.T) {
	var quiet atomic.Int32
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := New(ctx, &fakeAdapter{}, nil, storage.NewMemory(), Options{
		TickInterval: 5 * time.Millisecond,
		NoDevices:    func() { quiet.Add(1) },
	}, logger)
	go f.Run(ctx)
	t.Cleanup(f.Close)

	require.Eventually(t, func() bool { return quiet.Load() >= 2 }, time.Second, 5*time.Millisecond)

	v, err := f.Session().View(ctx)
	require.NoError(t, err)
	assert.True(t, v.Quiet)
}
