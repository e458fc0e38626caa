package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/finder"
	"github.com/DoyleJ11/jetfinder/internal/session"
	"github.com/DoyleJ11/jetfinder/internal/storage"
	"github.com/DoyleJ11/jetfinder/internal/types"
)

type fakeFinder struct {
	mu        sync.Mutex
	sess      *session.Session
	cfg       engine.GameConfig
	configErr error
	scanning  bool
	names     []string
}

func (f *fakeFinder) Session() *session.Session { return f.sess }

func (f *fakeFinder) StartScanning(context.Context) { f.setScanning(true) }

func (f *fakeFinder) StopScanning() { f.setScanning(false) }

func (f *fakeFinder) setScanning(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = on
}

func (f *fakeFinder) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

func (f *fakeFinder) IsUserRegistered(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names) > 0, nil
}

func (f *fakeFinder) registered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func (f *fakeFinder) TaskForSpotID(_ context.Context, id int) (engine.TaskItem, bool) {
	return f.cfg.Task(id)
}

func (f *fakeFinder) LoadGameConfig(ctx context.Context) (engine.GameConfig, error) {
	f.mu.Lock()
	configErr := f.configErr
	f.mu.Unlock()
	if configErr != nil {
		return engine.GameConfig{}, &finder.ActionError{
			Action: finder.ActionLoadConfig,
			Err:    configErr,
			Retry:  func(context.Context) error { return nil },
		}
	}
	return f.cfg, f.sess.SetConfig(ctx, f.cfg)
}

func (f *fakeFinder) SendWinnerName(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &finder.ActionError{Action: finder.ActionRegister, Err: finder.ErrEmptyName}
	}
	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()
	return "thanks " + name, nil
}

func (f *fakeFinder) ResetCookies(context.Context) error { return nil }

func newServer(t *testing.T) (*httptest.Server, *fakeFinder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fakeFinder{
		sess: session.New(ctx, storage.NewMemory(), engine.Rules{}, zap.NewNop()),
		cfg: engine.GameConfig{
			Tasks:  []engine.TaskItem{{Code: 5, Title: "Gate", Hint: "look up"}},
			Active: 1,
		},
	}
	srv := httptest.NewServer(SetupRoutes(f, []string{"app.example"}, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, f
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRoutes_Healthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_StateAndScan(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.MsgStateSnapshot, body["type"])
	assert.Equal(t, false, body["scanning"])
	state := body["state"].(map[string]any)
	assert.Equal(t, string(engine.ButtonTooFar), state["button"])
	assert.Equal(t, []any{}, state["collected_spot_ids"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/scan/start", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/state", "")
	assert.Equal(t, true, body["scanning"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/scan/stop", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRoutes_Tasks(t *testing.T) {
	srv, _ := newServer(t)

	cases := []struct {
		path   string
		status int
	}{
		{"/tasks/5", http.StatusOK},
		{"/tasks/6", http.StatusNotFound},
		{"/tasks/gate", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp, body := do(t, http.MethodGet, srv.URL+tc.path, "")
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusOK {
				assert.Equal(t, "look up", body["hint"])
			} else {
				assert.Equal(t, types.MsgError, body["type"])
			}
		})
	}
}

func TestRoutes_LoadConfigError(t *testing.T) {
	srv, f := newServer(t)
	f.mu.Lock()
	f.configErr = errors.New("backend down")
	f.mu.Unlock()

	resp, body := do(t, http.MethodPost, srv.URL+"/config/load", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "backend down", body["error"])
	assert.Equal(t, finder.ActionLoadConfig, body["action"])
	assert.Equal(t, true, body["retry"])
}

func TestRoutes_Register(t *testing.T) {
	srv, f := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/register", `{"name":" Ada "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thanks Ada", body["message"])
	assert.Equal(t, []string{"Ada"}, f.registered())

	resp, body = do(t, http.MethodPost, srv.URL+"/register", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, finder.ActionRegister, body["action"])
	assert.Nil(t, body["retry"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/register", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readMessage(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebsocket_StreamsSnapshots(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMessage(t, conn)
	require.Equal(t, types.MsgStateSnapshot, first.Type)
	assert.False(t, first.State.ConfigLoaded)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"LoadConfig"}`)))
	next := readMessage(t, conn)
	require.Equal(t, types.MsgStateSnapshot, next.Type)
	assert.True(t, next.State.ConfigLoaded)
	assert.Greater(t, next.Version, first.Version)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Dance"}`)))
	bad := readMessage(t, conn)
	assert.Equal(t, types.MsgError, bad.Type)
	assert.Equal(t, "unknown type", bad.Error)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Register","name":"Ada"}`)))
	reg := readMessage(t, conn)
	assert.Equal(t, types.MsgRegistered, reg.Type)
	assert.Equal(t, "thanks Ada", reg.Message)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebsocket_DisconnectReleasesObserver(t *testing.T) {
	srv, f := newServer(t)
	ctx := context.Background()

	// Let the server settle before measuring.
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	readMessage(t, conn)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		v, err := f.sess.View(ctx)
		return err == nil && v.NumClients == 0
	}, time.Second, 5*time.Millisecond)
	baseline := runtime.NumGoroutine()

	for range 20 {
		conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
		require.NoError(t, err)
		readMessage(t, conn)
		require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	}

	require.Eventually(t, func() bool {
		v, err := f.sess.View(ctx)
		return err == nil && v.NumClients == 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 2*time.Second, 10*time.Millisecond, "goroutines: baseline %d", baseline)
}

func TestWebsocket_OriginCheck(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	cases := []struct {
		origin string
		ok     bool
	}{
		{"http://app.example", true},
		{"http://evil.example", false},
	}
	for _, tc := range cases {
		t.Run(tc.origin, func(t *testing.T) {
			conn, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{tc.origin}},
			})
			if !tc.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			defer conn.Close(websocket.StatusNormalClosure, "")
			assert.Equal(t, types.MsgStateSnapshot, readMessage(t, conn).Type)
		})
	}
}
