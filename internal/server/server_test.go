package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-door-controller/internal/config"
	"coop-door-controller/internal/core"
	"coop-door-controller/internal/door"
	"coop-door-controller/internal/journal"
	"coop-door-controller/internal/logging"
	"coop-door-controller/internal/sensor"
	"coop-door-controller/internal/settings"
)

type fakeCommands struct {
	mu         sync.Mutex
	outcome    door.Outcome
	doorErr    error
	opens      int
	current    settings.Settings
	writeErr   error
	level      float64
	lightErr   error
	historyErr error
	state      door.State
}

func (f *fakeCommands) Open(context.Context) (door.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.outcome, f.doorErr
}

func (f *fakeCommands) Close(context.Context) (door.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.doorErr
}

func (f *fakeCommands) GetSettings() settings.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeCommands) WriteSettings(s settings.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.current = s
	return nil
}

func (f *fakeCommands) ReadLightLevel() (float64, error) { return f.level, f.lightErr }

func (f *fakeCommands) UseCurrentLightAs(_ context.Context, which string) (settings.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if which == "open" {
		f.current.LightLevels.Open = f.level
	} else {
		f.current.LightLevels.Close = f.level
	}
	return f.current, nil
}

func (f *fakeCommands) Status() core.Status { return core.Status{Door: f.state} }

func (f *fakeCommands) History(context.Context, int) ([]door.Report, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return []door.Report{{Action: door.ActionClose, Outcome: door.Actuated}}, nil
}

func newTestServer(t *testing.T, cmds *fakeCommands) *Server {
	t.Helper()
	cfg := config.ServerConfig{Port: "0", WebFilesDir: t.TempDir(), RateLimit: 100, RateBurst: 100}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("coopdoor_up 1\n")) })
	return NewServer(cfg, cmds, metrics, logging.Discard())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDoorCommands(t *testing.T) {
	cmds := &fakeCommands{outcome: door.Actuated, state: door.Open}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodPost, "/api/door/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "actuated", body["outcome"])
	assert.Equal(t, "open", body["state"])

	rec = do(t, h, http.MethodGet, "/api/door/open", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.Contains(t, decodeBody(t, rec), "error")
}

func TestRouting_MethodAndPathErrors(t *testing.T) {
	cmds := &fakeCommands{current: settings.Default(), state: door.Closed}
	h := newTestServer(t, cmds).Handler()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		allow  string
	}{
		{"wrong method on close", http.MethodGet, "/api/door/close", http.StatusMethodNotAllowed, "POST"},
		{"wrong method on settings", http.MethodPost, "/api/settings", http.StatusMethodNotAllowed, "GET, PUT"},
		{"wrong method on calibration", http.MethodGet, "/api/settings/light/open", http.StatusMethodNotAllowed, "POST"},
		{"unknown api path", http.MethodGet, "/api/door/jiggle", http.StatusNotFound, ""},
		{"unknown api path any method", http.MethodDelete, "/api/nothing", http.StatusNotFound, ""},
		{"write to static files", http.MethodPost, "/index.html", http.StatusMethodNotAllowed, "GET, HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
			assert.Contains(t, decodeBody(t, rec), "error")
		})
	}
}

func TestDoorCommands_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"hardware", door.ErrHardwareUnavailable, http.StatusServiceUnavailable},
		{"poisoned", door.ErrLockPoisoned, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &fakeCommands{outcome: door.Skipped, doorErr: tt.err}
			rec := do(t, newTestServer(t, cmds).Handler(), http.MethodPost, "/api/door/close", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.err.Error())
		})
	}
}

func TestDoorCommands_LimitTimeoutIsWarning(t *testing.T) {
	cmds := &fakeCommands{outcome: door.Actuated, doorErr: door.ErrLimitTimeout, state: door.Opening}
	rec := do(t, newTestServer(t, cmds).Handler(), http.MethodPost, "/api/door/open", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "opening", body["state"])
	assert.NotEmpty(t, body["warning"])
}

func TestDoorCommands_RateLimited(t *testing.T) {
	cmds := &fakeCommands{outcome: door.AlreadyInState}
	cfg := config.ServerConfig{Port: "0", WebFilesDir: t.TempDir(), RateLimit: 0.001, RateBurst: 2}
	h := NewServer(cfg, cmds, nil, logging.Discard()).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/door/open", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/door/open", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/door/open", "").Code)
	assert.Equal(t, 2, cmds.opens)
}

func TestSettingsEndpoints(t *testing.T) {
	cmds := &fakeCommands{current: settings.Default()}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"light_levels":{"open":100,"close":0},"times":{"open":"06:00:00","close":"18:00:00"}}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/settings", `{"light_levels":{"open":70,"close":8},"times":{"open":"06:30:00","close":"19:00:00"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 70.0, cmds.GetSettings().LightLevels.Open)
	assert.Equal(t, settings.Clock(19, 0, 0), cmds.GetSettings().Times.Close)

	rec = do(t, h, http.MethodPut, "/api/settings", `{"light_levels":{"open":70}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 70.0, cmds.GetSettings().LightLevels.Open, "partial writes are rejected")

	cmds.writeErr = errors.New("read-only file system")
	rec = do(t, h, http.MethodPut, "/api/settings", `{"light_levels":{"open":1,"close":0},"times":{"open":"06:30:00","close":"19:00:00"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUseCurrentLight(t *testing.T) {
	cmds := &fakeCommands{current: settings.Default(), level: 42}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodPost, "/api/settings/light/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.0, cmds.GetSettings().LightLevels.Close)

	rec = do(t, h, http.MethodPost, "/api/settings/light/dusk", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLightEndpoint(t *testing.T) {
	cmds := &fakeCommands{level: 63.5}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodGet, "/api/light", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 63.5, decodeBody(t, rec)["level"])

	cmds.lightErr = sensor.ErrBusUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/light", "").Code)
}

func TestHistoryEndpoint(t *testing.T) {
	cmds := &fakeCommands{}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodGet, "/api/door/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"close"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/door/history?limit=-1", "").Code)

	cmds.historyErr = journal.ErrDisabled
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/door/history", "").Code)
}

func TestStatusAndMetrics(t *testing.T) {
	cmds := &fakeCommands{state: door.Closing}
	h := newTestServer(t, cmds).Handler()

	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closing", decodeBody(t, rec)["door"])

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coopdoor_up 1")
}

// echoHandler replies with the received command type.
type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, msg Message, reply func(Message)) {
	var cmd Command
	if err := json.Unmarshal(msg.Raw, &cmd); err != nil {
		reply(ErrorMessage("", err))
		return
	}
	reply(NewMessage(MsgResult, map[string]string{"command": cmd.Type}))
}

func TestWebSocket(t *testing.T) {
	cmds := &fakeCommands{current: settings.Default(), state: door.Open}
	s := newTestServer(t, cmds)
	s.SetHandler(echoHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgStatus, msg.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgSettings, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "close"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgResult, msg.Type)
	assert.JSONEq(t, `{"command":"close"}`, string(msg.Payload))

	// Broadcasts reach registered clients.
	s.Hub.Broadcast(NewMessage(MsgDoorState, map[string]string{"state": "closing"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgDoorState, msg.Type)
}
