package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ouiprox/internal/clock"
	"github.com/user/ouiprox/internal/detection"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/suppress"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

type fakeEngine struct {
	mu       sync.Mutex
	paused   bool
	cycles   int64
	reloads  int
	lines    []string
	entries  []model.WatchlistEntry
	supp     *suppress.State
	cat      *watchlist.Catalog
	settings *settings.MemorySource
	hub      *detection.Hub
}

func newFakeEngine(t *testing.T) *fakeEngine {
	dir := t.TempDir()
	return &fakeEngine{
		cycles:   7,
		lines:    []string{"[2024-03-01 12:00] | AA:BB:CC:00:00:01 | Phone | Ch: 6 | List: family"},
		entries:  []model.WatchlistEntry{{Pattern: "AA:BB:CC:00:00:01", Name: "Phone", SourceList: "family"}},
		supp:     suppress.New(clock.RealClock{}, time.Minute, 10*time.Minute),
		cat:      watchlist.NewCatalog(filepath.Join(dir, "list"), filepath.Join(dir, "lists_config.json")),
		settings: settings.NewMemorySource(settings.Defaults()),
		hub:      detection.NewHub(),
	}
}

func (f *fakeEngine) Status() model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := model.Status{Plan: settings.Defaults().Plan()}
	st.CycleCount = f.cycles
	st.Paused = f.paused
	st.Phase = model.PhaseIdle
	return st
}

func (f *fakeEngine) TogglePause() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return f.paused
}

func (f *fakeEngine) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
}

func (f *fakeEngine) Ignore(addr string, minutes int) (model.IgnoreEntry, error) {
	if minutes < 1 {
		return model.IgnoreEntry{}, util.NewValidationError("duration", "must be at least 1 minute, got %d", minutes)
	}
	return f.supp.AddIgnore(addr, time.Duration(minutes)*time.Minute)
}

func (f *fakeEngine) Ignored() []model.IgnoreEntry { return f.supp.Ignored() }

func (f *fakeEngine) RemoveIgnore(addr string) bool { return f.supp.RemoveIgnore(addr) }

func (f *fakeEngine) Catalog() *watchlist.Catalog { return f.cat }

func (f *fakeEngine) Watchlist() []model.WatchlistEntry { return f.entries }

func (f *fakeEngine) Subscribe(n int) (<-chan model.DetectionEvent, func()) {
	return f.hub.Subscribe(n)
}

func (f *fakeEngine) ReloadWatchlist() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeEngine) Settings() (settings.Settings, error) { return f.settings.Load() }

func (f *fakeEngine) UpdateSettings(s settings.Settings) error {
	return f.settings.Save(s)
}

func (f *fakeEngine) DetectionLines() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.lines...), nil
}

func (f *fakeEngine) ClearLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
	return nil
}

func newTestServer(t *testing.T, db *storage.DB) (*fakeEngine, http.Handler) {
	t.Helper()
	eng := newFakeEngine(t)
	cfg := util.DefaultConfig()
	cfg.WebListen = "127.0.0.1:0"
	return eng, NewServer(cfg, eng, db).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, body := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["cycle_count"])
	assert.Equal(t, "idle", body["phase"])
}

func TestConfig(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, body := do(t, h, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wlan1mon", body["interface"])
	assert.Equal(t, "g", body["band_mode"])
}

func TestPauseToggleAndResume(t *testing.T) {
	eng, h := newTestServer(t, nil)

	_, body := do(t, h, http.MethodPost, "/api/pause", "")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["paused"])

	_, body = do(t, h, http.MethodPost, "/api/pause", "")
	assert.Equal(t, false, body["paused"])

	eng.SetPaused(true)
	_, body = do(t, h, http.MethodPost, "/api/resume", "")
	assert.Equal(t, false, body["paused"])
	assert.False(t, eng.Status().Paused)
}

func TestIgnoreLifecycle(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, body := do(t, h, http.MethodPost, "/api/ignore", `{"mac":"aa:bb:cc:00:00:01","duration":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/api/ignored", "")
	var ignored []model.IgnoreEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ignored))
	require.Len(t, ignored, 1)
	assert.Equal(t, "AA:BB:CC:00:00:01", ignored[0].Address)
	assert.Equal(t, "AA:BB:CC", ignored[0].Prefix)

	rec, _ = do(t, h, http.MethodDelete, "/api/ignored/AA:BB:CC:00:00:01", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body = do(t, h, http.MethodDelete, "/api/ignored/AA:BB:CC:00:00:01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestIgnoreRejectsShortDuration(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, body := do(t, h, http.MethodPost, "/api/ignore", `{"mac":"AA:BB:CC:00:00:01","duration":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "duration")

	rec, _ = do(t, h, http.MethodPost, "/api/ignore", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsUpdate(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, _ := do(t, h, http.MethodPut, "/api/settings", `{"band5_enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["band5_enabled"])
	assert.Equal(t, true, body["band2_enabled"], "omitted fields keep their value")

	rec, body = do(t, h, http.MethodPut, "/api/settings", `{"band2_enabled":false,"band5_enabled":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestListManagement(t *testing.T) {
	eng, h := newTestServer(t, nil)

	rec, _ := do(t, h, http.MethodPost, "/api/create-list", `{"name":"family"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/api/create-list", `{"name":"family"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/add-device", `{"list":"family","mac":"aa-bb-cc-00-00-01","name":"Phone","command":"echo hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/api/add-device", `{"list":"family","mac":"nope","name":"Bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/lists", "")
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"family"}, names)

	rec, _ = do(t, h, http.MethodGet, "/api/lists-status", "")
	var status watchlist.ListsStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, []string{"family"}, status.Active)

	rec, _ = do(t, h, http.MethodPost, "/api/remove-device", `{"mac":"AA:BB:CC:00:00:01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/api/remove-device", `{"mac":"AA:BB:CC:00:00:01"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/toggle-list", `{"list":"family","active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	status, err := eng.cat.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"family"}, status.Inactive)

	assert.Equal(t, 4, eng.reloads, "every successful mutation rebuilds the watchlist")
}

func TestDevicesAndClearLog(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec, _ := do(t, h, http.MethodGet, "/api/devices", "")
	var lines []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	assert.Len(t, lines, 1)

	rec, body := do(t, h, http.MethodPost, "/api/clear-log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/api/devices", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	assert.Empty(t, lines)
}

func TestWatchlist(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, _ := do(t, h, http.MethodGet, "/api/watchlist", "")
	var entries []model.WatchlistEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Phone", entries[0].Name)
}

func TestDetectionsAndReport(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.NewDetectionStorage(db).Save(&model.DetectionEvent{
		Timestamp: time.Now(), Address: "AA:BB:CC:00:00:01", Name: "Phone", SourceList: "family", Channel: "6",
	}))

	_, h := newTestServer(t, db)

	rec, _ := do(t, h, http.MethodGet, "/api/detections?last=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.DetectionEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "AA:BB:CC:00:00:01", events[0].Address)

	rec, _ = do(t, h, http.MethodGet, "/api/detections?last=whenever", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/report?last=1d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), `"family" : 1`)
}

func TestHistoryUnavailableWithoutDB(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, body := do(t, h, http.MethodGet, "/api/detections", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, nil)
	do(t, h, http.MethodGet, "/api/status", "")

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ouiprox_api_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec, _ := do(t, h, http.MethodGet, "/api/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStreamDeliversDetections(t *testing.T) {
	eng, h := newTestServer(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Topic)

	eng.hub.Publish(model.DetectionEvent{ID: "evt-1", Address: "AA:BB:CC:00:00:01", Name: "Phone"})

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "detection", msg.Topic)
	var ev model.DetectionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "evt-1", ev.ID)
}

func TestServerStop(t *testing.T) {
	eng := newFakeEngine(t)
	cfg := util.DefaultConfig()
	cfg.WebListen = "127.0.0.1:0"
	s := NewServer(cfg, eng, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestClientAgainstServer(t *testing.T) {
	eng, h := newTestServer(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewClient(srv.URL)

	paused, err := c.TogglePause()
	require.NoError(t, err)
	assert.True(t, paused)

	resp, err := c.Resume()
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.False(t, eng.Status().Paused)

	_, err = c.Ignore("AA:BB:CC:00:00:01", 15)
	require.NoError(t, err)
	entries, err := c.Ignored()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = c.Ignore("AA:BB:CC:00:00:01", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.CycleCount)

	_, err = c.ClearLog()
	require.NoError(t, err)
}

func TestNewClientNormalizesListenAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5000", NewClient(":5000").base)
	assert.Equal(t, "http://10.0.0.2:5000", NewClient("10.0.0.2:5000").base)
	assert.Equal(t, "https://box/api", NewClient("https://box/api/").base)
}
