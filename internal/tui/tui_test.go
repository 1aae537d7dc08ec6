package tui

import (
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ouiprox/internal/daemon"
	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
)

func testConfig(t *testing.T) *util.Config {
	return &util.Config{DataDir: t.TempDir(), WebListen: "127.0.0.1:1"}
}

func sampleData() *DashboardData {
	return &DashboardData{
		Running:   true,
		PID:       4242,
		HasStatus: true,
		Uptime:    "1h0m0s",
		UpdatedAt: "2024-03-01 12:00:00",
		Status: model.Status{
			CycleState: model.CycleState{
				CycleCount:       17,
				InterfaceHealthy: true,
				Phase:            model.PhaseCapturing,
				Recoveries:       2,
			},
			Plan: model.CapturePlan{
				Interface:      "wlan0mon",
				BandMode:       "bg",
				Channels:       []string{"1", "6", "11"},
				CaptureSeconds: 30,
			},
		},
		Detections24h: 3,
		ByList:        map[string]int{"/lists/devices.txt": 2, "/lists/drones.txt": 1},
		Recent: []DetectionInfo{
			{Time: "03-01 11:59:00", Address: "AA:BB:CC:00:00:01", Name: "Phone", Channel: "6", List: "/lists/devices.txt"},
		},
	}
}

func TestDashboardView(t *testing.T) {
	d := NewDashboard(dataMsg{Data: sampleData()}, 120, 40)
	out := d.View()

	assert.Contains(t, out, "OUI-Prox Dashboard")
	assert.Contains(t, out, "running (PID 4242)")
	assert.Contains(t, out, "wlan0mon")
	assert.Contains(t, out, "capturing")
	assert.Contains(t, out, "band bg, channels 1,6,11, 30s")
	assert.Contains(t, out, "Last 24h: 3 detections")
	assert.Contains(t, out, "devices.txt")
	assert.Contains(t, out, "AA:BB:CC:00:00:01")
	assert.NotContains(t, out, "/lists/")
}

func TestDashboardViewWithoutStatus(t *testing.T) {
	d := NewDashboard(dataMsg{Data: &DashboardData{}}, 120, 40)
	out := d.View()

	assert.Contains(t, out, "No status file yet")
	assert.Contains(t, out, "No detections yet")
	assert.Contains(t, out, "Nothing detected yet")
}

func TestDashboardShowsPausedAndErrors(t *testing.T) {
	data := sampleData()
	data.Status.Paused = true
	data.Status.ConsecutiveErrorCount = 2
	data.Status.LastError = "capture exited early"

	out := NewDashboard(dataMsg{Data: data}, 120, 40).View()
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "capture exited early")
}

func TestRenderPlanIdle(t *testing.T) {
	assert.Equal(t, "idle (no channels selected)", renderPlan(model.CapturePlan{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a long...", truncate("a long name", 9))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestRenderBar(t *testing.T) {
	assert.Contains(t, RenderBar(5, 10, 10), "█████░░░░░")
	assert.Contains(t, RenderBar(20, 10, 4), "████")
	assert.Contains(t, RenderBar(0, 0, 3), "░░░")
}

func TestModelLifecycle(t *testing.T) {
	m := newModel(nil, testConfig(t))
	assert.Contains(t, m.View(), "Loading")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.Update(dataMsg{Data: sampleData()})
	assert.Contains(t, next.View(), "OUI-Prox Dashboard")

	next, cmd := next.Update(noticeMsg("Detection paused"))
	require.NotNil(t, cmd)
	next, _ = next.Update(dataMsg{Data: sampleData()})
	assert.Contains(t, next.View(), "Detection paused")

	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelShowsErrors(t *testing.T) {
	m := newModel(nil, testConfig(t))
	next, _ := m.Update(errMsg{err: assert.AnError})
	assert.Contains(t, next.View(), "Error:")
}

func TestTogglePauseReportsUnreachableDaemon(t *testing.T) {
	m := newModel(nil, testConfig(t))
	msg := togglePause(m.client)()
	notice, ok := msg.(noticeMsg)
	require.True(t, ok)
	assert.Contains(t, string(notice), "Pause failed")
}

func TestFetchDashboardDataWithoutDaemon(t *testing.T) {
	data, err := fetchDashboardData(nil, testConfig(t))
	require.NoError(t, err)
	assert.False(t, data.Running)
	assert.False(t, data.HasStatus)
	assert.Empty(t, data.Recent)
}

func TestFetchDashboardDataReadsStatusAndHistory(t *testing.T) {
	cfg := testConfig(t)

	require.NoError(t, daemon.WriteStatusFile(cfg.DataDir, &daemon.StatusFile{
		Running:   true,
		PID:       99,
		Uptime:    "5m0s",
		UpdatedAt: "2024-03-01 12:05:00",
		Status: model.Status{
			CycleState: model.CycleState{CycleCount: 9, Phase: model.PhaseIdle},
		},
	}))

	db, err := storage.Open(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	defer db.Close()

	det := storage.NewDetectionStorage(db)
	now := time.Now()
	require.NoError(t, det.Save(&model.DetectionEvent{
		Timestamp: now.Add(-time.Minute), Address: "AA:BB:CC:00:00:01", Name: "Phone", SourceList: "devices.txt", Channel: "6",
	}))
	require.NoError(t, det.Save(&model.DetectionEvent{
		Timestamp: now, Address: "DE:AD:BE:EF:00:01", Name: "Drone", SourceList: "drones.txt", Channel: "36",
	}))

	data, err := fetchDashboardData(db, cfg)
	require.NoError(t, err)

	assert.True(t, data.HasStatus)
	assert.Equal(t, int64(9), data.Status.CycleCount)
	assert.Equal(t, "5m0s", data.Uptime)
	assert.Equal(t, 2, data.Detections24h)
	assert.Equal(t, map[string]int{"devices.txt": 1, "drones.txt": 1}, data.ByList)
	require.Len(t, data.Recent, 2)
	assert.Equal(t, "DE:AD:BE:EF:00:01", data.Recent[0].Address)
}
