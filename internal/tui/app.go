// Package tui provides a terminal user interface.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/ouiprox/internal/daemon"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/web"
)

// refreshInterval is how often the dashboard re-reads the status file.
const refreshInterval = 2 * time.Second

// App is the main TUI application.
type App struct {
	db     *storage.DB
	config *util.Config
}

// NewApp creates a new TUI application.
func NewApp(db *storage.DB, cfg *util.Config) *App {
	return &App{
		db:     db,
		config: cfg,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(newModel(a.db, a.config), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// appModel is the main bubbletea model.
type appModel struct {
	db        *storage.DB
	config    *util.Config
	client    *web.Client
	dashboard *Dashboard
	spinner   spinner.Model
	ready     bool
	width     int
	height    int
	err       error
	notice    string
}

func newModel(db *storage.DB, cfg *util.Config) appModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return appModel{
		db:      db,
		config:  cfg,
		client:  web.NewClient(cfg.WebListen),
		spinner: s,
	}
}

// Init initializes the model.
func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadData(m.db, m.config),
		tick(),
	)
}

// Update handles messages.
func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, loadData(m.db, m.config)
		case "p":
			return m, togglePause(m.client)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.dashboard != nil {
			m.dashboard.SetSize(msg.Width, msg.Height)
		}

	case dataMsg:
		m.ready = true
		m.err = nil
		m.dashboard = NewDashboard(msg, m.width, m.height)
		m.dashboard.notice = m.notice

	case noticeMsg:
		m.notice = string(msg)
		return m, loadData(m.db, m.config)

	case tickMsg:
		return m, tea.Batch(loadData(m.db, m.config), tick())

	case errMsg:
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the UI.
func (m appModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: " + m.err.Error())
	}

	if !m.ready {
		return LoadingStyle.Render(m.spinner.View() + " Loading...")
	}

	return m.dashboard.View()
}

// Messages
type dataMsg struct {
	Data *DashboardData
}

type errMsg struct {
	err error
}

type tickMsg time.Time

type noticeMsg string

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadData(db *storage.DB, cfg *util.Config) tea.Cmd {
	return func() tea.Msg {
		data, err := fetchDashboardData(db, cfg)
		if err != nil {
			return errMsg{err}
		}
		return dataMsg{Data: data}
	}
}

func togglePause(c *web.Client) tea.Cmd {
	return func() tea.Msg {
		paused, err := c.TogglePause()
		if err != nil {
			return noticeMsg("Pause failed: " + err.Error())
		}
		if paused {
			return noticeMsg("Detection paused")
		}
		return noticeMsg("Detection resumed")
	}
}

func fetchDashboardData(db *storage.DB, cfg *util.Config) (*DashboardData, error) {
	data := &DashboardData{}

	running, pid := daemon.CheckRunning(cfg.DataDir)
	data.Running = running
	data.PID = pid

	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		data.HasStatus = true
		data.Uptime = sf.Uptime
		data.UpdatedAt = sf.UpdatedAt
		data.Status = sf.Status
	}

	if db == nil {
		return data, nil
	}

	detections := storage.NewDetectionStorage(db)
	if recent, err := detections.Recent(10); err == nil {
		for _, e := range recent {
			data.Recent = append(data.Recent, DetectionInfo{
				Time:    e.Timestamp.Local().Format("01-02 15:04:05"),
				Address: e.Address,
				Name:    e.Name,
				Channel: e.Channel,
				List:    e.SourceList,
			})
		}
	}

	since := time.Now().Add(-24 * time.Hour)
	if count, err := detections.Count(since); err == nil {
		data.Detections24h = count
	}
	if byList, err := detections.CountByList(since); err == nil {
		data.ByList = byList
	}

	return data, nil
}
