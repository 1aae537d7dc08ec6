package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/user/ouiprox/internal/model"
	"github.com/user/ouiprox/internal/report"
	"github.com/user/ouiprox/internal/settings"
	"github.com/user/ouiprox/internal/storage"
	"github.com/user/ouiprox/internal/util"
	"github.com/user/ouiprox/internal/watchlist"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 64 << 10

// Handlers contains HTTP handlers.
type Handlers struct {
	config *util.Config
	engine Engine
	db     *storage.DB
}

// NewHandlers creates new handlers.
func NewHandlers(cfg *util.Config, eng Engine, db *storage.DB) *Handlers {
	return &Handlers{
		config: cfg,
		engine: eng,
		db:     db,
	}
}

// APIGetStatus returns the controller status.
func (h *Handlers) APIGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// APIGetConfig returns the capture plan in effect and the settings behind it.
func (h *Handlers) APIGetConfig(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Settings()
	if err != nil {
		writeError(w, err)
		return
	}
	st := h.engine.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interface":    s.Interface,
		"capture_time": s.CaptureDurationSeconds,
		"band_mode":    s.Plan().BandMode,
		"channels":     s.Plan().Channels,
		"active_plan":  st.Plan,
		"ignore_scope": h.config.IgnoreScope,
		"cooldown":     h.config.AlertCooldown.String(),
	})
}

// APIGetSettings returns the stored settings record.
func (h *Handlers) APIGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Settings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// APIUpdateSettings validates and replaces the settings record.
func (h *Handlers) APIUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.engine.Settings()
	if err != nil {
		current = settings.Defaults()
	}
	// Decoding over the current record lets clients send partial updates.
	if !decodeBody(w, r, &current) {
		return
	}
	if err := h.engine.UpdateSettings(current); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "Settings updated; applied from the next cycle")
}

// APITogglePause flips the pause flag.
func (h *Handlers) APITogglePause(w http.ResponseWriter, r *http.Request) {
	paused := h.engine.TogglePause()
	msg := "Detection resumed"
	if paused {
		msg = "Detection paused"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": msg,
		"paused":  paused,
	})
}

// APIResume clears the pause flag.
func (h *Handlers) APIResume(w http.ResponseWriter, r *http.Request) {
	h.engine.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Detection resumed",
		"paused":  false,
	})
}

type ignoreRequest struct {
	MAC      string `json:"mac"`
	Duration int    `json:"duration"`
}

// APIIgnore mutes a device for a number of minutes.
func (h *Handlers) APIIgnore(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.engine.Ignore(req.MAC, req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, fmt.Sprintf("Ignoring %s until %s", entry.Address, entry.ExpiresAt.Format("15:04:05")))
}

// APIGetIgnored lists live ignore entries.
func (h *Handlers) APIGetIgnored(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Ignored())
}

// APIRemoveIgnore ends an ignore early.
func (h *Handlers) APIRemoveIgnore(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if !h.engine.RemoveIgnore(mac) {
		writeMessage(w, http.StatusNotFound, "error", fmt.Sprintf("%s is not ignored", mac))
		return
	}
	writeSuccess(w, fmt.Sprintf("%s is no longer ignored", model.NormalizeAddress(mac)))
}

// APIGetDevices returns the detection log lines, oldest first.
func (h *Handlers) APIGetDevices(w http.ResponseWriter, r *http.Request) {
	lines, err := h.engine.DetectionLines()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// APIClearLog truncates the detection log and history.
func (h *Handlers) APIClearLog(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearLog(); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "Detection log cleared")
}

// APIGetDetections returns stored detections with an optional window and limit.
func (h *Handlers) APIGetDetections(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", "detection history is not available")
		return
	}

	last := 24 * time.Hour
	if s := r.URL.Query().Get("last"); s != "" {
		d, err := util.ParseDuration(s)
		if err != nil {
			writeError(w, util.NewValidationError("last", "invalid duration %q", s))
			return
		}
		last = d
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, util.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := storage.NewDetectionStorage(h.db).GetHistory(time.Now().Add(-last))
	if err != nil {
		writeError(w, err)
		return
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []model.DetectionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// APIGetLists returns every list file in the lists directory.
func (h *Handlers) APIGetLists(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	names, err := cat.Available()
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// APIGetListsStatus returns the active and inactive lists.
func (h *Handlers) APIGetListsStatus(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	status, err := cat.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type toggleListRequest struct {
	List   string `json:"list"`
	Active bool   `json:"active"`
}

// APIToggleList activates or deactivates a list.
func (h *Handlers) APIToggleList(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	var req toggleListRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := cat.SetActive(req.List, req.Active); err != nil {
		writeError(w, err)
		return
	}
	h.reload()
	state := "deactivated"
	if req.Active {
		state = "activated"
	}
	writeSuccess(w, fmt.Sprintf("List %s %s", req.List, state))
}

type createListRequest struct {
	Name string `json:"name"`
}

// APICreateList creates a new empty list and activates it.
func (h *Handlers) APICreateList(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	var req createListRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := cat.Create(req.Name); err != nil {
		writeError(w, err)
		return
	}
	h.reload()
	writeSuccess(w, fmt.Sprintf("List %s created", req.Name))
}

type addDeviceRequest struct {
	List    string `json:"list"`
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Command string `json:"command"`
}

// APIAddDevice appends a device to a list.
func (h *Handlers) APIAddDevice(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	var req addDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := cat.AddDevice(req.List, req.MAC, req.Name, req.Command); err != nil {
		writeError(w, err)
		return
	}
	h.reload()
	writeSuccess(w, fmt.Sprintf("Added %s to %s", model.NormalizeAddress(req.MAC), req.List))
}

type removeDeviceRequest struct {
	MAC string `json:"mac"`
}

// APIRemoveDevice removes a device from every active list.
func (h *Handlers) APIRemoveDevice(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.catalog(w)
	if !ok {
		return
	}
	var req removeDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := cat.RemoveDevice(req.MAC); err != nil {
		writeError(w, err)
		return
	}
	h.reload()
	writeSuccess(w, fmt.Sprintf("Removed %s", model.NormalizeAddress(req.MAC)))
}

// APIGetWatchlist returns the active watchlist entries.
func (h *Handlers) APIGetWatchlist(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.Watchlist()
	if entries == nil {
		entries = []model.WatchlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// DownloadReport generates and downloads a report.
func (h *Handlers) DownloadReport(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", "detection history is not available")
		return
	}

	last := 24 * time.Hour
	if s := r.URL.Query().Get("last"); s != "" {
		if d, err := util.ParseDuration(s); err == nil {
			last = d
		}
	}

	gen := report.NewGenerator(h.db, h.config)
	data, err := gen.Generate(report.Options{Since: time.Now().Add(-last), Until: time.Now()})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=ouiprox_report.md")
	w.Write([]byte(report.FormatMarkdown(data)))
}

func (h *Handlers) catalog(w http.ResponseWriter) (*watchlist.Catalog, bool) {
	cat := h.engine.Catalog()
	if cat == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", "list catalog is not configured")
		return nil, false
	}
	return cat, true
}

// reload rebuilds the watchlist after a catalog mutation. Failure is logged;
// the mutation itself already succeeded.
func (h *Handlers) reload() {
	if err := h.engine.ReloadWatchlist(); err != nil {
		util.Warn("Watchlist reload after list change failed: %v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "error", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, result, message string) {
	writeJSON(w, status, map[string]string{"status": result, "message": message})
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeMessage(w, http.StatusOK, "success", message)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case util.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, watchlist.ErrListExists):
		status = http.StatusConflict
	case errors.Is(err, watchlist.ErrDeviceNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		util.Error("Admin API: %v", err)
	}
	writeMessage(w, status, "error", err.Error())
}
