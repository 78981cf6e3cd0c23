// Package api provides the HTTP API handlers and routing for the
// report download service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"reportrunner/internal/apperrors"
	"reportrunner/internal/configstore"
	"reportrunner/internal/health"
	"reportrunner/internal/history"
	"reportrunner/internal/observability"
	"reportrunner/internal/report"
	"reportrunner/internal/run"
	"reportrunner/internal/runtime"
	"reportrunner/internal/scheduler"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// datetimeLayouts are the accepted wire formats for schedule times.
// Naive local time, the way the UI's datetime picker submits it.
var datetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// AdvancedSettings is the non-secret slice of service configuration
// exposed to the UI.
type AdvancedSettings struct {
	OTPSecretConfigured bool   `json:"otp_secret_configured"`
	DownloadBasePath    string `json:"download_base_path"`
	ConfigFile          string `json:"config_file"`
	HistoryFile         string `json:"history_file"`
}

// Handler contains HTTP handlers for the download API.
type Handler struct {
	state    *runtime.State
	store    *configstore.Store
	runner   *run.Runner
	sched    *scheduler.Scheduler
	history  *history.Log
	health   *health.Checker
	metrics  *observability.Metrics
	settings AdvancedSettings
	validate *validator.Validate
	now      func() time.Time
}

// HandlerConfig holds the Handler's dependencies.
type HandlerConfig struct {
	State     *runtime.State
	Store     *configstore.Store
	Runner    *run.Runner
	Scheduler *scheduler.Scheduler
	History   *history.Log
	Health    *health.Checker
	Metrics   *observability.Metrics
	Settings  AdvancedSettings
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		state:    cfg.State,
		store:    cfg.Store,
		runner:   cfg.Runner,
		sched:    cfg.Scheduler,
		history:  cfg.History,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		settings: cfg.Settings,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// GetReportsRegions handles GET /download/get-reports-regions.
func (h *Handler) GetReportsRegions(w http.ResponseWriter, r *http.Request) {
	regions := make(map[string]string)
	for idx, reg := range report.Regions() {
		regions[strconv.Itoa(idx)] = reg.Name
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"reports":              report.Types(),
		"report_urls_map":      report.URLs(),
		"region_required_urls": report.RegionRequiredURLs(),
		"regions":              regions,
	})
}

// startRequest is the POST /download/start-download payload.
type startRequest struct {
	Email    string                      `json:"email" validate:"required,email"`
	Password string                      `json:"password" validate:"required"`
	Reports  []configstore.ReportRequest `json:"reports" validate:"required,min=1,dive"`
	Regions  []int                       `json:"regions"`
}

// StartDownload handles POST /download/start-download. The running
// check here is the user-facing gate; the runner re-checks under its
// own lock, so a race between two accepted requests still yields one run.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if h.state.Running() {
		h.writeStatus(w, http.StatusConflict, "error", "Download process already running.")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Missing or invalid parameters: "+err.Error())
		return
	}

	h.runner.Start(run.Params{
		Email:    req.Email,
		Password: req.Password,
		Reports:  req.Reports,
		Regions:  req.Regions,
	})

	h.writeStatus(w, http.StatusAccepted, "success", "Download process started in background.")
}

// GetLogs handles GET /download/get-logs?limit=N.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeStatus(w, http.StatusBadRequest, "error", "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.history.Tail(limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// GetConfigs handles GET /download/get-configs.
func (h *Handler) GetConfigs(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.Names()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, names)
}

// saveConfigRequest is the POST /download/save-config payload.
type saveConfigRequest struct {
	Name   string                `json:"name" validate:"required"`
	Config configstore.JobConfig `json:"config" validate:"required"`
}

// SaveConfig handles POST /download/save-config.
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req saveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Config data must include email, password, and reports: "+err.Error())
		return
	}

	if err := h.store.Save(req.Name, req.Config); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeStatus(w, http.StatusOK, "success", "Configuration \""+req.Name+"\" saved.")
}

// LoadConfig handles GET /download/load-config/{name}.
func (h *Handler) LoadConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeStatus(w, http.StatusBadRequest, "error", "Configuration name is required")
		return
	}

	cfg, err := h.store.Get(name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// DeleteConfig handles DELETE /download/delete-config/{name}.
func (h *Handler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeStatus(w, http.StatusBadRequest, "error", "Configuration name is required")
		return
	}

	if err := h.store.Delete(name); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeStatus(w, http.StatusOK, "success", "Configuration \""+name+"\" deleted.")
}

// scheduleJobRequest is the POST /download/schedule-job payload. Either
// a one-shot run_datetime or a recurring cron expression is required.
type scheduleJobRequest struct {
	ConfigName  string `json:"config_name" validate:"required"`
	RunDatetime string `json:"run_datetime"`
	CronExpr    string `json:"cron_expr"`
}

// ScheduleJob handles POST /download/schedule-job.
func (h *Handler) ScheduleJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req scheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeStatus(w, http.StatusBadRequest, "error", "Missing config_name or run_datetime: "+err.Error())
		return
	}

	// The config must exist now, but it is reloaded fresh at fire time
	// so later edits apply.
	if _, err := h.store.Get(req.ConfigName); err != nil {
		h.handleError(w, r, err)
		return
	}

	now := h.now()
	job := scheduler.Job{
		ID:         scheduler.JobID(req.ConfigName, now),
		Name:       "Download: " + req.ConfigName,
		ConfigName: req.ConfigName,
	}

	switch {
	case req.CronExpr != "":
		if err := scheduler.ValidateCron(req.CronExpr); err != nil {
			h.writeStatus(w, http.StatusBadRequest, "error", err.Error())
			return
		}
		next, err := scheduler.NextCronTick(req.CronExpr, now)
		if err != nil {
			h.writeStatus(w, http.StatusBadRequest, "error", "Cron expression never fires: "+err.Error())
			return
		}
		job.CronExpr = req.CronExpr
		job.RunAt = next

	case req.RunDatetime != "":
		runAt, err := parseDatetime(req.RunDatetime)
		if err != nil {
			h.writeStatus(w, http.StatusBadRequest, "error", "Invalid date/time format (YYYY-MM-DDTHH:MM).")
			return
		}
		if !runAt.After(now.Add(scheduler.MinLeadTime)) {
			h.writeStatus(w, http.StatusBadRequest, "error", "Scheduled time must be > 1 min in the future.")
			return
		}
		job.RunAt = runAt

	default:
		h.writeStatus(w, http.StatusBadRequest, "error", "Run date/time required.")
		return
	}

	h.sched.Add(job)
	slog.Info("Scheduled download job", "job_id", job.ID, "config_name", req.ConfigName, "run_at", job.RunAt)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Job scheduled for config \"" + req.ConfigName + "\".",
		"job_id":  job.ID,
	})
}

// GetSchedules handles GET /download/get-schedules.
func (h *Handler) GetSchedules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"schedules": h.sched.List(),
	})
}

// CancelSchedule handles DELETE /download/cancel-schedule/{jobId}.
// Cancelling an unknown job is success: the job is gone either way.
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeStatus(w, http.StatusBadRequest, "error", "Job ID is required")
		return
	}

	if h.sched.Remove(jobID) {
		h.writeStatus(w, http.StatusOK, "success", "Job \""+jobID+"\" cancelled.")
		return
	}
	h.writeStatus(w, http.StatusOK, "success", "Job \""+jobID+"\" not found (already run or cancelled).")
}

// GetAdvancedSettings handles GET /download/get-advanced-settings.
// Exposes paths and whether an OTP secret is configured, never the
// secret itself.
func (h *Handler) GetAdvancedSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.settings)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe. Returns 503 while the
// service is draining or the config store is unreadable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeStatus writes the {status, message} envelope the UI expects.
func (h *Handler) writeStatus(w http.ResponseWriter, code int, status, message string) {
	h.writeJSON(w, code, map[string]string{"status": status, "message": message})
}

// handleError maps service-layer errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeStatus(w, status, "error", err.Error())
}

func parseDatetime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range datetimeLayouts {
		t, err := time.ParseInLocation(layout, raw, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
