package api

import (
	"net/http"

	"reportrunner/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Handler *Handler
	Metrics *observability.Metrics
	APIKey  string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := cfg.Handler

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Read-only UI endpoints - no auth
	mux.HandleFunc("GET /download/get-reports-regions", handler.GetReportsRegions)
	mux.HandleFunc("GET /download/stream-status", handler.StreamStatus)
	mux.HandleFunc("GET /download/get-logs", handler.GetLogs)
	mux.HandleFunc("GET /download/get-configs", handler.GetConfigs)
	mux.HandleFunc("GET /download/load-config/{name}", handler.LoadConfig)
	mux.HandleFunc("GET /download/get-schedules", handler.GetSchedules)
	mux.HandleFunc("GET /download/get-advanced-settings", handler.GetAdvancedSettings)

	// Mutating endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /download/start-download", authMiddleware(http.HandlerFunc(handler.StartDownload)))
	mux.Handle("POST /download/save-config", authMiddleware(http.HandlerFunc(handler.SaveConfig)))
	mux.Handle("DELETE /download/delete-config/{name}", authMiddleware(http.HandlerFunc(handler.DeleteConfig)))
	mux.Handle("POST /download/schedule-job", authMiddleware(http.HandlerFunc(handler.ScheduleJob)))
	mux.Handle("DELETE /download/cancel-schedule/{jobId}", authMiddleware(http.HandlerFunc(handler.CancelSchedule)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
