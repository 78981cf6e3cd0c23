package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"reportrunner/internal/configstore"
	"reportrunner/internal/health"
	"reportrunner/internal/history"
	"reportrunner/internal/notify"
	"reportrunner/internal/report"
	"reportrunner/internal/run"
	"reportrunner/internal/runtime"
	"reportrunner/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nullDownloader struct{}

func (nullDownloader) Login(ctx context.Context, loginURL, email, password, otpSecret string) error {
	return nil
}
func (nullDownloader) Lookup(string) (run.DownloadFunc, bool) { return nil, false }
func (nullDownloader) Generic() (run.DownloadFunc, bool) {
	return func(context.Context, string, time.Time, time.Time, report.Chunk) (int, error) {
		return 1, nil
	}, true
}
func (nullDownloader) DownloadForRegions(ctx context.Context, url string, from, to time.Time, chunk report.Chunk, regionIndices []int) (int, error) {
	return 1, nil
}
func (nullDownloader) Close() error { return nil }

type fixture struct {
	handler *Handler
	state   *runtime.State
	store   *configstore.Store
	log     *history.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	state := runtime.New()
	store := configstore.New(fs, "configs.json")
	log := history.New(fs, "download_log.csv")

	runner := run.NewRunner(run.Config{
		State: state,
		Factory: func(ctx context.Context, opts run.Options) (run.Downloader, error) {
			return nullDownloader{}, nil
		},
		History:   log,
		Notifier:  notify.New(notify.Config{}),
		Fs:        fs,
		BasePath:  "downloads",
		OTPSecret: "JBSWY3DPEHPK3PXP",
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sched := scheduler.New(ctx, run.NewScheduledFire(state, store, runner), scheduler.Config{}, discardLogger())

	h := NewHandler(HandlerConfig{
		State:     state,
		Store:     store,
		Runner:    runner,
		Scheduler: sched,
		History:   log,
		Health:    health.NewChecker(store),
		Settings: AdvancedSettings{
			OTPSecretConfigured: true,
			DownloadBasePath:    "downloads",
			ConfigFile:          "configs.json",
			HistoryFile:         "download_log.csv",
		},
	})
	return &fixture{handler: h, state: state, store: store, log: log}
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(data)
}

func validConfig() configstore.JobConfig {
	return configstore.JobConfig{
		Email:    "u@example.com",
		Password: "p",
		Reports: []configstore.ReportRequest{{
			ReportType: report.TypeSales,
			FromDate:   "2024-01-01",
			ToDate:     "2024-01-31",
			ChunkSize:  "5",
		}},
	}
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	f.handler.Livez(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	f.handler.Readyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestHandler_GetReportsRegions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/download/get-reports-regions", nil)
	w := httptest.NewRecorder()

	f.handler.GetReportsRegions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Reports            []string          `json:"reports"`
		ReportURLsMap      map[string]string `json:"report_urls_map"`
		RegionRequiredURLs []string          `json:"region_required_urls"`
		Regions            map[string]string `json:"regions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Reports) != len(report.Types()) {
		t.Errorf("Expected %d report types, got %d", len(report.Types()), len(resp.Reports))
	}
	if resp.Regions["1"] != "North" || resp.Regions["2"] != "South" {
		t.Errorf("Unexpected regions map: %v", resp.Regions)
	}
	if len(resp.RegionRequiredURLs) == 0 {
		t.Error("Expected at least one region-required URL")
	}
}

func TestHandler_StartDownload_Busy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.state.TryAcquire()

	req := httptest.NewRequest(http.MethodPost, "/download/start-download", jsonBody(t, validConfig()))
	w := httptest.NewRecorder()

	f.handler.StartDownload(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestHandler_StartDownload_InvalidJSON(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/download/start-download", bytes.NewBufferString("invalid json"))
	w := httptest.NewRecorder()

	f.handler.StartDownload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandler_StartDownload_MissingFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"no email", map[string]any{"password": "p", "reports": validConfig().Reports}},
		{"empty reports", map[string]any{"email": "u@example.com", "password": "p", "reports": []any{}}},
		{"bad date", map[string]any{"email": "u@example.com", "password": "p", "reports": []map[string]string{{
			"report_type": report.TypeSales, "from_date": "01/01/2024", "to_date": "2024-01-31",
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/download/start-download", jsonBody(t, tt.body))
			w := httptest.NewRecorder()

			f.handler.StartDownload(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestHandler_StartDownload_Accepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/download/start-download", jsonBody(t, validConfig()))
	w := httptest.NewRecorder()

	f.handler.StartDownload(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	// The run is fire-and-forget; wait for it to finish so the fixture
	// teardown does not race it.
	deadline := time.Now().Add(2 * time.Second)
	started := false
	for time.Now().Before(deadline) {
		lines, _ := f.state.ReadFrom(0)
		for _, l := range lines {
			if strings.Contains(l, "PROCESS FINISHED") {
				started = true
			}
		}
		if started && !f.state.Running() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("accepted run never finished")
}

func TestHandler_ConfigCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Save
	body := jsonBody(t, map[string]any{"name": "monthly", "config": validConfig()})
	w := httptest.NewRecorder()
	f.handler.SaveConfig(w, httptest.NewRequest(http.MethodPost, "/download/save-config", body))
	if w.Code != http.StatusOK {
		t.Fatalf("SaveConfig status = %d: %s", w.Code, w.Body.String())
	}

	// List
	w = httptest.NewRecorder()
	f.handler.GetConfigs(w, httptest.NewRequest(http.MethodGet, "/download/get-configs", nil))
	var names []string
	if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "monthly" {
		t.Errorf("GetConfigs = %v", names)
	}

	// Load
	req := httptest.NewRequest(http.MethodGet, "/download/load-config/monthly", nil)
	req.SetPathValue("name", "monthly")
	w = httptest.NewRecorder()
	f.handler.LoadConfig(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("LoadConfig status = %d", w.Code)
	}
	var loaded configstore.JobConfig
	if err := json.NewDecoder(w.Body).Decode(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Email != "u@example.com" {
		t.Errorf("LoadConfig email = %q", loaded.Email)
	}

	// Delete
	req = httptest.NewRequest(http.MethodDelete, "/download/delete-config/monthly", nil)
	req.SetPathValue("name", "monthly")
	w = httptest.NewRecorder()
	f.handler.DeleteConfig(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("DeleteConfig status = %d", w.Code)
	}

	// Load after delete
	req = httptest.NewRequest(http.MethodGet, "/download/load-config/monthly", nil)
	req.SetPathValue("name", "monthly")
	w = httptest.NewRecorder()
	f.handler.LoadConfig(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("LoadConfig after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandler_SaveConfig_Invalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cfg := validConfig()
	cfg.Email = "not-an-email"
	body := jsonBody(t, map[string]any{"name": "bad", "config": cfg})
	w := httptest.NewRecorder()

	f.handler.SaveConfig(w, httptest.NewRequest(http.MethodPost, "/download/save-config", body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandler_GetLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		err := f.log.Append(history.Row{
			Timestamp:  time.Now(),
			RunID:      fmt.Sprintf("run-%d", i),
			ReportType: report.TypeSales,
			Status:     history.StatusCompleted,
			Files:      i,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/download/get-logs?limit=2", nil)
	w := httptest.NewRecorder()
	f.handler.GetLogs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GetLogs status = %d", w.Code)
	}
	var rows []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("GetLogs returned %d rows, want 2", len(rows))
	}
}

func TestHandler_GetLogs_BadLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/download/get-logs?limit=zero", nil)
	w := httptest.NewRecorder()
	f.handler.GetLogs(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandler_ScheduleJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.store.Save("nightly", validConfig()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	f.handler.now = func() time.Time { return now }

	tests := []struct {
		name     string
		body     map[string]string
		wantCode int
	}{
		{"too soon", map[string]string{
			"config_name":  "nightly",
			"run_datetime": now.Add(30 * time.Second).Format("2006-01-02T15:04:05"),
		}, http.StatusBadRequest},
		{"unknown config", map[string]string{
			"config_name":  "missing",
			"run_datetime": now.Add(2 * time.Hour).Format("2006-01-02T15:04:05"),
		}, http.StatusNotFound},
		{"bad datetime", map[string]string{
			"config_name":  "nightly",
			"run_datetime": "tomorrow",
		}, http.StatusBadRequest},
		{"no trigger", map[string]string{
			"config_name": "nightly",
		}, http.StatusBadRequest},
		{"bad cron", map[string]string{
			"config_name": "nightly",
			"cron_expr":   "not a cron",
		}, http.StatusBadRequest},
		{"accepted", map[string]string{
			"config_name":  "nightly",
			"run_datetime": now.Add(61 * time.Second).Format("2006-01-02T15:04:05"),
		}, http.StatusOK},
		{"accepted cron", map[string]string{
			"config_name": "nightly",
			"cron_expr":   "0 6 * * *",
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/download/schedule-job", jsonBody(t, tt.body))
			w := httptest.NewRecorder()

			f.handler.ScheduleJob(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode == http.StatusOK {
				var resp map[string]string
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatal(err)
				}
				if !strings.HasPrefix(resp["job_id"], "sched_nightly_") {
					t.Errorf("job_id = %q", resp["job_id"])
				}
			}
		})
	}
}

func TestHandler_GetSchedules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.store.Save("nightly", validConfig()); err != nil {
		t.Fatal(err)
	}

	body := jsonBody(t, map[string]string{
		"config_name":  "nightly",
		"run_datetime": time.Now().Add(2 * time.Hour).Format("2006-01-02T15:04:05"),
	})
	w := httptest.NewRecorder()
	f.handler.ScheduleJob(w, httptest.NewRequest(http.MethodPost, "/download/schedule-job", body))
	if w.Code != http.StatusOK {
		t.Fatalf("ScheduleJob status = %d", w.Code)
	}

	var resp struct {
		Status    string             `json:"status"`
		Schedules []scheduler.Status `json:"schedules"`
	}
	deadline := time.Now().Add(time.Second)
	for len(resp.Schedules) == 0 && time.Now().Before(deadline) {
		w = httptest.NewRecorder()
		f.handler.GetSchedules(w, httptest.NewRequest(http.MethodGet, "/download/get-schedules", nil))
		resp.Schedules = nil
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
	}
	if len(resp.Schedules) != 1 {
		t.Fatalf("schedules = %v", resp.Schedules)
	}
	if resp.Schedules[0].Name != "Download: nightly" || resp.Schedules[0].NextRun == nil {
		t.Errorf("unexpected schedule %+v", resp.Schedules[0])
	}
}

func TestHandler_CancelSchedule_UnknownIsSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/download/cancel-schedule/sched_missing_1", nil)
	req.SetPathValue("jobId", "sched_missing_1")
	w := httptest.NewRecorder()

	f.handler.CancelSchedule(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "success" {
		t.Errorf("status = %q, want success", resp["status"])
	}
}

func TestHandler_GetAdvancedSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.handler.GetAdvancedSettings(w, httptest.NewRequest(http.MethodGet, "/download/get-advanced-settings", nil))

	var resp AdvancedSettings
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OTPSecretConfigured || resp.DownloadBasePath != "downloads" {
		t.Errorf("unexpected settings %+v", resp)
	}
	if strings.Contains(w.Body.String(), "JBSWY") {
		t.Error("advanced settings must never expose the secret")
	}
}
