// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the report download service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	ConfigFile       string // JSON document of saved job configurations
	HistoryFile      string // CSV download-history log
	DownloadBasePath string // Base directory for per-run download folders

	OTPSecret   string        // Shared secret for one-time-password generation at login
	Headless    bool          // Run the browser without a display
	LoginRetry  int           // Login attempts before giving up
	RunTimeout  time.Duration // Upper bound on a whole download run
	CallbackURL string        // Optional webhook for run lifecycle events
	CallbackKey string        // HMAC key for signing callback events
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	otpSecret := GetSecretFile(GetEnv("OTP_SECRET_FILE", ""))
	if otpSecret == "" {
		otpSecret = GetEnv("OTP_SECRET", "")
	}

	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		ConfigFile:       GetEnv("CONFIG_FILE", "configs.json"),
		HistoryFile:      GetEnv("HISTORY_FILE", "download_log.csv"),
		DownloadBasePath: GetEnv("DOWNLOAD_BASE_PATH", "downloads"),

		OTPSecret:   otpSecret,
		Headless:    GetBoolEnv("BROWSER_HEADLESS", true),
		LoginRetry:  GetIntEnv("LOGIN_RETRY", 3),
		RunTimeout:  GetDurationEnv("RUN_TIMEOUT", 2*time.Hour),
		CallbackURL: GetEnv("CALLBACK_URL", ""),
		CallbackKey: GetSecretFile(GetEnv("CALLBACK_KEY_FILE", "")),
	}
}
