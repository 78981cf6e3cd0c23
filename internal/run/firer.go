package run

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"reportrunner/internal/configstore"
	"reportrunner/internal/runtime"
	"reportrunner/internal/scheduler"
)

// NewScheduledFire returns the scheduler's fire handler. At fire time
// it re-checks the run flag, reloads the named configuration fresh
// from the store (so edits made after scheduling apply), validates it,
// and starts a run. Every bail-out is logged; a scheduled job never
// surfaces an error to a client.
func NewScheduledFire(state *runtime.State, store *configstore.Store, runner *Runner) scheduler.FireFunc {
	validate := validator.New(validator.WithRequiredStructEnabled())

	return func(job scheduler.Job) {
		logger := slog.With("job_id", job.ID, "config_name", job.ConfigName)

		if state.Running() {
			logger.Info("Download process already running, skipping scheduled job")
			return
		}

		cfg, err := store.Get(job.ConfigName)
		if err != nil {
			logger.Warn("Scheduled configuration not loadable", "error", err)
			return
		}
		if err := validate.Struct(&cfg); err != nil {
			logger.Warn("Scheduled configuration invalid", "error", err)
			return
		}

		logger.Info("Starting scheduled download run")
		runner.Start(Params{
			Email:    cfg.Email,
			Password: cfg.Password,
			Reports:  cfg.Reports,
			Regions:  cfg.Regions,
		})
	}
}
