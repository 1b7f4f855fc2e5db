package scope

import (
	"github.com/gaborage/dbscope/config"
	"github.com/gaborage/dbscope/database"
	"github.com/gaborage/dbscope/database/types"
	"github.com/gaborage/dbscope/logger"
)

// NewFromConfig builds a Manager from loaded configuration: the driver comes
// from database.vendor, deadlock, timeout, isolation and tracking settings
// from their sections, and a logger from the log section, writing to
// log.file when it is set. opts are applied last and override all of these.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: config.NewNotConfiguredError("database", "database.vendor")}
	}

	driver, err := database.NewDriver(cfg.Database.Vendor)
	if err != nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: err}
	}

	isolation, err := types.ParseIsolationLevel(cfg.Database.Isolation)
	if err != nil {
		return nil, &Error{Op: OpNew, Kind: ErrConfiguration, Err: err}
	}

	base := []Option{
		WithLogger(logger.NewWithWriter(
			logger.Output(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups),
			cfg.Log.Level, cfg.Log.Pretty, nil)),
		WithDeadlockPattern(cfg.Deadlock.Pattern),
		WithMaxCauseDepth(cfg.Deadlock.MaxDepth),
		WithOpenTimeout(cfg.Database.Timeout.Open),
		WithDefaultIsolation(isolation),
		WithTracking(cfg.Tracking.Enabled),
	}
	return New(cfg.Database.ConnectionString, driver, append(base, opts...)...)
}
