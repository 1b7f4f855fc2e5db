//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/dbscope/database/connstr"
)

// OracleConfig holds the Oracle Free server settings. Password is shared by
// SYSTEM and the application user.
type OracleConfig struct {
	ImageTag       string // default "23-slim"
	Password       string
	Service        string // pluggable database, default "FREEPDB1"
	AppUser        string
	StartupTimeout time.Duration
}

// DefaultOracleConfig returns the settings used when nil is passed.
func DefaultOracleConfig() *OracleConfig {
	return &OracleConfig{
		ImageTag:       "23-slim",
		Password:       "testpass",
		Service:        "FREEPDB1",
		AppUser:        "testuser",
		StartupTimeout: 3 * time.Minute,
	}
}

// StartOracle starts a gvenzl/oracle-free server with an application user.
func StartOracle(ctx context.Context, t *testing.T, cfg *OracleConfig) (*Database, error) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultOracleConfig()
	}

	db, err := start(ctx, t, image{
		name: "Oracle",
		ref:  "gvenzl/oracle-free:" + cfg.ImageTag,
		port: "1521/tcp",
		env: map[string]string{
			"ORACLE_PASSWORD":   cfg.Password,
			"APP_USER":          cfg.AppUser,
			"APP_USER_PASSWORD": cfg.Password,
		},
		ready:   wait.ForLog("DATABASE IS READY TO USE!"),
		timeout: cfg.StartupTimeout,
	})
	if err != nil || db == nil {
		return db, err
	}

	db.desc.Set(connstr.KeyDatabase, cfg.Service)
	db.desc.Set(connstr.KeyUser, cfg.AppUser)
	db.desc.Set(connstr.KeyPassword, cfg.Password)
	t.Logf("Oracle container started at %s", db.desc.Redacted())
	return db, nil
}

// MustStartOracle is StartOracle that fails the test on error.
func MustStartOracle(ctx context.Context, t *testing.T, cfg *OracleConfig) *Database {
	t.Helper()
	db, err := StartOracle(ctx, t, cfg)
	return mustStart(t, db, err)
}
