//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/dbscope/database/connstr"
)

// PostgreSQLConfig holds the PostgreSQL server settings.
type PostgreSQLConfig struct {
	ImageTag       string // default "17-alpine"
	Username       string
	Password       string
	Database       string
	StartupTimeout time.Duration
}

// DefaultPostgreSQLConfig returns the settings used when nil is passed.
func DefaultPostgreSQLConfig() *PostgreSQLConfig {
	return &PostgreSQLConfig{
		ImageTag:       "17-alpine",
		Username:       "testuser",
		Password:       "testpass",
		Database:       "testdb",
		StartupTimeout: 60 * time.Second,
	}
}

// StartPostgreSQL starts a PostgreSQL server. SSL is disabled in the
// returned connection string.
func StartPostgreSQL(ctx context.Context, t *testing.T, cfg *PostgreSQLConfig) (*Database, error) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultPostgreSQLConfig()
	}

	db, err := start(ctx, t, image{
		name: "PostgreSQL",
		ref:  "postgres:" + cfg.ImageTag,
		port: "5432/tcp",
		env: map[string]string{
			"POSTGRES_USER":     cfg.Username,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.Database,
		},
		// the server restarts once after initdb
		ready:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		timeout: cfg.StartupTimeout,
	})
	if err != nil || db == nil {
		return db, err
	}

	db.desc.Set(connstr.KeyDatabase, cfg.Database)
	db.desc.Set(connstr.KeyUser, cfg.Username)
	db.desc.Set(connstr.KeyPassword, cfg.Password)
	db.desc.Set("sslmode", "disable")
	t.Logf("PostgreSQL container started at %s", db.desc.Redacted())
	return db, nil
}

// MustStartPostgreSQL is StartPostgreSQL that fails the test on error.
func MustStartPostgreSQL(ctx context.Context, t *testing.T, cfg *PostgreSQLConfig) *Database {
	t.Helper()
	db, err := StartPostgreSQL(ctx, t, cfg)
	return mustStart(t, db, err)
}
