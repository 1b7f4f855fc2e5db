//go:build integration

// Package containers starts database servers in Docker for integration tests.
// Every helper skips the calling test when Docker is unavailable.
package containers

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/dbscope/database/connstr"
)

// Database is a running database container and the descriptor that reaches it.
type Database struct {
	name      string
	container testcontainers.Container
	desc      *connstr.Descriptor
}

// image describes how to run and wait for one database server.
type image struct {
	name    string
	ref     string
	port    nat.Port
	env     map[string]string
	ready   wait.Strategy
	timeout time.Duration
}

func start(ctx context.Context, t *testing.T, img image) (*Database, error) {
	t.Helper()

	if !isDockerAvailable(ctx) {
		t.Skipf("Docker is not available, skipping %s integration test", img.name)
		return nil, nil
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        img.ref,
			ExposedPorts: []string{string(img.port)},
			Env:          img.env,
			WaitingFor:   wait.ForAll(img.ready, wait.ForListeningPort(img.port)).WithStartupTimeout(img.timeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", img.name, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get %s container host: %w", img.name, err)
	}
	mapped, err := container.MappedPort(ctx, img.port)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get %s container port: %w", img.name, err)
	}

	desc := &connstr.Descriptor{}
	desc.Set(connstr.KeyServer, host)
	desc.Set(connstr.KeyPort, strconv.Itoa(mapped.Int()))
	return &Database{name: img.name, container: container, desc: desc}, nil
}

// ConnectionString returns a "key=value;" connection string for the container.
func (d *Database) ConnectionString() string {
	return d.desc.String()
}

// Terminate stops and removes the container.
func (d *Database) Terminate(ctx context.Context) error {
	if d == nil || d.container == nil {
		return nil
	}
	return d.container.Terminate(ctx)
}

// WithCleanup terminates the container when t finishes.
func (d *Database) WithCleanup(t *testing.T) *Database {
	t.Helper()
	t.Cleanup(func() {
		if err := d.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate %s container: %v", d.name, err)
		}
	})
	return d
}

func mustStart(t *testing.T, db *Database, err error) *Database {
	t.Helper()
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}
	return db
}

func isDockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}
