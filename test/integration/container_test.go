//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/practicehub/calendar/internal/platform/db"
	"github.com/practicehub/calendar/migrations"
)

const (
	postgresImage  = "postgres:16-alpine"
	readyTimeout   = 30 * time.Second
	migrationCheck = "migration_check"
)

// startPostgresContainer runs a throwaway Postgres with a Docker-assigned
// host port, waits for it to answer, and applies the embedded migrations to a
// scratch schema so a broken migration fails the run before any test starts.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	out, err := docker(ctx, "run", "-d", "--rm",
		"--label", "practicehub.test=calendar-integration",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=calendar",
		"-e", "POSTGRES_PASSWORD=calendar",
		"-e", "POSTGRES_DB=calendar_test",
		postgresImage,
	)
	if err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(out)
	cleanup := func() { _, _ = docker(context.Background(), "rm", "-f", id) }

	addr, err := mappedAddr(ctx, id)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	connStr := fmt.Sprintf("postgres://calendar:calendar@%s/calendar_test?sslmode=disable", addr)

	if err := awaitSchema(ctx, connStr); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// mappedAddr reads the host address Docker bound to the container's 5432.
func mappedAddr(ctx context.Context, id string) (string, error) {
	out, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		return "", err
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if host, port, err := net.SplitHostPort(strings.TrimSpace(sc.Text())); err == nil && host == "127.0.0.1" {
			return net.JoinHostPort(host, port), nil
		}
	}
	return "", fmt.Errorf("no IPv4 mapping for 5432 in %q", out)
}

// awaitSchema retries until the server accepts the migrations, which covers
// both startup and the init-time restart of the official image.
func awaitSchema(ctx context.Context, connStr string) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var lastErr error
	for {
		lastErr = applyMigrations(ctx, connStr)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", readyTimeout, lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func applyMigrations(ctx context.Context, connStr string) error {
	pool, err := db.NewPool(ctx, connStr, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	schema := db.SchemaName(migrationCheck)
	if _, err := pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
		return err
	}
	applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply embedded migrations: %w", err)
	}
	if applied == 0 {
		return fmt.Errorf("no embedded migrations applied to %s", schema)
	}
	_, err = pool.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}
