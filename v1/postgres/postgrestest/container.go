// Package postgrestest starts a throwaway PostgreSQL server for integration
// tests.
package postgrestest

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Aleph-Alpha/rpcbridge/v1/postgres"
)

// Image is the server image used by integration tests.
const Image = "postgres:15"

const (
	user     = "testuser"
	password = "testpass"
	dbName   = "testdb"
)

// StartContainer runs PostgreSQL for the duration of t and returns a Config
// pointing at it. It skips the test under -short.
func StartContainer(t testing.TB) postgres.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	hostPort, err := freePort()
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}

	req := testcontainers.ContainerRequest{
		Image: Image,
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
		},
		ExposedPorts: []string{"5432/tcp"},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = nat.PortMap{"5432/tcp": []nat.PortBinding{{HostPort: hostPort}}}
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	conn := postgres.Connection{
		Host:     host,
		Port:     port.Port(),
		User:     user,
		Password: password,
		DbName:   dbName,
		SSLMode:  "disable",
	}
	if err := waitReady(conn, 30*time.Second); err != nil {
		t.Fatalf("postgres not ready: %v", err)
	}
	return postgres.Config{Connection: conn}
}

// Open returns a plain database/sql handle on the lib/pq driver, for
// assertions that should not go through gorm.
func Open(t testing.TB, cfg postgres.Config) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", cfg.Connection.DSN())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitReady(conn postgres.Connection, timeout time.Duration) error {
	db, err := sql.Open("postgres", conn.DSN())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ping after %s: %w", timeout, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func freePort() (string, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
