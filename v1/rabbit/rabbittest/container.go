package rabbittest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
)

// Image is the broker image used by integration tests.
const Image = "rabbitmq:4-management"

// StartContainer runs a RabbitMQ container for the duration of t and returns
// a Connection pointing at it. It skips the test under -short.
func StartContainer(t testing.TB) rabbit.Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping RabbitMQ integration test in short mode")
	}

	ctx := context.Background()
	hostPort, err := freePort()
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}

	c, err := createContainer(ctx, hostPort)
	if err != nil {
		t.Fatalf("start rabbitmq: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	deadline := time.Now().Add(60 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port.Port()), 2*time.Second)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rabbitmq port not ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	return rabbit.Connection{
		Host:     host,
		Port:     uint(port.Int()),
		User:     "guest",
		Password: "guest",
	}
}

func createContainer(ctx context.Context, hostPort string) (testcontainers.Container, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		bindings := nat.PortMap{"5672/tcp": []nat.PortBinding{{HostPort: hostPort}}}
		req := testcontainers.ContainerRequest{
			Image:        Image,
			ExposedPorts: []string{"5672/tcp"},
			HostConfigModifier: func(cfg *container.HostConfig) {
				cfg.PortBindings = bindings
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5672/tcp").WithStartupTimeout(30*time.Second),
				wait.ForExec([]string{"rabbitmq-diagnostics", "check_running"}).
					WithExitCodeMatcher(func(code int) bool { return code == 0 }).
					WithStartupTimeout(30*time.Second),
			),
		}

		var c testcontainers.Container
		c, lastErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if lastErr == nil {
			return c, nil
		}
		// docker socket hiccups are worth another try, anything else is not
		if strings.Contains(lastErr.Error(), "docker.sock") || errors.Is(lastErr, io.EOF) {
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		break
	}
	return nil, fmt.Errorf("rabbitmq container after 3 attempts: %w", lastErr)
}

func freePort() (string, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
