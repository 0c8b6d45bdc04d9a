package minio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Aleph-Alpha/rpcbridge/v1/minio"
)

func startMinio(t *testing.T) minio.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MinIO integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return minio.Config{Connection: minio.ConnectionConfig{
		Endpoint:             endpoint,
		AccessKeyID:          "minioadmin",
		SecretAccessKey:      "minioadmin",
		BucketName:           "dead-letters",
		AccessBucketCreation: true,
	}}
}

func TestIntegrationPutGetList(t *testing.T) {
	cfg := startMinio(t)
	client, err := minio.NewClient(cfg)
	require.NoError(t, err)
	defer client.GracefulShutdown()

	ctx := context.Background()
	require.NoError(t, client.Put(ctx, "data_queue_dlq/c1.json", []byte(`{"a":1}`), "application/json"))

	data, err := client.Get(ctx, "data_queue_dlq/c1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	keys, err := client.List(ctx, "data_queue_dlq/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data_queue_dlq/c1.json"}, keys)

	_, err = client.Get(ctx, "missing")
	assert.ErrorIs(t, err, minio.ErrObjectNotFound)

	require.NoError(t, client.Delete(ctx, "data_queue_dlq/c1.json"))
}
