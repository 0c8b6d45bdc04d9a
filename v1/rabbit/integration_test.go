package rabbit_test

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/mock/gomock"

	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit"
	"github.com/Aleph-Alpha/rpcbridge/v1/rabbit/rabbittest"
)

// TestIntegrationDeadLetterTopology runs the topology against a real broker:
// declare twice, reject a message and find it in the DLQ.
func TestIntegrationDeadLetterTopology(t *testing.T) {
	conn := rabbittest.StartContainer(t)

	ctrl := gomock.NewController(t)
	mockLog := rabbit.NewMockLogger(ctrl)
	mockLog.EXPECT().InfoWithContext(gomock.Any(), "connected to rabbit", gomock.Any(), gomock.Any()).Times(1)
	mockLog.EXPECT().WarnWithContext(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	var client *rabbit.RabbitClient
	app := fx.New(
		rabbit.FXModule,
		fx.Provide(
			func() rabbit.Config { return rabbit.Config{Connection: conn} },
			func() rabbit.Logger { return mockLog },
		),
		fx.Populate(&client),
		fx.NopLogger,
	)
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Start(startCtx))
	defer func() { _ = app.Stop(context.Background()) }()

	require.True(t, client.IsConnected())

	ch, err := client.OpenChannel()
	require.NoError(t, err)
	defer ch.Close()

	topo := rabbit.NewTopology("it_data_queue")
	require.NoError(t, topo.Declare(ch))
	require.NoError(t, topo.Declare(ch), "redeclaring must be a no-op")

	require.NoError(t, rabbit.Publish(context.Background(), ch, "", topo.WorkQueue, amqp.Publishing{
		CorrelationId: "it-1",
		DeliveryMode:  amqp.Persistent,
		Body:          []byte(`{"payload":"boom"}`),
	}, rabbit.DefaultPublishPolicy))

	var d amqp.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		d, ok, err = ch.Get(topo.WorkQueue, false)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
	require.NoError(t, d.Reject(false))

	require.Eventually(t, func() bool {
		depths := rabbit.Depths(context.Background(), client, topo.DeadLetterQueue, topo.WorkQueue)
		return depths[topo.DeadLetterQueue].Messages == 1 && depths[topo.WorkQueue].Messages == 0
	}, 5*time.Second, 100*time.Millisecond)

	exists, err := rabbit.QueueExists(client, "it_ghost_queue")
	require.NoError(t, err)
	assert.False(t, exists)
}
