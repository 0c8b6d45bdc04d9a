// Package kafka publishes messages to a Kafka topic with segmentio/kafka-go.
//
// The bridge uses it to stream task lifecycle events: EventObserver is a
// tasklog.Observer that encodes each event as JSON and writes it keyed by
// correlation id, so all events of one call share a partition and stay in
// order.
//
//	client, err := kafka.NewClient(kafka.Config{
//		Brokers: []string{"localhost:9092"},
//		Topic:   "rpc.task-events",
//	}, log)
//	if err != nil {
//		return err
//	}
//	defer client.GracefulShutdown()
//
//	rpcClient := rpc.NewClient(opener, cfg, rpc.WithEventObserver(kafka.NewEventObserver(client)))
//
// TLS and SASL (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512) are configured through
// Config.TLS and Config.SASL.
package kafka
