// Package rabbit is the RabbitMQ layer of rpcbridge.
//
// RabbitClient owns a single AMQP connection, redials it with exponential
// backoff when the broker drops it, and hands out channels through
// OpenChannel. Callers own the channels they open.
//
// Topology declares a work queue together with its dead-letter pair:
//
//	data_queue      durable, x-dead-letter-exchange=data_queue_dlx,
//	                x-dead-letter-routing-key=data_queue_dlq
//	data_queue_dlx  direct, durable
//	data_queue_dlq  durable, bound to data_queue_dlx with key data_queue_dlq
//
// A message only reaches the DLQ when a consumer rejects it without requeue.
// Declaring the same topology again is a no-op.
//
// Channel is the subset of *amqp.Channel used by the rest of the module;
// package rabbittest provides an in-memory implementation for tests.
package rabbit
