// Package tasklog is the lifecycle observer seam of rpcbridge.
//
// RPC clients and receivers emit a "start" and an "end" Event per call. What
// happens with them is up to the injected Observer: nothing (Nop), a post
// to a remote logger service (HTTPObserver), a debug log line
// (LogObserver), a row in the task_logs table (package tasklog/store) or a
// message on a Kafka topic (kafka.EventObserver). Multi combines them.
//
// Observers are best effort. Callers go through Notify, which swallows
// errors and panics.
package tasklog
