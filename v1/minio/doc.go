// Package minio stores objects in an S3-compatible bucket with minio-go.
//
// The dead-letter tooling uses it to archive messages drained from a
// "<queue>_dlq" before they are purged. NewClient validates the connection
// and bootstraps the bucket; FXModule additionally runs a health monitor
// that swaps in a fresh client when checks fail.
package minio
