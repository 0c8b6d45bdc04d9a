package minio

import "time"

const connectionHealthCheckInterval = 30 * time.Second

// Config configures the object store used to archive dead letters.
type Config struct {
	Connection ConnectionConfig
}

// ConnectionConfig holds the endpoint, credentials and bucket.
type ConnectionConfig struct {
	Endpoint        string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"MINIO_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" envconfig:"MINIO_USE_SSL"`
	Region          string `yaml:"region" envconfig:"MINIO_REGION"`
	BucketName      string `yaml:"bucket_name" envconfig:"MINIO_BUCKET"`

	// AccessBucketCreation creates the bucket when it does not exist.
	AccessBucketCreation bool `yaml:"access_bucket_creation" envconfig:"MINIO_CREATE_BUCKET"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return c.Connection.Endpoint != "" }
