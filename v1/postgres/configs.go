package postgres

import (
	"fmt"
	"time"
)

// Config defines the top-level configuration structure for the Postgres client.
type Config struct {
	Connection        Connection
	ConnectionDetails ConnectionDetails
}

// Connection contains the parameters needed to reach the PostgreSQL server.
type Connection struct {
	Host     string `yaml:"host" envconfig:"POSTGRES_HOST"`
	Port     string `yaml:"port" envconfig:"POSTGRES_PORT"`
	User     string `yaml:"user" envconfig:"POSTGRES_USER"`
	Password string `yaml:"password" envconfig:"POSTGRES_PASSWORD"`
	DbName   string `yaml:"db_name" envconfig:"POSTGRES_DB"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"POSTGRES_SSL_MODE"`
}

// ConnectionDetails tunes the connection pool. Zero values fall back to
// 50 open connections, 25 idle ones and a one minute lifetime.
type ConnectionDetails struct {
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"POSTGRES_CONN_MAX_LIFETIME"`
}

// Enabled reports whether a host is configured. Callers use it to decide
// whether to wire the task log store at all.
func (c Config) Enabled() bool { return c.Connection.Host != "" }

// DSN renders the connection in key=value form.
func (c Connection) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DbName, sslMode)
}
