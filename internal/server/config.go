package server

import (
	"time"
)

// Config holds the server configuration.
type Config struct {
	Host              string        `env:"HOST"` // default: "127.0.0.1"
	Port              int           `env:"PORT"` // default: 4000
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT"`
	MaxBodySize       int64         `env:"MAX_BODY_SIZE"` // default: 1 MiB
	DisableSwagger    bool          `env:"DISABLE_SWAGGER"`
}

func (c *Config) host() string {
	h := c.Host
	if h == "" {
		h = "127.0.0.1"
	}
	return h
}

func (c *Config) port() int {
	p := c.Port
	if p == 0 {
		p = 4000
	}
	return p
}

func (c *Config) maxBodySize() int64 {
	n := c.MaxBodySize
	if n == 0 {
		n = 1 << 20
	}
	return n
}
