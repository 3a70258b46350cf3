package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/k11v/airgap/internal/amqputil"
	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/postgresutil"
	"github.com/k11v/airgap/internal/redisutil"
	"github.com/k11v/airgap/internal/s3util"
	"github.com/k11v/airgap/internal/server"
)

// config holds the application configuration.
type config struct {
	Postgres postgresutil.Config `envPrefix:"AIRGAP_POSTGRES_"`
	AMQP     amqputil.Config     `envPrefix:"AIRGAP_AMQP_"`
	Redis    redisutil.Config    `envPrefix:"AIRGAP_REDIS_"`
	S3       s3util.Config       `envPrefix:"AIRGAP_S3_"`
	Server   server.Config       `envPrefix:"AIRGAP_SERVER_"`

	StorageDir          string        `env:"AIRGAP_STORAGE_DIR"`      // default: "./storage"
	DefaultPlatform     string        `env:"AIRGAP_DEFAULT_PLATFORM"` // default: "linux/amd64"
	DockerDisabled      bool          `env:"AIRGAP_DOCKER_DISABLED"`
	HostSandboxDisabled bool          `env:"AIRGAP_HOST_SANDBOX_DISABLED"`
	DockerWorkers       int           `env:"AIRGAP_DOCKER_WORKERS"` // default: 1
	HostWorkers         int           `env:"AIRGAP_HOST_WORKERS"`   // default: 1
	LockTTL             time.Duration `env:"AIRGAP_LOCK_TTL"`       // default: bundleredis.DefaultTTL
	LogLevel            string        `env:"AIRGAP_LOG_LEVEL"`      // default: "info"
}

func (c *config) storageDir() string {
	if c.StorageDir == "" {
		return "./storage"
	}
	return c.StorageDir
}

func (c *config) dockerWorkers() int {
	if c.DockerWorkers <= 0 {
		return 1
	}
	return c.DockerWorkers
}

func (c *config) hostWorkers() int {
	if c.HostWorkers <= 0 {
		return 1
	}
	return c.HostWorkers
}

// parseConfig parses the application configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	if cfg.DefaultPlatform != "" {
		if _, ok := bundle.PlatformFromString(cfg.DefaultPlatform); !ok {
			return nil, fmt.Errorf("AIRGAP_DEFAULT_PLATFORM: unsupported platform %q", cfg.DefaultPlatform)
		}
	}

	return &cfg, nil
}
