package main

import (
	"github.com/caarlos0/env/v11"

	"github.com/k11v/airgap/internal/postgresutil"
	"github.com/k11v/airgap/internal/s3util"
)

// config holds the setup configuration.
type config struct {
	Postgres postgresutil.Config `envPrefix:"AIRGAP_POSTGRES_"`
	S3       s3util.Config       `envPrefix:"AIRGAP_S3_"`
}

// parseConfig parses the setup configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
