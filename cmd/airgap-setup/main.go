package main

import (
	"context"
	"fmt"
	"os"

	"github.com/k11v/airgap/internal/postgresprovision"
	"github.com/k11v/airgap/internal/s3util"
)

func main() {
	if err := run(os.Environ()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(environ []string) error {
	ctx := context.Background()

	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	if err = postgresprovision.Setup(cfg.Postgres.DSN); err != nil {
		return err
	}

	if cfg.S3.ConnectionString == "" {
		return nil
	}
	client, err := s3util.NewClient(cfg.S3.ConnectionString)
	if err != nil {
		return err
	}
	return s3util.Setup(ctx, client, cfg.S3.Bucket)
}
