package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/k11v/airgap/internal/amqputil"
	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/bundle/bundleamqp"
	"github.com/k11v/airgap/internal/bundle/bundlepg"
	"github.com/k11v/airgap/internal/bundle/bundleredis"
	"github.com/k11v/airgap/internal/bundle/bundles3"
	"github.com/k11v/airgap/internal/dockerbuild"
	"github.com/k11v/airgap/internal/engine"
	"github.com/k11v/airgap/internal/hostbuild"
	"github.com/k11v/airgap/internal/metrics"
	"github.com/k11v/airgap/internal/postgresutil"
	"github.com/k11v/airgap/internal/redisutil"
	"github.com/k11v/airgap/internal/registry"
	"github.com/k11v/airgap/internal/s3util"
	"github.com/k11v/airgap/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Environ()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(environ []string) error {
	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	var level slog.Level
	if cfg.LogLevel != "" {
		if err = level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("AIRGAP_LOG_LEVEL: %w", err)
		}
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = os.MkdirAll(cfg.storageDir(), 0o755); err != nil {
		return fmt.Errorf("storage dir: %w", err)
	}

	pool, err := postgresutil.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	db := bundlepg.NewDatabase(pool)

	mq := amqputil.NewClient(cfg.AMQP.URL, log)
	defer func() {
		if closeErr := mq.Close(); closeErr != nil {
			log.Error("didn't close amqp connection", "error", closeErr)
		}
	}()
	if err = mq.Ping(ctx); err != nil {
		return err
	}

	var locker bundle.Locker = bundle.NopLocker{}
	if cfg.Redis.URL != "" {
		var rdb *redis.Client
		rdb, err = redisutil.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() {
			_ = rdb.Close()
		}()
		locker = bundleredis.NewLocker(rdb, cfg.LockTTL)
	} else {
		log.Warn("redis isn't configured, jobs aren't claimed across instances")
	}

	var publisher bundle.Publisher
	if cfg.S3.ConnectionString != "" {
		s3Client, s3Err := s3util.NewClient(cfg.S3.ConnectionString)
		if s3Err != nil {
			return s3Err
		}
		publisher = bundles3.NewPublisher(s3Client, cfg.S3.Bucket)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewProm(metrics.Namespace, reg)

	eng, err := engine.NewFromEnv(log)
	if err != nil {
		return err
	}

	service := bundle.NewService(db, bundleamqp.NewBroker(mq), prom, log, &bundle.ServiceConfig{
		StorageDir:      cfg.storageDir(),
		DefaultPlatform: bundle.Platform(cfg.DefaultPlatform),
	})

	dockerWorker := &bundle.Worker{
		Target: bundle.TargetDocker,
		DB:     db,
		Builder: dockerbuild.NewBuilder(eng, log, &dockerbuild.Config{
			StorageDir:     cfg.storageDir(),
			DockerDisabled: cfg.DockerDisabled,
		}),
		Locker:    locker,
		Publisher: publisher,
		Metrics:   prom,
		Log:       log,
	}
	hostWorker := &bundle.Worker{
		Target: bundle.TargetHost,
		DB:     db,
		Builder: hostbuild.NewBuilder(eng, hostbuild.ExecCommander{}, log, &hostbuild.Config{
			StorageDir:      cfg.storageDir(),
			SandboxDisabled: cfg.HostSandboxDisabled,
		}),
		Locker:    locker,
		Publisher: publisher,
		Metrics:   prom,
		Log:       log,
	}

	srv := server.New(&cfg.Server, log, &server.Services{
		Bundles:  service,
		Registry: registry.NewClient(nil, eng, log, &registry.Config{}),
		Gatherer: reg,
		Observer: prom,
	})

	g, gctx := errgroup.WithContext(ctx)
	for range cfg.dockerWorkers() {
		consumer := bundleamqp.NewConsumer(mq, bundle.TargetDocker, dockerWorker, log)
		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
	}
	for range cfg.hostWorkers() {
		consumer := bundleamqp.NewConsumer(mq, bundle.TargetHost, hostWorker, log)
		g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
	}
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
