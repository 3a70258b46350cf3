package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/k11v/airgap/internal/bundle"
	"github.com/k11v/airgap/internal/metrics"
	"github.com/k11v/airgap/internal/registry"
	_ "github.com/k11v/airgap/internal/server/docs"
)

type BundleService interface {
	Submit(ctx context.Context, raw []byte) (*bundle.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*bundle.Job, []*bundle.Artifact, error)
	ListArtifacts(ctx context.Context, id uuid.UUID) ([]*bundle.Artifact, error)
	ArchivePath(ctx context.Context, id uuid.UUID) (string, error)
}

type Registry interface {
	SearchNPM(ctx context.Context, q string) ([]string, error)
	NPMVersions(ctx context.Context, name string) ([]string, error)
	SuggestNPM(ctx context.Context, name, version string) (*registry.Suggestion, error)
	SearchPyPI(ctx context.Context, q string) ([]string, error)
	PyPIVersions(ctx context.Context, name string) ([]string, error)
	SuggestPip(ctx context.Context, name, version string) (*registry.Suggestion, error)
	SearchApt(ctx context.Context, q, distroImage string) ([]string, error)
	AptVersions(ctx context.Context, name, distroImage string) ([]string, error)
}

type RequestObserver interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Services are the dependencies of the HTTP handlers.
type Services struct {
	Bundles  BundleService      // required
	Registry Registry           // optional, registry routes respond 404 without it
	Gatherer prometheus.Gatherer // optional, /metrics responds 404 without it
	Observer RequestObserver    // optional
}

var _ Registry = (*registry.Client)(nil)

var _ RequestObserver = (*metrics.Prom)(nil)

//go:generate swag init --generalInfo server.go --output docs --outputTypes go --parseDependency

// New returns a new HTTP server.
// It should be started with http.Server's ListenAndServe.
//
//	@title			airgap
//	@version		1.0
//	@description	Builds offline bundles of container images and host packages.
//	@BasePath		/
func New(cfg *Config, log *slog.Logger, services *Services) *http.Server {
	addr := net.JoinHostPort(cfg.host(), strconv.Itoa(cfg.port()))

	subLogger := log.With("component", "server")
	subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

	h := newHandler(services, subLogger, cfg.maxBodySize())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.GetHealth)
	if services.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(services.Gatherer))
	}
	if !cfg.DisableSwagger {
		mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	}

	mux.HandleFunc("POST /bundles", h.CreateBundle)
	mux.HandleFunc("GET /bundles/{id}", h.GetBundle)
	mux.HandleFunc("GET /bundles/{id}/artifacts", h.ListArtifacts)
	mux.HandleFunc("GET /bundles/{id}/archive", h.GetArchive)

	if services.Registry != nil {
		mux.HandleFunc("GET /registry/{kind}/search", h.SearchPackages)
		mux.HandleFunc("GET /registry/{kind}/versions", h.ListVersions)
		mux.HandleFunc("GET /registry/{kind}/suggest", h.SuggestDependencies)
	}

	var handler http.Handler = mux
	if services.Observer != nil {
		handler = observe(services.Observer, mux)
	}

	return &http.Server{
		Addr:              addr,
		ErrorLog:          subLogLogger,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
