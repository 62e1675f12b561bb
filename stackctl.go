// Package stackctl supervises a small fixed stack of local HTTP services
// and publishes them externally through a mesh reverse proxy. It is a thin
// public facade over the internal packages, usable for embedding.
package stackctl

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/habistack/stackctl/internal/config"
	"github.com/habistack/stackctl/internal/history"
	"github.com/habistack/stackctl/internal/metrics"
	"github.com/habistack/stackctl/internal/process"
	"github.com/habistack/stackctl/internal/proxy"
	iapi "github.com/habistack/stackctl/internal/server"
	"github.com/habistack/stackctl/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Config = cfg.Config

type StackStatus = supervisor.StackStatus

type ServiceStatus = supervisor.ServiceStatus

type Registrar = proxy.Registrar

type HistorySink = history.Sink

type HistoryRecord = history.Record

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor for the given configuration.
func New(c *Config) *Supervisor {
	return &Supervisor{inner: supervisor.New(c)}
}

func (s *Supervisor) SetRegistrar(r Registrar)  { s.inner.SetRegistrar(r) }
func (s *Supervisor) SetSink(sink HistorySink)  { s.inner.SetSink(sink) }
func (s *Supervisor) Start(ctx context.Context) error { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context)        { s.inner.Stop(ctx) }
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.inner.Restart(ctx)
}
func (s *Supervisor) SyncRoutes(ctx context.Context) { s.inner.SyncRoutes(ctx) }
func (s *Supervisor) Status(ctx context.Context) StackStatus {
	return s.inner.Status(ctx)
}

// LoadConfig reads a TOML config file, or returns the compiled-in defaults
// when path is empty.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultStack returns the compiled-in service set.
func DefaultStack() []Spec { return process.DefaultStack() }

// NewHistorySink opens the SQLite action log at path.
func NewHistorySink(path string) (HistorySink, error) { return history.New(path) }

// NewHTTPServer starts the local control API using the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor, sink HistorySink) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner, sink)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.RegisterDefault() }
