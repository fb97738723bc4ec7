// Package metrics exposes Prometheus instrumentation for the sidecar supervisor.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sidecar"

// Kill phases.
const (
	PhaseReap     = "reap"
	PhaseShutdown = "shutdown"
)

// Metrics holds the supervisor's collectors.
type Metrics struct {
	ReapedProcesses prometheus.Counter
	KillFailures    *prometheus.CounterVec
	Spawns          *prometheus.CounterVec
	OutputLines     *prometheus.CounterVec
	Up              prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReapedProcesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_processes_total",
			Help:      "Processes killed because they were listening on the sidecar port.",
		}),
		KillFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kill_failures_total",
			Help:      "Kill requests that failed, by phase.",
		}, []string{"phase"}),
		Spawns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Sidecar spawn attempts, by result.",
		}, []string{"result"}),
		OutputLines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Lines relayed from the sidecar, by stream.",
		}, []string{"stream"}),
		Up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 while the sidecar process is running.",
		}),
	}
}

// Server serves /metrics for a registry.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and prepares a metrics server for gatherer.
func Listen(addr string, gatherer prometheus.Gatherer) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Debug("metrics server listening", slog.String("addr", s.Addr()))
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return nil
	}
}
