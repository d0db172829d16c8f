package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ghostwall/internal/logger"
	"ghostwall/internal/models"
)

// MetricsServer serves the Prometheus scrape on its own port so it never
// passes through the inbound filter or counts against the rate limiter.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer serves provider's registry at cfg.Path on cfg.Port.
func NewMetricsServer(cfg models.MetricsConfig, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, provider.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving the scrape endpoint. It returns http.ErrServerClosed
// after Shutdown.
func (ms *MetricsServer) Start() error {
	logger.Component("metrics").Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight scrapes.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
