package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer exposes a Prometheus registry on /metrics.
type HTTPServer struct {
	addr   string
	server *http.Server
}

// NewHTTPServer builds an HTTPServer that serves reg's metrics at addr.
func NewHTTPServer(addr string, reg *prometheus.Registry) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &HTTPServer{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start serves /metrics on addr, blocking until ctx is canceled or the
// listener fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
