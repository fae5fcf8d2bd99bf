package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csa-dev/csa/internal/logging"
)

var metricsLog = logging.ForComponent(logging.CompMetrics)

// Handler returns the standard Prometheus exposition handler for "/metrics".
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Serve starts a minimal HTTP server exposing only "/metrics" on addr,
// returning once ctx is canceled. Used by `csa mcp-hub serve` when a
// metrics address is configured.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		metricsLog.Warn("metrics_server_exited", slog.String("error", err.Error()))
		return err
	}
}
