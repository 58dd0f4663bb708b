package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownGrace = 10 * time.Second

// NewRouter mounts the RPC endpoint, the health probe and the metrics endpoint.
func NewRouter(backend Backend, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "api").Logger()

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewRequestLogger(log).Handler)

	r.Method(http.MethodPost, "/rpc", NewRPCServer(backend, log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// Serve runs handler on addr until ctx is cancelled. ready, if not nil, receives
// the bound port once the listener is up.
func Serve(ctx context.Context, addr string, handler http.Handler, ready chan<- int, log zerolog.Logger) error {
	lc := &net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr) // ":0" allowed
	if err != nil {
		return err
	}

	if ready != nil {
		if ta, ok := ln.Addr().(*net.TCPAddr); ok {
			ready <- ta.Port
		} else {
			ready <- 0
		}

		close(ready)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() { serveErr <- server.Serve(ln) }()

	log.Info().Str("addr", ln.Addr().String()).Msg("rpc server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown JSON-RPC server gracefully")

			_ = server.Close()
		}

		<-serveErr

		return nil

	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}
