package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ride-hail-driver/internal/common/log"
)

// Server hosts the loopback control API. It binds to 127.0.0.1 only; the
// agent trusts whatever runs on the device, so there is no auth layer here.
type Server struct {
	port    int
	handler *Handler
	logger  *slog.Logger
}

func NewServer(port int, handler *Handler, logger *slog.Logger) *Server {
	return &Server{port: port, handler: handler, logger: logger}
}

// Serve blocks until the context is cancelled or the listener fails, then
// shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, s.logger, "control_started",
		fmt.Sprintf("Control surface listening on 127.0.0.1:%d", s.port),
		"port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, s.logger, "control_shutdown_failed", "Failed to gracefully shut down control server", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, s.logger, "control_server_error", "Control server terminated with error", err, "port", s.port)
			return err
		}
		return nil
	}
}
