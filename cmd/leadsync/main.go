package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/leadsync/internal/app"
	"github.com/agentworkforce/leadsync/internal/config"
	"github.com/agentworkforce/leadsync/internal/httpapi"
	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/agentworkforce/leadsync/internal/logger"
	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	boot := logger.New(logger.Config{Level: os.Getenv("LEADSYNC_LOG_LEVEL")})
	loader := config.Loader{Logger: &boot}
	cfg := loader.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, app.WorkflowsFromEnv(loader), &log); err != nil {
		log.Fatal().Err(err).Msg("leadsync stopped")
	}
}

func run(ctx context.Context, cfg config.Config, workflows map[leadsync.DomainEvent]string, log *zerolog.Logger) error {
	m := metrics.New()
	engine, cleanup, err := app.BuildEngine(cfg, workflows, log, m)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Start(ctx); err != nil {
		// The listener keeps running; the next change event retries the refresh.
		log.Warn().Err(err).Msg("initial refresh failed")
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	server := httpapi.NewServer(engine, httpapi.ServerConfig{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       log,
		Metrics:      m,
	})
	return serve(ctx, ln, server, log)
}

// serve runs handler on ln until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, log *zerolog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("leadsync listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
