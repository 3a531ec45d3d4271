package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/leadsync/internal/app"
	"github.com/agentworkforce/leadsync/internal/config"
	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/agentworkforce/leadsync/internal/logger"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

func main() {
	loader := config.Loader{}
	cfg := loader.Load()

	source := flag.String("source", cfg.SourceDSN, "data source DSN (memory://, file://path.json, postgres://...)")
	feed := flag.String("feed", cfg.FeedDSN, "change feed DSN (ws://..., redis://...); empty uses the source's own feed")
	automationURL := flag.String("automation-url", cfg.AutomationURL, "automation endpoint (http(s):// or amqp(s)://)")
	clientID := flag.String("client", cfg.ClientID, "only show leads of this client")
	demo := flag.Bool("demo", cfg.SeedDemo, "seed the demo pipeline into a memory or file source")
	freshness := flag.Duration("freshness-interval", cfg.FreshnessInterval, "freshness recompute interval")
	redraw := flag.Duration("redraw", time.Second, "screen redraw interval")
	logFile := flag.String("log-file", loader.EnvOrDefault("LEADSYNC_TUI_LOG_FILE", ""), "append logs to this file")
	screenshot := flag.Bool("screenshot", false, "render one frame to stdout and exit")
	flag.Parse()

	cfg.SourceDSN = strings.TrimSpace(*source)
	cfg.FeedDSN = strings.TrimSpace(*feed)
	cfg.AutomationURL = strings.TrimSpace(*automationURL)
	cfg.ClientID = strings.TrimSpace(*clientID)
	cfg.SeedDemo = *demo
	if *freshness > 0 {
		cfg.FreshnessInterval = *freshness
	}

	out, closeLog, err := openLog(*logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Output: out, Service: "leadsync-tui"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, app.WorkflowsFromEnv(loader), &log, *redraw, *screenshot); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, workflows map[leadsync.DomainEvent]string, log *zerolog.Logger, redraw time.Duration, screenshot bool) error {
	engine, cleanup, err := app.BuildEngine(cfg, workflows, log, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()
	if err := engine.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("initial refresh failed")
	}
	engine.Freshness.Tick()

	m := newModel(engine, updates, redraw)
	if screenshot {
		m.width = 160
		m.height = 50
		fmt.Println(m.View())
		return nil
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// openLog keeps logs off the terminal the dashboard draws on.
func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
