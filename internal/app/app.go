// Package app wires a sync engine from configuration. Both binaries build
// their engine through it.
package app

import (
	"fmt"
	"io"
	"time"

	"github.com/agentworkforce/leadsync/internal/automation"
	"github.com/agentworkforce/leadsync/internal/config"
	"github.com/agentworkforce/leadsync/internal/datasource"
	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

// BuildEngine wires the collaborators named by cfg. The returned cleanup
// closes the engine first and then every collaborator that holds a connection.
func BuildEngine(cfg config.Config, workflows map[leadsync.DomainEvent]string, log *zerolog.Logger, m *metrics.Metrics) (*leadsync.Engine, func(), error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	dsOpts := datasource.Options{Logger: log}
	source, err := datasource.BuildSourceFromDSN(cfg.SourceDSN, dsOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("data source: %w", err)
	}
	closers := []any{source}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if c, ok := closers[i].(io.Closer); ok {
				if err := c.Close(); err != nil {
					log.Warn().Err(err).Msg("close failed")
				}
			}
		}
	}

	feed, err := datasource.BuildFeedFromDSN(cfg.FeedDSN, dsOpts)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("change feed: %w", err)
	}
	if feed != nil {
		closers = append(closers, feed)
	}

	terminalStageID := cfg.TerminalStageID
	if cfg.SeedDemo {
		if err := SeedDemo(source, time.Now()); err != nil {
			closeAll()
			return nil, nil, err
		}
		if terminalStageID == "" {
			terminalStageID = datasource.DemoTerminalStageID
		}
		log.Info().Str("source", cfg.SourceDSN).Msg("seeded demo pipeline")
	}

	client, err := automation.BuildClientFromDSN(cfg.AutomationURL, cfg.AutomationToken, automation.Options{
		Logger:     log,
		Exchange:   cfg.AutomationExchange,
		MaxRetries: cfg.AutomationRetries,
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("automation: %w", err)
	}
	closers = append(closers, client)
	if !client.Configured() {
		log.Warn().Msg("automation not configured, side effects will be simulated")
	}

	engine, err := leadsync.NewEngine(leadsync.EngineOptions{
		Source:               source,
		Feed:                 feed,
		Automation:           client,
		ClientID:             cfg.ClientID,
		TerminalStageID:      terminalStageID,
		RevertOnWriteFailure: cfg.RevertOnWriteFailure,
		NoticeTTL:            cfg.NoticeTTL,
		FreshnessInterval:    cfg.FreshnessInterval,
		Workflows:            workflows,
		Logger:               log,
		Metrics:              m,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return engine, func() {
		engine.Close()
		closeAll()
	}, nil
}

// SeedDemo replaces the contents of a memory or file source with DemoDocument.
func SeedDemo(source leadsync.DataSource, now time.Time) error {
	switch s := source.(type) {
	case *datasource.MemorySource:
		s.Seed(datasource.DemoDocument(now))
		return nil
	case *datasource.FileSource:
		return s.Seed(datasource.DemoDocument(now))
	default:
		return fmt.Errorf("%w: demo seed needs a memory or file source", leadsync.ErrInvalidInput)
	}
}

// WorkflowsFromEnv reads per-event workflow overrides. Unset entries keep the
// dispatcher defaults.
func WorkflowsFromEnv(loader config.Loader) map[leadsync.DomainEvent]string {
	return map[leadsync.DomainEvent]string{
		leadsync.EventStageChanged:      loader.EnvOrDefault("LEADSYNC_WORKFLOW_STAGE_CHANGED", ""),
		leadsync.EventMessageSent:       loader.EnvOrDefault("LEADSYNC_WORKFLOW_MESSAGE_SENT", ""),
		leadsync.EventFollowUpRequested: loader.EnvOrDefault("LEADSYNC_WORKFLOW_FOLLOW_UP", ""),
	}
}
