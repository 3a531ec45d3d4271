package leadsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

type EngineOptions struct {
	Source     DataSource
	Feed       ChangeFeed // defaults to Source when Source also implements ChangeFeed
	Automation AutomationClient

	ClientID             string
	TerminalStageID      string
	RevertOnWriteFailure bool
	NoticeTTL            time.Duration
	FreshnessInterval    time.Duration
	Workflows            map[DomainEvent]string

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

type UpdateKind string

const (
	UpdateStore     UpdateKind = "store"
	UpdateFreshness UpdateKind = "freshness"
	UpdateNotice    UpdateKind = "notice"
)

// EngineUpdate tells subscribers that something they render may have changed.
type EngineUpdate struct {
	Kind   UpdateKind       `json:"kind"`
	Change *Change          `json:"change,omitempty"`
	Notice *Notice          `json:"notice,omitempty"`
	Report *FreshnessReport `json:"-"`
}

// Engine owns the store and every component that feeds or reads it.
type Engine struct {
	Store      *EntityStore
	Listener   *ChangeFeedListener
	Mutator    *OptimisticMutator
	Dispatcher *SideEffectDispatcher
	Rollup     *MetricsAggregator
	Notices    *NoticeBoard
	State      *AppState
	Freshness  *FreshnessTicker

	log     zerolog.Logger
	metrics *metrics.Metrics

	subMu   sync.Mutex
	subs    map[uint64]chan EngineUpdate
	nextSub uint64

	stopObserve func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: data source is required", ErrInvalidInput)
	}
	feed := opts.Feed
	if feed == nil {
		if f, ok := opts.Source.(ChangeFeed); ok {
			feed = f
		}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	e := &Engine{
		log:     log,
		metrics: opts.Metrics,
		subs:    map[uint64]chan EngineUpdate{},
	}
	e.Store = NewEntityStore()
	e.Notices = NewNoticeBoard(opts.NoticeTTL)
	e.State = NewAppState(e.Store, opts.ClientID)
	e.Dispatcher = NewSideEffectDispatcher(opts.Automation, DispatcherOptions{
		Workflows: opts.Workflows,
		Notices:   e.Notices,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	e.Mutator = NewOptimisticMutator(e.Store, opts.Source, e.Dispatcher, MutatorOptions{
		RevertOnWriteFailure: opts.RevertOnWriteFailure,
		Notices:              e.Notices,
		Logger:               opts.Logger,
		Metrics:              opts.Metrics,
	})
	e.Listener = NewChangeFeedListener(e.Store, opts.Source, feed, ListenerOptions{
		ClientID: opts.ClientID,
		Notices:  e.Notices,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	e.Rollup = NewMetricsAggregator(e.Store, opts.TerminalStageID, opts.Metrics)
	e.Freshness = NewFreshnessTicker(e.Store, opts.FreshnessInterval, func(report FreshnessReport) {
		counts := make(map[string]int, len(report.Counts))
		for status, n := range report.Counts {
			counts[string(status)] = n
		}
		e.metrics.SetFreshnessCounts(counts)
		e.publish(EngineUpdate{Kind: UpdateFreshness, Report: &report})
	})

	e.stopObserve = e.Store.Observe(func(change Change) {
		e.metrics.SetCollectionSize(string(change.Kind), e.Store.Counts()[change.Kind])
		c := change
		e.publish(EngineUpdate{Kind: UpdateStore, Change: &c})
	})
	e.Notices.OnPost(func(n Notice) {
		e.publish(EngineUpdate{Kind: UpdateNotice, Notice: &n})
	})
	return e, nil
}

// Start runs the listener and the freshness ticker. The initial refresh error,
// if any, is returned after both are running.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	err := e.Listener.Start(runCtx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Freshness.Run(runCtx)
	}()
	e.log.Info().
		Str("client_id", e.State.ClientID()).
		Str("terminal_stage", e.Rollup.TerminalStageID()).
		Bool("automation_configured", e.Dispatcher.Configured()).
		Msg("sync engine started")
	return err
}

// Close stops the feed, then waits for in-flight writes and dispatches.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.Listener.Close()
		e.wg.Wait()
		e.Mutator.Close()
		e.Dispatcher.Close()
		e.Rollup.Close()
		e.stopObserve()
		e.Notices.Close()

		e.subMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subMu.Unlock()
	})
}

// Subscribe returns a channel of updates and its cancel func. Slow readers
// miss updates rather than block the engine.
func (e *Engine) Subscribe() (<-chan EngineUpdate, func()) {
	ch := make(chan EngineUpdate, 32)
	e.subMu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = ch
	e.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			if _, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(ch)
			}
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish(update EngineUpdate) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

func (e *Engine) Conversations() []ConversationSummary {
	snap := e.Store.Snapshot()
	return BuildConversations(snap.Leads, snap.Messages)
}

func (e *Engine) Board() []BoardColumn {
	snap := e.Store.Snapshot()
	return BuildBoard(snap.Leads, snap.Stages)
}

func (e *Engine) FilterLeads(q LeadQuery) []Lead {
	snap := e.Store.Snapshot()
	return FilterLeads(snap.Leads, snap.Stages, q)
}
