package leadsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

type ListenerOptions struct {
	// ClientID scopes the lead collection. Empty means every lead.
	ClientID string
	Notices  *NoticeBoard
	Logger   *zerolog.Logger
	Metrics  *metrics.Metrics
}

type CollectionStatus struct {
	Records             int        `json:"records"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// SyncStatus is the listener's view of how current the store is.
type SyncStatus struct {
	Connected       bool                            `json:"connected"`
	LastReconnectAt *time.Time                      `json:"lastReconnectAt,omitempty"`
	Collections     map[EntityKind]CollectionStatus `json:"collections"`
}

// Healthy reports whether every collection's last refresh succeeded.
func (s SyncStatus) Healthy() bool {
	for _, c := range s.Collections {
		if c.ConsecutiveFailures > 0 {
			return false
		}
	}
	return true
}

// ChangeFeedListener keeps the EntityStore in step with the data source.
//
// Every event re-fetches its whole collection and replaces it. The one
// exception is a message insert for a lead with an open conversation view,
// which is appended directly.
type ChangeFeedListener struct {
	store    *EntityStore
	source   DataSource
	feed     ChangeFeed
	clientID string
	notices  *NoticeBoard
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	refreshMu sync.Mutex

	mu            sync.Mutex
	status        map[EntityKind]*CollectionStatus
	connected     bool
	lastReconnect *time.Time
	views         map[string]int
	started       bool
	closed        bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewChangeFeedListener builds a listener. A nil feed degrades to fetch-once.
func NewChangeFeedListener(store *EntityStore, source DataSource, feed ChangeFeed, opts ListenerOptions) *ChangeFeedListener {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "listener").Logger()
	}
	status := make(map[EntityKind]*CollectionStatus, len(AllEntityKinds))
	for _, kind := range AllEntityKinds {
		status[kind] = &CollectionStatus{}
	}
	return &ChangeFeedListener{
		store:    store,
		source:   source,
		feed:     feed,
		clientID: opts.ClientID,
		notices:  opts.Notices,
		log:      log,
		metrics:  opts.Metrics,
		now:      time.Now,
		status:   status,
		views:    map[string]int{},
	}
}

// Start subscribes, performs the initial full fetch and then follows the feed
// until ctx is done or Close is called. The subscription is opened before the
// fetch so no change can fall between the two. A refresh error is returned but
// does not stop the listener.
func (l *ChangeFeedListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	var sub Subscription
	if l.feed != nil {
		var err error
		sub, err = l.feed.Subscribe(runCtx, SubscribeRequest{Kinds: AllEntityKinds})
		if err != nil {
			l.log.Warn().Err(err).Msg("change feed unavailable, falling back to fetch once")
			sub = nil
		}
	}
	l.setConnected(sub != nil)

	refreshErr := l.RefreshAll(runCtx)

	if sub != nil {
		done := make(chan struct{})
		l.mu.Lock()
		l.done = done
		l.mu.Unlock()
		go l.run(runCtx, sub, done)
	}
	return refreshErr
}

func (l *ChangeFeedListener) run(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := sub.Close(); err != nil {
			l.log.Debug().Err(err).Msg("close subscription")
		}
	}()

	events := sub.Events()
	reconnected := sub.Reconnected()
	for {
		select {
		case <-ctx.Done():
			l.setConnected(false)
			return
		case _, ok := <-reconnected:
			if !ok {
				reconnected = nil
				continue
			}
			now := l.now()
			l.mu.Lock()
			l.lastReconnect = &now
			l.mu.Unlock()
			l.setConnected(true)
			l.metrics.RecordReconnect()
			l.log.Info().Msg("change feed reconnected, refreshing all collections")
			_ = l.RefreshAll(ctx)
		case event, ok := <-events:
			if !ok {
				l.feedDropped()
				return
			}
			pending := map[EntityKind]bool{}
			l.handle(ctx, event, pending)
			open := true
		drain:
			for {
				select {
				case next, ok := <-events:
					if !ok {
						open = false
						break drain
					}
					l.handle(ctx, next, pending)
				default:
					break drain
				}
			}
			for _, kind := range AllEntityKinds {
				if pending[kind] {
					_ = l.Refresh(ctx, kind)
				}
			}
			if !open {
				l.feedDropped()
				return
			}
		}
	}
}

func (l *ChangeFeedListener) feedDropped() {
	l.setConnected(false)
	l.log.Warn().Msg("change feed closed, keeping last fetched data")
}

func (l *ChangeFeedListener) handle(ctx context.Context, event ChangeEvent, pending map[EntityKind]bool) {
	if !event.EntityKind.Valid() {
		l.log.Debug().Str("entity", string(event.EntityKind)).Msg("ignoring event for unknown entity kind")
		return
	}
	l.metrics.RecordFeedEvent(string(event.EntityKind), string(event.EventKind))
	if event.EntityKind == EntityMessages && event.EventKind == EventInsert && l.viewOpen(event.LeadID) {
		if l.appendMessage(ctx, event) {
			return
		}
	}
	pending[event.EntityKind] = true
}

// appendMessage fetches one inserted message and appends it for an open view.
// It reports false when the caller should fall back to a full refresh.
func (l *ChangeFeedListener) appendMessage(ctx context.Context, event ChangeEvent) bool {
	if event.AffectedID == "" {
		return false
	}
	msgs, err := l.source.SelectMessages(ctx, Query{Limit: 1}.Where("id", event.AffectedID))
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", event.AffectedID).Msg("fast path fetch failed")
		return false
	}
	if len(msgs) == 0 {
		return false
	}
	// The view may have closed while the fetch was in flight.
	if !l.viewOpen(msgs[0].LeadID) {
		return true
	}
	if l.store.AppendMessage(msgs[0]) {
		l.metrics.RecordFastPathAppend()
	}
	return true
}

// Refresh fetches one collection and replaces it in the store. On failure the
// previous contents are kept.
func (l *ChangeFeedListener) Refresh(ctx context.Context, kind EntityKind) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	start := time.Now()
	var (
		n   int
		err error
	)
	switch kind {
	case EntityLeads:
		var leads []Lead
		leads, err = l.source.SelectLeads(ctx, LeadsQuery(l.clientID))
		if err == nil {
			l.store.ReplaceLeads(leads)
			n = len(leads)
		}
	case EntityMessages:
		var msgs []Message
		msgs, err = l.source.SelectMessages(ctx, MessagesQuery())
		if err == nil {
			l.store.ReplaceMessages(msgs)
			n = len(msgs)
		}
	case EntityStages:
		var stages []Stage
		stages, err = l.source.SelectStages(ctx, StagesQuery())
		if err == nil {
			l.store.ReplaceStages(stages)
			n = len(stages)
		}
	default:
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalidInput, kind)
	}
	l.metrics.RecordRefresh(string(kind), time.Since(start), err)
	l.recordResult(kind, n, err)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", kind, err)
	}
	return nil
}

// RefreshAll refreshes stages, leads and messages in that order.
func (l *ChangeFeedListener) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, kind := range AllEntityKinds {
		if err := l.Refresh(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *ChangeFeedListener) recordResult(kind EntityKind, n int, err error) {
	now := l.now()
	l.mu.Lock()
	st := l.status[kind]
	if err == nil {
		st.Records = n
		st.LastSuccessAt = &now
		st.ConsecutiveFailures = 0
		l.mu.Unlock()
		return
	}
	st.LastError = err.Error()
	st.LastErrorAt = &now
	st.ConsecutiveFailures++
	first := st.ConsecutiveFailures == 1
	l.mu.Unlock()

	l.log.Error().Err(err).Str("entity", string(kind)).Msg("refresh failed, keeping last fetched data")
	if first && l.notices != nil {
		l.notices.Post(NoticeError, fmt.Sprintf("Failed to refresh %s", kind))
	}
}

func (l *ChangeFeedListener) setConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
	l.metrics.SetFeedConnected(connected)
}

func (l *ChangeFeedListener) Status() SyncStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := SyncStatus{
		Connected:   l.connected,
		Collections: make(map[EntityKind]CollectionStatus, len(l.status)),
	}
	if l.lastReconnect != nil {
		ts := *l.lastReconnect
		out.LastReconnectAt = &ts
	}
	for kind, st := range l.status {
		out.Collections[kind] = *st
	}
	return out
}

// Close stops following the feed and waits for the loop to exit.
func (l *ChangeFeedListener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	l.setConnected(false)
}

func (l *ChangeFeedListener) viewOpen(leadID string) bool {
	if leadID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.views[leadID] > 0
}

// ConversationView follows one lead's messages while it is open.
type ConversationView struct {
	leadID   string
	store    *EntityStore
	listener *ChangeFeedListener
	changed  chan struct{}
	stop     func()

	mu     sync.Mutex
	closed bool
}

// OpenConversation enables the message fast path for leadID until the view is closed.
func (l *ChangeFeedListener) OpenConversation(leadID string) *ConversationView {
	v := &ConversationView{
		leadID:   leadID,
		store:    l.store,
		listener: l,
		changed:  make(chan struct{}, 1),
	}
	l.mu.Lock()
	l.views[leadID]++
	l.mu.Unlock()
	v.stop = l.store.Observe(func(change Change) {
		if change.Kind != EntityMessages {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return
		}
		select {
		case v.changed <- struct{}{}:
		default:
		}
	})
	return v
}

func (v *ConversationView) LeadID() string {
	return v.leadID
}

// Messages returns the lead's messages in conversation order.
func (v *ConversationView) Messages() []Message {
	return v.store.MessagesForLead(v.leadID)
}

// Changed is signalled, coalesced, whenever the message collection changes.
func (v *ConversationView) Changed() <-chan struct{} {
	return v.changed
}

// Close tears the view down. No signal is delivered after Close returns.
func (v *ConversationView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.stop()

	l := v.listener
	l.mu.Lock()
	if l.views[v.leadID] <= 1 {
		delete(l.views, v.leadID)
	} else {
		l.views[v.leadID]--
	}
	l.mu.Unlock()
}
