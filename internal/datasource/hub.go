package datasource

import (
	"sync"

	"github.com/agentworkforce/leadsync/internal/leadsync"
)

const subscriptionBuffer = 256

// subscription is the Subscription handed out by every feed in this package.
type subscription struct {
	req         leadsync.SubscribeRequest
	events      chan leadsync.ChangeEvent
	reconnected chan struct{}

	mu      sync.Mutex
	closed  bool
	onClose func()
}

func newSubscription(req leadsync.SubscribeRequest, onClose func()) *subscription {
	return &subscription{
		req:         req,
		events:      make(chan leadsync.ChangeEvent, subscriptionBuffer),
		reconnected: make(chan struct{}, 1),
		onClose:     onClose,
	}
}

func (s *subscription) Events() <-chan leadsync.ChangeEvent {
	return s.events
}

func (s *subscription) Reconnected() <-chan struct{} {
	return s.reconnected
}

// deliver queues event if it matches the request. A full buffer is turned into
// a reconnect signal so the consumer resyncs instead of silently missing rows.
func (s *subscription) deliver(event leadsync.ChangeEvent) {
	if !s.req.Matches(event) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.signalReconnectLocked()
	}
}

func (s *subscription) signalReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.signalReconnectLocked()
}

func (s *subscription) signalReconnectLocked() {
	select {
	case s.reconnected <- struct{}{}:
	default:
	}
}

// drop closes the event channel, which consumers read as a dropped feed.
func (s *subscription) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *subscription) Close() error {
	s.drop()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// hub fans events out to in-process subscriptions.
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: map[*subscription]struct{}{}}
}

func (h *hub) subscribe(req leadsync.SubscribeRequest) *subscription {
	var sub *subscription
	sub = newSubscription(req, func() { h.remove(sub) })
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) remove(sub *subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub) publish(event leadsync.ChangeEvent) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (h *hub) reconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.signalReconnect()
	}
}

// closeAll drops every subscription.
func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[*subscription]struct{}{}
	h.mu.Unlock()
	for sub := range subs {
		sub.drop()
	}
}
