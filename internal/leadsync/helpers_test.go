package leadsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func strPtr(v string) *string {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(v time.Time) *time.Time {
	return &v
}

// fakeSource is an in-memory DataSource with per-collection failure injection.
type fakeSource struct {
	mu       sync.Mutex
	leads    []Lead
	messages []Message
	stages   []Stage

	failLeads    error
	failMessages error
	failStages   error
	updateErr    error
	updateGate   chan struct{}
	updateHook   func(id string, patch LeadPatch) error

	selectCalls map[EntityKind]int
	updates     []LeadPatch
}

func newFakeSource() *fakeSource {
	return &fakeSource{selectCalls: map[EntityKind]int{}}
}

func (s *fakeSource) SelectLeads(ctx context.Context, q Query) ([]Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectCalls[EntityLeads]++
	if s.failLeads != nil {
		return nil, s.failLeads
	}
	clientID, scoped := q.Lookup("client_id")
	out := make([]Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		if scoped && lead.ClientID != clientID {
			continue
		}
		out = append(out, lead)
	}
	return out, nil
}

func (s *fakeSource) SelectMessages(ctx context.Context, q Query) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectCalls[EntityMessages]++
	if s.failMessages != nil {
		return nil, s.failMessages
	}
	id, byID := q.Lookup("id")
	leadID, byLead := q.Lookup("lead_id")
	out := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if byID && msg.ID != id {
			continue
		}
		if byLead && msg.LeadID != leadID {
			continue
		}
		out = append(out, msg)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeSource) SelectStages(ctx context.Context, q Query) ([]Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectCalls[EntityStages]++
	if s.failStages != nil {
		return nil, s.failStages
	}
	return append([]Stage(nil), s.stages...), nil
}

func (s *fakeSource) InsertLead(ctx context.Context, lead Lead) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, lead)
	return lead, nil
}

func (s *fakeSource) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeSource) UpdateLead(ctx context.Context, id string, patch LeadPatch) error {
	s.mu.Lock()
	gate := s.updateGate
	hook := s.updateHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(id, patch); err != nil {
			return err
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, patch)
	if s.updateErr != nil {
		return s.updateErr
	}
	for i := range s.leads {
		if s.leads[i].ID == id {
			s.leads[i] = patch.Apply(s.leads[i])
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeSource) calls(kind EntityKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectCalls[kind]
}

func (s *fakeSource) setFailure(kind EntityKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case EntityLeads:
		s.failLeads = err
	case EntityMessages:
		s.failMessages = err
	case EntityStages:
		s.failStages = err
	}
}

func (s *fakeSource) addMessage(msg Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *fakeSource) setLeadStage(id, stageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leads {
		if s.leads[i].ID == id {
			s.leads[i].StageID = stageID
		}
	}
}

type fakeSubscription struct {
	events      chan ChangeEvent
	reconnected chan struct{}
	closed      int32
}

func (s *fakeSubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *fakeSubscription) Reconnected() <-chan struct{} {
	return s.reconnected
}

func (s *fakeSubscription) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}

type fakeFeed struct {
	sub          *fakeSubscription
	subscribeErr error
	subscribed   int32
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{sub: &fakeSubscription{
		events:      make(chan ChangeEvent, 16),
		reconnected: make(chan struct{}, 1),
	}}
}

func (f *fakeFeed) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	atomic.AddInt32(&f.subscribed, 1)
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.sub, nil
}

// fakeAutomation counts triggers and can be forced to fail or panic.
type fakeAutomation struct {
	configured bool
	err        error
	panicWith  any
	calls      int32
	gate       chan struct{}

	mu       sync.Mutex
	payloads []map[string]any
}

func (c *fakeAutomation) Configured() bool {
	return c.configured
}

func (c *fakeAutomation) Trigger(ctx context.Context, workflowID string, payload map[string]any) (TriggerResult, error) {
	atomic.AddInt32(&c.calls, 1)
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	if c.gate != nil {
		<-c.gate
	}
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	if c.err != nil {
		return TriggerResult{}, c.err
	}
	return TriggerResult{Success: true, ExecutionID: "exec-" + workflowID}, nil
}

func (c *fakeAutomation) callCount() int {
	return int(atomic.LoadInt32(&c.calls))
}

var errBoom = errors.New("boom")

func demoStages() []Stage {
	return []Stage{
		{ID: "1", Name: "New", SortOrder: 1},
		{ID: "2", Name: "Contacted", SortOrder: 2},
		{ID: "4", Name: "Booked", SortOrder: 4},
	}
}

func demoLeads() []Lead {
	return []Lead{
		{ID: "lead-a", Name: "Ada", Source: "web", StageID: "1", CreatedAt: at(0)},
		{ID: "lead-b", Name: "Bea", Source: "referral", StageID: "2", CreatedAt: at(-10)},
		{ID: "lead-c", Name: "Cy", Source: "", StageID: "4", CreatedAt: at(-20)},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
