package leadsync

import (
	"sort"
	"sync"
)

type ChangeOp string

const (
	OpReplace ChangeOp = "replace"
	OpPatch   ChangeOp = "patch"
	OpAppend  ChangeOp = "append"
)

// Change describes one applied store write.
type Change struct {
	Kind EntityKind `json:"kind"`
	Op   ChangeOp   `json:"op"`
	ID   string     `json:"id,omitempty"`
}

type leadRecord struct {
	lead Lead
	seq  uint64
}

type messageRecord struct {
	msg Message
	seq uint64
}

type stageRecord struct {
	stage Stage
	seq   uint64
}

// Snapshot is a consistent copy of all three collections in display order.
type Snapshot struct {
	Leads    []Lead    `json:"leads"`
	Messages []Message `json:"messages"`
	Stages   []Stage   `json:"stages"`
}

// EntityStore holds the in-memory leads, messages and stages.
//
// Writes are serialized and observers run synchronously, in write order,
// after each write is visible to readers. Observers may read the store but
// must not write to it.
type EntityStore struct {
	writeMu sync.Mutex

	mu       sync.RWMutex
	leads    map[string]leadRecord
	messages map[string]messageRecord
	stages   map[string]stageRecord
	seq      uint64

	obsMu     sync.Mutex
	observers map[uint64]func(Change)
	nextObs   uint64
}

func NewEntityStore() *EntityStore {
	return &EntityStore{
		leads:     map[string]leadRecord{},
		messages:  map[string]messageRecord{},
		stages:    map[string]stageRecord{},
		observers: map[uint64]func(Change){},
	}
}

// Observe registers fn for every applied write and returns its unregister func.
func (s *EntityStore) Observe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.obsMu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.obsMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *EntityStore) notify(change Change) {
	s.obsMu.Lock()
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (s *EntityStore) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// ReplaceLeads swaps the lead collection for items. Ids absent from items are dropped.
// Records already present keep their delivery position.
func (s *EntityStore) ReplaceLeads(items []Lead) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := make(map[string]leadRecord, len(items))
	for _, lead := range items {
		if lead.ID == "" {
			continue
		}
		var seq uint64
		if prev, ok := next[lead.ID]; ok {
			seq = prev.seq
		} else if prev, ok := s.leads[lead.ID]; ok {
			seq = prev.seq
		} else {
			seq = s.nextSeqLocked()
		}
		next[lead.ID] = leadRecord{lead: lead, seq: seq}
	}
	s.leads = next
	s.mu.Unlock()

	s.notify(Change{Kind: EntityLeads, Op: OpReplace})
}

func (s *EntityStore) ReplaceMessages(items []Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := make(map[string]messageRecord, len(items))
	for _, msg := range items {
		if msg.ID == "" {
			continue
		}
		var seq uint64
		if prev, ok := next[msg.ID]; ok {
			seq = prev.seq
		} else if prev, ok := s.messages[msg.ID]; ok {
			seq = prev.seq
		} else {
			seq = s.nextSeqLocked()
		}
		next[msg.ID] = messageRecord{msg: msg, seq: seq}
	}
	s.messages = next
	s.mu.Unlock()

	s.notify(Change{Kind: EntityMessages, Op: OpReplace})
}

func (s *EntityStore) ReplaceStages(items []Stage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := make(map[string]stageRecord, len(items))
	for _, stage := range items {
		if stage.ID == "" {
			continue
		}
		var seq uint64
		if prev, ok := next[stage.ID]; ok {
			seq = prev.seq
		} else if prev, ok := s.stages[stage.ID]; ok {
			seq = prev.seq
		} else {
			seq = s.nextSeqLocked()
		}
		next[stage.ID] = stageRecord{stage: stage, seq: seq}
	}
	s.stages = next
	s.mu.Unlock()

	s.notify(Change{Kind: EntityStages, Op: OpReplace})
}

// PatchLead overlays patch on one lead and returns the value it replaced.
func (s *EntityStore) PatchLead(id string, patch LeadPatch) (Lead, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	rec, ok := s.leads[id]
	if !ok {
		s.mu.Unlock()
		return Lead{}, ErrNotFound
	}
	prev := rec.lead
	rec.lead = patch.Apply(rec.lead)
	s.leads[id] = rec
	s.mu.Unlock()

	s.notify(Change{Kind: EntityLeads, Op: OpPatch, ID: id})
	return prev, nil
}

// CompareAndPatchLead applies patch only if check accepts the current value.
func (s *EntityStore) CompareAndPatchLead(id string, check func(Lead) bool, patch LeadPatch) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	rec, ok := s.leads[id]
	if !ok {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	if check != nil && !check(rec.lead) {
		s.mu.Unlock()
		return false, nil
	}
	rec.lead = patch.Apply(rec.lead)
	s.leads[id] = rec
	s.mu.Unlock()

	s.notify(Change{Kind: EntityLeads, Op: OpPatch, ID: id})
	return true, nil
}

// AppendMessage adds a single message. It reports false when the id is already held.
func (s *EntityStore) AppendMessage(msg Message) bool {
	if msg.ID == "" {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, exists := s.messages[msg.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.messages[msg.ID] = messageRecord{msg: msg, seq: s.nextSeqLocked()}
	s.mu.Unlock()

	s.notify(Change{Kind: EntityMessages, Op: OpAppend, ID: msg.ID})
	return true
}

// Leads returns leads by createdAt descending, then delivery order.
func (s *EntityStore) Leads() []Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leadsLocked()
}

func (s *EntityStore) leadsLocked() []Lead {
	recs := make([]leadRecord, 0, len(s.leads))
	for _, rec := range s.leads {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.lead.CreatedAt.Equal(b.lead.CreatedAt) {
			return a.lead.CreatedAt.After(b.lead.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]Lead, len(recs))
	for i, rec := range recs {
		out[i] = rec.lead
	}
	return out
}

// Messages returns messages by sentAt ascending, then delivery order.
func (s *EntityStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked("")
}

// MessagesForLead returns one lead's messages in conversation order.
func (s *EntityStore) MessagesForLead(leadID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked(leadID)
}

func (s *EntityStore) messagesLocked(leadID string) []Message {
	recs := make([]messageRecord, 0, len(s.messages))
	for _, rec := range s.messages {
		if leadID != "" && rec.msg.LeadID != leadID {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.msg.SentAt.Equal(b.msg.SentAt) {
			return a.msg.SentAt.Before(b.msg.SentAt)
		}
		return a.seq < b.seq
	})
	out := make([]Message, len(recs))
	for i, rec := range recs {
		out[i] = rec.msg
	}
	return out
}

// Stages returns stages by sortOrder ascending.
func (s *EntityStore) Stages() []Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stagesLocked()
}

func (s *EntityStore) stagesLocked() []Stage {
	recs := make([]stageRecord, 0, len(s.stages))
	for _, rec := range s.stages {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.stage.SortOrder != b.stage.SortOrder {
			return a.stage.SortOrder < b.stage.SortOrder
		}
		return a.seq < b.seq
	})
	out := make([]Stage, len(recs))
	for i, rec := range recs {
		out[i] = rec.stage
	}
	return out
}

func (s *EntityStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Leads:    s.leadsLocked(),
		Messages: s.messagesLocked(""),
		Stages:   s.stagesLocked(),
	}
}

func (s *EntityStore) Lead(id string) (Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.leads[id]
	return rec.lead, ok
}

func (s *EntityStore) Stage(id string) (Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stages[id]
	return rec.stage, ok
}

// StageName resolves a stage id, falling back to UnknownLabel.
func (s *EntityStore) StageName(id string) string {
	if stage, ok := s.Stage(id); ok && stage.Name != "" {
		return stage.Name
	}
	return UnknownLabel
}

func (s *EntityStore) Counts() map[EntityKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[EntityKind]int{
		EntityLeads:    len(s.leads),
		EntityMessages: len(s.messages),
		EntityStages:   len(s.stages),
	}
}
