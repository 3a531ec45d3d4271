package datasource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/google/uuid"
)

// Document is the full data set held by the memory and file sources.
type Document struct {
	Leads    []leadsync.Lead    `json:"leads"`
	Messages []leadsync.Message `json:"messages"`
	Stages   []leadsync.Stage   `json:"stages"`
}

// MemorySource is an in-process data collaborator with its own change feed.
type MemorySource struct {
	mu  sync.RWMutex
	doc Document
	now func() time.Time
	hub *hub
}

func NewMemorySource() *MemorySource {
	return &MemorySource{now: time.Now, hub: newHub()}
}

// Seed replaces the whole data set and announces every collection as updated.
func (s *MemorySource) Seed(doc Document) {
	s.mu.Lock()
	s.doc = cloneDocument(doc)
	s.mu.Unlock()
	for _, kind := range leadsync.AllEntityKinds {
		s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventUpdate, EntityKind: kind})
	}
}

func (s *MemorySource) SelectLeads(ctx context.Context, q leadsync.Query) ([]leadsync.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectLeads(s.doc.Leads, q)
}

func (s *MemorySource) SelectMessages(ctx context.Context, q leadsync.Query) ([]leadsync.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectMessages(s.doc.Messages, q)
}

func (s *MemorySource) SelectStages(ctx context.Context, q leadsync.Query) ([]leadsync.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectStages(s.doc.Stages, q)
}

func (s *MemorySource) InsertLead(ctx context.Context, lead leadsync.Lead) (leadsync.Lead, error) {
	if err := ctx.Err(); err != nil {
		return leadsync.Lead{}, err
	}
	s.mu.Lock()
	lead, err := insertLead(&s.doc, lead, s.now())
	s.mu.Unlock()
	if err != nil {
		return leadsync.Lead{}, err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventInsert, EntityKind: leadsync.EntityLeads, AffectedID: lead.ID, LeadID: lead.ID})
	return lead, nil
}

func (s *MemorySource) InsertMessage(ctx context.Context, msg leadsync.Message) (leadsync.Message, error) {
	if err := ctx.Err(); err != nil {
		return leadsync.Message{}, err
	}
	s.mu.Lock()
	msg, err := insertMessage(&s.doc, msg, s.now())
	s.mu.Unlock()
	if err != nil {
		return leadsync.Message{}, err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventInsert, EntityKind: leadsync.EntityMessages, AffectedID: msg.ID, LeadID: msg.LeadID})
	return msg, nil
}

func (s *MemorySource) UpdateLead(ctx context.Context, id string, patch leadsync.LeadPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	err := updateLead(&s.doc, id, patch)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventUpdate, EntityKind: leadsync.EntityLeads, AffectedID: id, LeadID: id})
	return nil
}

// UpsertStage writes a stage and announces it, for stage management done outside the engine.
func (s *MemorySource) UpsertStage(stage leadsync.Stage) {
	s.mu.Lock()
	replaced := false
	for i := range s.doc.Stages {
		if s.doc.Stages[i].ID == stage.ID {
			s.doc.Stages[i] = stage
			replaced = true
		}
	}
	if !replaced {
		s.doc.Stages = append(s.doc.Stages, stage)
	}
	s.mu.Unlock()
	s.hub.publish(leadsync.ChangeEvent{EventKind: leadsync.EventUpdate, EntityKind: leadsync.EntityStages, AffectedID: stage.ID})
}

func (s *MemorySource) Subscribe(ctx context.Context, req leadsync.SubscribeRequest) (leadsync.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.subscribe(req), nil
}

// Close drops every live subscription.
func (s *MemorySource) Close() error {
	s.hub.closeAll()
	return nil
}

func cloneDocument(doc Document) Document {
	return Document{
		Leads:    append([]leadsync.Lead(nil), doc.Leads...),
		Messages: append([]leadsync.Message(nil), doc.Messages...),
		Stages:   append([]leadsync.Stage(nil), doc.Stages...),
	}
}

func insertLead(doc *Document, lead leadsync.Lead, now time.Time) (leadsync.Lead, error) {
	if strings.TrimSpace(lead.Name) == "" {
		return leadsync.Lead{}, fmt.Errorf("%w: lead name is required", leadsync.ErrInvalidInput)
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	for _, existing := range doc.Leads {
		if existing.ID == lead.ID {
			return leadsync.Lead{}, fmt.Errorf("%w: lead %s already exists", leadsync.ErrInvalidInput, lead.ID)
		}
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now.UTC()
	}
	doc.Leads = append(doc.Leads, lead)
	return lead, nil
}

func insertMessage(doc *Document, msg leadsync.Message, now time.Time) (leadsync.Message, error) {
	if strings.TrimSpace(msg.LeadID) == "" {
		return leadsync.Message{}, fmt.Errorf("%w: message lead id is required", leadsync.ErrInvalidInput)
	}
	if msg.Direction != leadsync.DirectionInbound && msg.Direction != leadsync.DirectionOutbound {
		return leadsync.Message{}, fmt.Errorf("%w: direction must be inbound or outbound", leadsync.ErrInvalidInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = now.UTC()
	}
	doc.Messages = append(doc.Messages, msg)
	return msg, nil
}

func updateLead(doc *Document, id string, patch leadsync.LeadPatch) error {
	for i := range doc.Leads {
		if doc.Leads[i].ID == id {
			doc.Leads[i] = patch.Apply(doc.Leads[i])
			return nil
		}
	}
	return leadsync.ErrNotFound
}

func selectLeads(all []leadsync.Lead, q leadsync.Query) ([]leadsync.Lead, error) {
	out := make([]leadsync.Lead, 0, len(all))
	for _, lead := range all {
		ok, err := matchAll(q.Filters, func(field string) (string, bool) {
			switch field {
			case "id":
				return lead.ID, true
			case "client_id":
				return lead.ClientID, true
			case "stage_id":
				return lead.StageID, true
			case "source":
				return lead.Source, true
			}
			return "", false
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, lead)
		}
	}
	var less func(a, b leadsync.Lead) bool
	switch q.Order.Field {
	case "", "created_at":
		less = func(a, b leadsync.Lead) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "name":
		less = func(a, b leadsync.Lead) bool { return a.Name < b.Name }
	default:
		return nil, fmt.Errorf("%w: cannot order leads by %q", leadsync.ErrInvalidInput, q.Order.Field)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Order.Desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return limit(out, q.Limit), nil
}

func selectMessages(all []leadsync.Message, q leadsync.Query) ([]leadsync.Message, error) {
	out := make([]leadsync.Message, 0, len(all))
	for _, msg := range all {
		ok, err := matchAll(q.Filters, func(field string) (string, bool) {
			switch field {
			case "id":
				return msg.ID, true
			case "lead_id":
				return msg.LeadID, true
			case "direction":
				return string(msg.Direction), true
			}
			return "", false
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	switch q.Order.Field {
	case "", "sent_at":
	default:
		return nil, fmt.Errorf("%w: cannot order messages by %q", leadsync.ErrInvalidInput, q.Order.Field)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Order.Desc {
			return out[j].SentAt.Before(out[i].SentAt)
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return limit(out, q.Limit), nil
}

func selectStages(all []leadsync.Stage, q leadsync.Query) ([]leadsync.Stage, error) {
	out := make([]leadsync.Stage, 0, len(all))
	for _, stage := range all {
		ok, err := matchAll(q.Filters, func(field string) (string, bool) {
			switch field {
			case "id":
				return stage.ID, true
			case "sort_order":
				return strconv.Itoa(stage.SortOrder), true
			}
			return "", false
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, stage)
		}
	}
	switch q.Order.Field {
	case "", "sort_order":
	default:
		return nil, fmt.Errorf("%w: cannot order stages by %q", leadsync.ErrInvalidInput, q.Order.Field)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Order.Desc {
			return out[j].SortOrder < out[i].SortOrder
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return limit(out, q.Limit), nil
}

func matchAll(filters []leadsync.Filter, value func(field string) (string, bool)) (bool, error) {
	for _, f := range filters {
		got, known := value(f.Field)
		if !known {
			return false, fmt.Errorf("%w: unknown filter field %q", leadsync.ErrInvalidInput, f.Field)
		}
		if got != f.Value {
			return false, nil
		}
	}
	return true, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
