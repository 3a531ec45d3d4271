package leadsync

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrClosed         = errors.New("closed")
)

// UnknownLabel is shown for a missing source or an unresolvable stage.
const UnknownLabel = "Unknown"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Lead struct {
	ID                  string     `json:"id" db:"id"`
	ClientID            string     `json:"clientId,omitempty" db:"client_id"`
	Name                string     `json:"name" db:"name"`
	Phone               *string    `json:"phone,omitempty" db:"phone"`
	Email               *string    `json:"email,omitempty" db:"email"`
	Source              string     `json:"source" db:"source"`
	StageID             string     `json:"stageId" db:"stage_id"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	LastContactAt       *time.Time `json:"lastContactAt,omitempty" db:"last_contact"`
	ResponseTimeSeconds *int64     `json:"responseTimeSeconds,omitempty" db:"response_time_seconds"`
	Notes               *string    `json:"notes,omitempty" db:"notes"`
}

type Message struct {
	ID        string    `json:"id" db:"id"`
	LeadID    string    `json:"leadId" db:"lead_id"`
	Direction Direction `json:"direction" db:"direction"`
	Channel   string    `json:"channel" db:"channel"`
	Content   string    `json:"content" db:"content"`
	SentAt    time.Time `json:"sentAt" db:"sent_at"`
	Status    string    `json:"status" db:"status"`
}

type Stage struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	SortOrder int    `json:"sortOrder" db:"sort_order"`
}

// LeadPatch is a partial lead update. Nil fields are left untouched.
type LeadPatch struct {
	StageID             *string    `json:"stageId,omitempty"`
	LastContactAt       *time.Time `json:"lastContactAt,omitempty"`
	ResponseTimeSeconds *int64     `json:"responseTimeSeconds,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
}

func (p LeadPatch) IsEmpty() bool {
	return p.StageID == nil && p.LastContactAt == nil && p.ResponseTimeSeconds == nil && p.Notes == nil
}

// Apply returns lead with the patch fields overlaid.
func (p LeadPatch) Apply(lead Lead) Lead {
	if p.StageID != nil {
		lead.StageID = *p.StageID
	}
	if p.LastContactAt != nil {
		ts := *p.LastContactAt
		lead.LastContactAt = &ts
	}
	if p.ResponseTimeSeconds != nil {
		v := *p.ResponseTimeSeconds
		lead.ResponseTimeSeconds = &v
	}
	if p.Notes != nil {
		v := *p.Notes
		lead.Notes = &v
	}
	return lead
}

type EntityKind string

const (
	EntityLeads    EntityKind = "leads"
	EntityMessages EntityKind = "messages"
	EntityStages   EntityKind = "lead_stages"
)

// AllEntityKinds lists the collections in refresh order.
var AllEntityKinds = []EntityKind{EntityStages, EntityLeads, EntityMessages}

func (k EntityKind) Valid() bool {
	switch k {
	case EntityLeads, EntityMessages, EntityStages:
		return true
	}
	return false
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent is a change notification. It names the affected row but does not carry its new value.
type ChangeEvent struct {
	EventKind  EventKind  `json:"eventKind"`
	EntityKind EntityKind `json:"entityKind"`
	AffectedID string     `json:"affectedId"`
	LeadID     string     `json:"leadId,omitempty"`
}

type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Query selects rows by equality filters with an explicit order.
type Query struct {
	Filters []Filter
	Order   Order
	Limit   int
}

func (q Query) Where(field, value string) Query {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return out
}

func (q Query) Lookup(field string) (string, bool) {
	for _, f := range q.Filters {
		if f.Field == field {
			return f.Value, true
		}
	}
	return "", false
}

// DataSource is the durable store the engine mirrors.
type DataSource interface {
	SelectLeads(ctx context.Context, q Query) ([]Lead, error)
	SelectMessages(ctx context.Context, q Query) ([]Message, error)
	SelectStages(ctx context.Context, q Query) ([]Stage, error)
	InsertLead(ctx context.Context, lead Lead) (Lead, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	UpdateLead(ctx context.Context, id string, patch LeadPatch) error
}

type SubscribeRequest struct {
	Kinds  []EntityKind
	Filter *Filter
}

// ChangeFeed delivers change notifications. Delivery is at-least-once and unordered across kinds.
type ChangeFeed interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
}

// Subscription is a live feed. A closed Events channel means the feed dropped.
type Subscription interface {
	Events() <-chan ChangeEvent
	Reconnected() <-chan struct{}
	Close() error
}

// WantsKind reports whether the request covers kind. An empty request covers every kind.
func (r SubscribeRequest) WantsKind(kind EntityKind) bool {
	if len(r.Kinds) == 0 {
		return true
	}
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Matches applies the optional row filter to an event.
func (r SubscribeRequest) Matches(event ChangeEvent) bool {
	if !r.WantsKind(event.EntityKind) {
		return false
	}
	if r.Filter == nil {
		return true
	}
	switch r.Filter.Field {
	case "lead_id":
		return event.LeadID == r.Filter.Value
	case "id":
		return event.AffectedID == r.Filter.Value
	}
	return true
}

// Standard collection queries, ordered the way consumers read them.
func LeadsQuery(clientID string) Query {
	q := Query{Order: Order{Field: "created_at", Desc: true}}
	if clientID != "" {
		q = q.Where("client_id", clientID)
	}
	return q
}

func MessagesQuery() Query {
	return Query{Order: Order{Field: "sent_at"}}
}

func LeadMessagesQuery(leadID string) Query {
	return MessagesQuery().Where("lead_id", leadID)
}

func StagesQuery() Query {
	return Query{Order: Order{Field: "sort_order"}}
}
