package leadsync

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a transient user-facing message.
type Notice struct {
	ID        string      `json:"id"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// NoticeBoard holds notices until their TTL passes or they are dismissed.
type NoticeBoard struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	notices map[string]Notice
	closed  bool
	timers  map[string]*time.Timer
	onPost  func(Notice)
}

func NewNoticeBoard(ttl time.Duration) *NoticeBoard {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &NoticeBoard{
		ttl:     ttl,
		now:     time.Now,
		notices: map[string]Notice{},
		timers:  map[string]*time.Timer{},
	}
}

// OnPost registers a callback invoked after each new notice.
func (b *NoticeBoard) OnPost(fn func(Notice)) {
	b.mu.Lock()
	b.onPost = fn
	b.mu.Unlock()
}

func (b *NoticeBoard) Post(level NoticeLevel, message string) Notice {
	if level == "" {
		level = NoticeInfo
	}
	now := b.now()
	n := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return n
	}
	b.notices[n.ID] = n
	id := n.ID
	b.timers[id] = time.AfterFunc(b.ttl, func() { b.Dismiss(id) })
	onPost := b.onPost
	b.mu.Unlock()
	if onPost != nil {
		onPost(n)
	}
	return n
}

// Dismiss removes a notice. It reports whether the notice was still active.
func (b *NoticeBoard) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.notices[id]; !ok {
		return false
	}
	delete(b.notices, id)
	if timer, ok := b.timers[id]; ok {
		timer.Stop()
		delete(b.timers, id)
	}
	return true
}

// Active returns unexpired notices, oldest first.
func (b *NoticeBoard) Active() []Notice {
	now := b.now()
	b.mu.Lock()
	out := make([]Notice, 0, len(b.notices))
	for _, n := range b.notices {
		if now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *NoticeBoard) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, timer := range b.timers {
		timer.Stop()
		delete(b.timers, id)
	}
}
