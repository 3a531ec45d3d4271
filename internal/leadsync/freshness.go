package leadsync

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type FreshnessStatus string

const (
	FreshnessResponded FreshnessStatus = "responded"
	FreshnessFresh     FreshnessStatus = "fresh"
	FreshnessWarning   FreshnessStatus = "warning"
	FreshnessCritical  FreshnessStatus = "critical"
)

const (
	freshWindow   = 5 * time.Minute
	warningWindow = 30 * time.Minute
)

// Classify derives a lead's freshness from its timestamps. The result depends on now
// and is never stored.
func Classify(createdAt time.Time, lastContactAt *time.Time, now time.Time) FreshnessStatus {
	if lastContactAt != nil {
		return FreshnessResponded
	}
	age := now.Sub(createdAt)
	switch {
	case age < freshWindow:
		return FreshnessFresh
	case age < warningWindow:
		return FreshnessWarning
	default:
		return FreshnessCritical
	}
}

func ClassifyLead(lead Lead, now time.Time) FreshnessStatus {
	return Classify(lead.CreatedAt, lead.LastContactAt, now)
}

// RecentlyCreated reports whether a lead is inside the fresh window.
func RecentlyCreated(createdAt, now time.Time) bool {
	return now.Sub(createdAt) < freshWindow
}

// FormatDuration renders d as "1h 5m", "3m 20s" or "42s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total / 60) % 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// TimeAgo renders the coarse elapsed label used on lead cards.
func TimeAgo(ts, now time.Time) string {
	minutes := int64(now.Sub(ts) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	switch {
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%dh ago", minutes/60)
	default:
		return fmt.Sprintf("%dd ago", minutes/1440)
	}
}

type ResponseBadge string

const (
	BadgeNone     ResponseBadge = ""
	BadgeFast     ResponseBadge = "fast"
	BadgeModerate ResponseBadge = "moderate"
	BadgeSlow     ResponseBadge = "slow"
)

// ResponseTimeBadge buckets a recorded first response time.
func ResponseTimeBadge(seconds *int64) ResponseBadge {
	if seconds == nil {
		return BadgeNone
	}
	switch {
	case *seconds < 60:
		return BadgeFast
	case *seconds < 300:
		return BadgeModerate
	default:
		return BadgeSlow
	}
}

// FreshnessView is the display state of one lead at a given instant.
type FreshnessView struct {
	LeadID  string          `json:"leadId"`
	Status  FreshnessStatus `json:"status"`
	Elapsed string          `json:"elapsed"`
	TimeAgo string          `json:"timeAgo"`
}

// FreshnessReport is one recompute pass.
type FreshnessReport struct {
	At     time.Time               `json:"at"`
	Leads  []FreshnessView         `json:"leads"`
	Counts map[FreshnessStatus]int `json:"counts"`
}

// BuildFreshnessReport re-derives display state from stored timestamps. Counts
// cover every lead; Leads holds only those still waiting on a first contact.
func BuildFreshnessReport(leads []Lead, now time.Time) FreshnessReport {
	report := FreshnessReport{
		At:    now,
		Leads: make([]FreshnessView, 0, len(leads)),
		Counts: map[FreshnessStatus]int{
			FreshnessResponded: 0,
			FreshnessFresh:     0,
			FreshnessWarning:   0,
			FreshnessCritical:  0,
		},
	}
	for _, lead := range leads {
		status := ClassifyLead(lead, now)
		report.Counts[status]++
		if status == FreshnessResponded {
			continue
		}
		report.Leads = append(report.Leads, FreshnessView{
			LeadID:  lead.ID,
			Status:  status,
			Elapsed: FormatDuration(now.Sub(lead.CreatedAt)),
			TimeAgo: TimeAgo(lead.CreatedAt, now),
		})
	}
	return report
}

// FreshnessTicker recomputes freshness on a fixed interval and hands each report to a sink.
type FreshnessTicker struct {
	store    *EntityStore
	interval time.Duration
	now      func() time.Time
	sink     func(FreshnessReport)

	mu   sync.RWMutex
	last FreshnessReport
}

func NewFreshnessTicker(store *EntityStore, interval time.Duration, sink func(FreshnessReport)) *FreshnessTicker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &FreshnessTicker{
		store:    store,
		interval: interval,
		now:      time.Now,
		sink:     sink,
	}
}

// Tick runs one recompute immediately.
func (t *FreshnessTicker) Tick() FreshnessReport {
	report := BuildFreshnessReport(t.store.Leads(), t.now())
	t.mu.Lock()
	t.last = report
	t.mu.Unlock()
	if t.sink != nil {
		t.sink(report)
	}
	return report
}

func (t *FreshnessTicker) Last() FreshnessReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Run ticks until ctx is done.
func (t *FreshnessTicker) Run(ctx context.Context) {
	t.Tick()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}
