package leadsync

import (
	"math"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/metrics"
)

// MetricsSnapshot is a rollup over the current lead set.
type MetricsSnapshot struct {
	TotalLeads             int            `json:"totalLeads"`
	LeadsBySource          map[string]int `json:"leadsBySource"`
	LeadsByStage           map[string]int `json:"leadsByStage"`
	AvgResponseTimeSeconds int64          `json:"avgResponseTimeSeconds"`
	ConversionRatePercent  int            `json:"conversionRatePercent"`
}

// DateRange bounds lead creation time. Nil ends are open.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

func (r DateRange) Contains(ts time.Time) bool {
	if r.From != nil && ts.Before(*r.From) {
		return false
	}
	if r.To != nil && ts.After(*r.To) {
		return false
	}
	return true
}

func (r DateRange) IsZero() bool {
	return r.From == nil && r.To == nil
}

// ComputeMetrics recomputes the rollup from scratch.
//
// The conversion rate is 0 when there are no leads or when terminalStageID is
// not one of stages.
func ComputeMetrics(leads []Lead, stages []Stage, terminalStageID string) MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalLeads:    len(leads),
		LeadsBySource: map[string]int{},
		LeadsByStage:  map[string]int{},
	}

	var responseSum float64
	responseCount := 0
	converted := 0
	for _, lead := range leads {
		source := lead.Source
		if source == "" {
			source = UnknownLabel
		}
		snap.LeadsBySource[source]++

		stageID := lead.StageID
		if stageID == "" {
			stageID = UnknownLabel
		}
		snap.LeadsByStage[stageID]++

		if lead.ResponseTimeSeconds != nil {
			responseSum += float64(*lead.ResponseTimeSeconds)
			responseCount++
		}
		if terminalStageID != "" && lead.StageID == terminalStageID {
			converted++
		}
	}

	if responseCount > 0 {
		snap.AvgResponseTimeSeconds = int64(math.Floor(responseSum / float64(responseCount)))
	}
	if snap.TotalLeads > 0 && stageDefined(stages, terminalStageID) {
		snap.ConversionRatePercent = int(math.Floor(100 * float64(converted) / float64(snap.TotalLeads)))
	}
	return snap
}

func stageDefined(stages []Stage, id string) bool {
	if id == "" {
		return false
	}
	for _, stage := range stages {
		if stage.ID == id {
			return true
		}
	}
	return false
}

// FilterByCreated keeps leads created within r.
func FilterByCreated(leads []Lead, r DateRange) []Lead {
	if r.IsZero() {
		return leads
	}
	out := make([]Lead, 0, len(leads))
	for _, lead := range leads {
		if r.Contains(lead.CreatedAt) {
			out = append(out, lead)
		}
	}
	return out
}

// MetricsAggregator keeps the last computed snapshot and recomputes it whenever
// leads or stages change.
type MetricsAggregator struct {
	store           *EntityStore
	terminalStageID string
	instruments     *metrics.Metrics

	mu   sync.RWMutex
	last MetricsSnapshot

	stop func()
}

func NewMetricsAggregator(store *EntityStore, terminalStageID string, instruments *metrics.Metrics) *MetricsAggregator {
	a := &MetricsAggregator{
		store:           store,
		terminalStageID: terminalStageID,
		instruments:     instruments,
	}
	a.Recompute()
	a.stop = store.Observe(func(change Change) {
		if change.Kind == EntityLeads || change.Kind == EntityStages {
			a.Recompute()
		}
	})
	return a
}

func (a *MetricsAggregator) Recompute() MetricsSnapshot {
	snap := a.store.Snapshot()
	result := ComputeMetrics(snap.Leads, snap.Stages, a.terminalStageID)
	a.mu.Lock()
	a.last = result
	a.mu.Unlock()
	a.instruments.SetRollup(result.ConversionRatePercent, result.AvgResponseTimeSeconds)
	return result
}

func (a *MetricsAggregator) Snapshot() MetricsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// ForRange computes an uncached rollup over leads created within r.
func (a *MetricsAggregator) ForRange(r DateRange) MetricsSnapshot {
	if r.IsZero() {
		return a.Snapshot()
	}
	snap := a.store.Snapshot()
	return ComputeMetrics(FilterByCreated(snap.Leads, r), snap.Stages, a.terminalStageID)
}

func (a *MetricsAggregator) TerminalStageID() string {
	return a.terminalStageID
}

func (a *MetricsAggregator) Close() {
	if a.stop != nil {
		a.stop()
	}
}
