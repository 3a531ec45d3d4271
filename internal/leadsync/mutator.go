package leadsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

type MutatorOptions struct {
	// RevertOnWriteFailure restores the previous stage when the durable write
	// fails, unless a newer local change has landed since.
	RevertOnWriteFailure bool
	Notices              *NoticeBoard
	Logger               *zerolog.Logger
	Metrics              *metrics.Metrics
}

// WriteOutcome reports how the durable write behind an optimistic patch ended.
type WriteOutcome struct {
	LeadID   string `json:"leadId"`
	StageID  string `json:"stageId"`
	Err      error  `json:"-"`
	Reverted bool   `json:"reverted"`
}

// OptimisticMutator applies user changes locally first and persists them in the background.
type OptimisticMutator struct {
	store      *EntityStore
	source     DataSource
	dispatcher *SideEffectDispatcher
	notices    *NoticeBoard
	revert     bool
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	onOutcome func(WriteOutcome)

	genMu       sync.Mutex // guards generations; taken before the store lock
	generations map[string]uint64
}

func NewOptimisticMutator(store *EntityStore, source DataSource, dispatcher *SideEffectDispatcher, opts MutatorOptions) *OptimisticMutator {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "mutator").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OptimisticMutator{
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		notices:    opts.Notices,
		revert:     opts.RevertOnWriteFailure,
		log:        log,
		metrics:    opts.Metrics,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,

		generations: map[string]uint64{},
	}
}

// OnWriteOutcome registers a callback for finished durable writes.
func (m *OptimisticMutator) OnWriteOutcome(fn func(WriteOutcome)) {
	m.mu.Lock()
	m.onOutcome = fn
	m.mu.Unlock()
}

// MoveLeadStage patches the lead's stage locally and returns the patched lead.
// The durable write and the stage-changed dispatch then run independently in
// the background; neither can undo the local patch except through the revert policy.
func (m *OptimisticMutator) MoveLeadStage(leadID, newStageID string) (Lead, error) {
	leadID = strings.TrimSpace(leadID)
	newStageID = strings.TrimSpace(newStageID)
	if leadID == "" || newStageID == "" {
		return Lead{}, ErrInvalidInput
	}
	patch := LeadPatch{StageID: &newStageID}
	m.genMu.Lock()
	prev, err := m.store.PatchLead(leadID, patch)
	if err != nil {
		m.genMu.Unlock()
		return Lead{}, err
	}
	m.generations[leadID]++
	gen := m.generations[leadID]
	m.genMu.Unlock()
	updated := patch.Apply(prev)

	if m.source != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.persistStage(prev, newStageID, gen)
		}()
	}
	if m.dispatcher != nil {
		m.dispatcher.Fire(EventStageChanged, map[string]any{
			"leadId":     leadID,
			"newStageId": newStageID,
			"timestamp":  m.now().UTC().Format(time.RFC3339Nano),
		}, nil)
	}
	return updated, nil
}

// persistStage writes one stage patch. gen is the lead's patch generation at
// the time of the patch; a revert only applies while it is still current.
func (m *OptimisticMutator) persistStage(prev Lead, newStageID string, gen uint64) {
	err := m.source.UpdateLead(m.ctx, prev.ID, LeadPatch{StageID: &newStageID})
	outcome := WriteOutcome{LeadID: prev.ID, StageID: newStageID, Err: err}
	if err == nil {
		m.metrics.RecordOptimisticWrite("success")
		m.emit(outcome)
		return
	}

	m.log.Error().
		Err(err).
		Str("lead_id", prev.ID).
		Str("stage_id", newStageID).
		Bool("revert", m.revert).
		Msg("durable stage write failed")

	if !m.revert {
		m.metrics.RecordOptimisticWrite("failed_kept")
		m.emit(outcome)
		return
	}

	oldStage := prev.StageID
	m.genMu.Lock()
	reverted, revertErr := m.store.CompareAndPatchLead(prev.ID, func(current Lead) bool {
		return m.generations[prev.ID] == gen && current.StageID == newStageID
	}, LeadPatch{StageID: &oldStage})
	m.genMu.Unlock()
	if revertErr != nil {
		m.log.Warn().Err(revertErr).Str("lead_id", prev.ID).Msg("revert skipped")
	}
	outcome.Reverted = reverted
	if reverted {
		m.metrics.RecordOptimisticWrite("failed_reverted")
		if m.notices != nil {
			m.notices.Post(NoticeError, fmt.Sprintf("Could not save stage change for %s", displayName(prev)))
		}
	} else {
		m.metrics.RecordOptimisticWrite("failed_superseded")
	}
	m.emit(outcome)
}

func (m *OptimisticMutator) emit(outcome WriteOutcome) {
	m.mu.Lock()
	fn := m.onOutcome
	m.mu.Unlock()
	if fn != nil {
		fn(outcome)
	}
}

// SendMessage asks the automation collaborator to deliver a message to a lead.
// The outcome is reported as a notice; local state is not changed.
func (m *OptimisticMutator) SendMessage(ctx context.Context, leadID, channel, content string) (DispatchResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return DispatchResult{}, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if _, ok := m.store.Lead(leadID); !ok {
		return DispatchResult{}, ErrNotFound
	}
	if channel == "" {
		channel = "email"
	}
	result := m.dispatch(ctx, EventMessageSent, map[string]any{
		"leadId":    leadID,
		"channel":   channel,
		"content":   content,
		"timestamp": m.now().UTC().Format(time.RFC3339Nano),
	})
	m.report(result, "Message sent successfully", "Failed to send message")
	return result, nil
}

// TriggerFollowUp starts the follow-up sequence for a lead.
func (m *OptimisticMutator) TriggerFollowUp(ctx context.Context, leadID string) (DispatchResult, error) {
	if _, ok := m.store.Lead(leadID); !ok {
		return DispatchResult{}, ErrNotFound
	}
	result := m.dispatch(ctx, EventFollowUpRequested, map[string]any{
		"leadId": leadID,
		"action": "start_sequence",
	})
	m.report(result, "Follow-up sequence started", "Failed to start follow-up sequence")
	return result, nil
}

func (m *OptimisticMutator) dispatch(ctx context.Context, event DomainEvent, payload map[string]any) DispatchResult {
	if m.dispatcher == nil {
		return DispatchResult{Event: event, Success: true, Simulated: true}
	}
	return m.dispatcher.Dispatch(ctx, event, payload)
}

func (m *OptimisticMutator) report(result DispatchResult, success, failure string) {
	if m.notices == nil {
		return
	}
	if result.Success {
		m.notices.Post(NoticeSuccess, success)
		return
	}
	m.notices.Post(NoticeError, failure)
}

// Wait blocks until pending durable writes finish.
func (m *OptimisticMutator) Wait() {
	m.wg.Wait()
}

// Close cancels pending durable writes and waits for them.
func (m *OptimisticMutator) Close() {
	m.cancel()
	m.wg.Wait()
}

func displayName(lead Lead) string {
	if strings.TrimSpace(lead.Name) != "" {
		return lead.Name
	}
	return lead.ID
}
