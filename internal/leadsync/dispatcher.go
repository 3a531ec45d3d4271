package leadsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/rs/zerolog"
)

type DomainEvent string

const (
	EventStageChanged      DomainEvent = "stage_changed"
	EventMessageSent       DomainEvent = "message_sent"
	EventFollowUpRequested DomainEvent = "follow_up_requested"
)

// DefaultWorkflows maps domain events to automation workflow ids.
func DefaultWorkflows() map[DomainEvent]string {
	return map[DomainEvent]string{
		EventStageChanged:      "update-stage-workflow",
		EventMessageSent:       "send-message-workflow",
		EventFollowUpRequested: "trigger-followup-sequence",
	}
}

// TriggerResult is what an automation collaborator reports for one trigger.
type TriggerResult struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AutomationClient starts workflows in an external automation engine.
type AutomationClient interface {
	// Configured reports whether real connection parameters are present.
	Configured() bool
	Trigger(ctx context.Context, workflowID string, payload map[string]any) (TriggerResult, error)
}

// DispatchResult is the outcome of one side effect. It is never a core error.
type DispatchResult struct {
	Event       DomainEvent `json:"event"`
	WorkflowID  string      `json:"workflowId"`
	Success     bool        `json:"success"`
	ExecutionID string      `json:"executionId,omitempty"`
	Error       string      `json:"error,omitempty"`
	Simulated   bool        `json:"simulated,omitempty"`
}

type DispatcherOptions struct {
	Workflows map[DomainEvent]string
	Notices   *NoticeBoard
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
}

// SideEffectDispatcher sends best-effort notifications to the automation collaborator.
type SideEffectDispatcher struct {
	client    AutomationClient
	workflows map[DomainEvent]string
	notices   *NoticeBoard
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSideEffectDispatcher(client AutomationClient, opts DispatcherOptions) *SideEffectDispatcher {
	workflows := DefaultWorkflows()
	for event, id := range opts.Workflows {
		if id != "" {
			workflows[event] = id
		}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "dispatcher").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SideEffectDispatcher{
		client:    client,
		workflows: workflows,
		notices:   opts.Notices,
		log:       log,
		metrics:   opts.Metrics,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (d *SideEffectDispatcher) WorkflowID(event DomainEvent) string {
	return d.workflows[event]
}

// Configured reports whether dispatches reach a real collaborator.
func (d *SideEffectDispatcher) Configured() bool {
	return d.client != nil && d.client.Configured()
}

// Dispatch triggers the workflow bound to event and waits for the outcome.
// An unconfigured collaborator yields a simulated success with no network call.
func (d *SideEffectDispatcher) Dispatch(ctx context.Context, event DomainEvent, payload map[string]any) (result DispatchResult) {
	workflowID := d.workflows[event]
	result = DispatchResult{Event: event, WorkflowID: workflowID}
	if workflowID == "" {
		result.Error = fmt.Sprintf("no workflow bound to %s", event)
		d.log.Warn().Str("event", string(event)).Msg("dispatch skipped")
		return result
	}
	if !d.Configured() {
		result.Success = true
		result.Simulated = true
		result.ExecutionID = "mock-execution-" + strconv.FormatInt(d.now().UnixMilli(), 10)
		d.log.Debug().Str("workflow", workflowID).Interface("payload", payload).Msg("automation not configured, simulating success")
		d.metrics.RecordDispatch(workflowID, "simulated", 0)
		return result
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("automation client panic: %v", r)
		}
		status := "success"
		if !result.Success {
			status = "error"
			d.log.Warn().Str("workflow", workflowID).Str("err", result.Error).Msg("automation dispatch failed")
		}
		d.metrics.RecordDispatch(workflowID, status, time.Since(start))
	}()

	out, err := d.client.Trigger(ctx, workflowID, payload)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = out.Success
	result.ExecutionID = out.ExecutionID
	result.Error = out.Error
	if !out.Success && result.Error == "" {
		result.Error = "workflow trigger reported failure"
	}
	return result
}

// Fire dispatches in the background. A failure becomes an error notice; done,
// when set, receives the result.
func (d *SideEffectDispatcher) Fire(event DomainEvent, payload map[string]any, done func(DispatchResult)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := d.Dispatch(d.ctx, event, payload)
		if !result.Success && d.notices != nil {
			d.notices.Post(NoticeError, fmt.Sprintf("Automation %s failed: %s", result.WorkflowID, result.Error))
		}
		if done != nil {
			done(result)
		}
	}()
}

// Wait blocks until every fired dispatch has finished.
func (d *SideEffectDispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight dispatches and waits for them.
func (d *SideEffectDispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
