package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/gorilla/mux"
)

type leadDetail struct {
	leadsync.Lead
	StageName       string                   `json:"stageName"`
	Freshness       leadsync.FreshnessStatus `json:"freshness"`
	TimeAgo         string                   `json:"timeAgo"`
	ResponseBadge   leadsync.ResponseBadge   `json:"responseBadge,omitempty"`
	RecentlyCreated bool                     `json:"recentlyCreated"`
}

func (s *Server) describeLead(lead leadsync.Lead, now time.Time) leadDetail {
	return leadDetail{
		Lead:            lead,
		StageName:       s.engine.Store.StageName(lead.StageID),
		Freshness:       leadsync.ClassifyLead(lead, now),
		TimeAgo:         leadsync.TimeAgo(lead.CreatedAt, now),
		ResponseBadge:   leadsync.ResponseTimeBadge(lead.ResponseTimeSeconds),
		RecentlyCreated: leadsync.RecentlyCreated(lead.CreatedAt, now),
	}
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortKey, err := leadsync.ParseSortKey(q.Get("sort"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	created, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	order := strings.ToLower(strings.TrimSpace(q.Get("order")))
	if order != "" && order != "asc" && order != "desc" {
		writeError(w, http.StatusBadRequest, "bad_request", "order must be asc or desc", getCorrelationID(r))
		return
	}
	leads := s.engine.FilterLeads(leadsync.LeadQuery{
		Search:  q.Get("search"),
		StageID: q.Get("stage"),
		Source:  q.Get("source"),
		Created: created,
		SortBy:  sortKey,
		Desc:    order != "asc",
	})
	now := s.now()
	out := make([]leadDetail, 0, len(leads))
	for _, lead := range leads {
		out = append(out, s.describeLead(lead, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leads":   out,
		"sources": leadsync.UniqueSources(s.engine.Store.Leads()),
	})
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	lead, ok := s.engine.Store.Lead(mux.Vars(r)["id"])
	if !ok {
		writeEngineError(w, r, leadsync.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.describeLead(lead, s.now()))
}

func (s *Server) handleMoveStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StageID string `json:"stageId"`
	}
	if !s.decodeJSONBody(w, r, schemaMoveStage, &body) {
		return
	}
	lead, err := s.engine.Mutator.MoveLeadStage(mux.Vars(r)["id"], body.StageID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describeLead(lead, s.now()))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.engine.Store.Lead(id); !ok {
		writeEngineError(w, r, leadsync.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leadId":   id,
		"messages": s.engine.Store.MessagesForLead(id),
	})
}

// handleSendMessage answers 200 even when the workflow fails; the result and
// its notice carry the outcome.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel string `json:"channel"`
		Content string `json:"content"`
	}
	if !s.decodeJSONBody(w, r, schemaSendMessage, &body) {
		return
	}
	result, err := s.engine.Mutator.SendMessage(r.Context(), mux.Vars(r)["id"], body.Channel, body.Content)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Mutator.TriggerFollowUp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stages": s.engine.Store.Stages()})
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"columns": s.engine.Board()})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations := s.engine.Conversations()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"unread":        leadsync.UnreadCount(conversations),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	created, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Rollup.ForRange(created))
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Freshness.Last()
	if report.At.IsZero() {
		report = s.engine.Freshness.Tick()
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notices": s.engine.Notices.Active()})
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Notices.Dismiss(mux.Vars(r)["id"]) {
		writeEngineError(w, r, leadsync.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAppState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State.View())
}

func (s *Server) handlePutAppState(w http.ResponseWriter, r *http.Request) {
	// A present-but-null selectedLeadId clears the selection; an absent one leaves it.
	var body struct {
		SelectedLeadID optionalString `json:"selectedLeadId"`
		SidebarOpen    *bool          `json:"sidebarOpen"`
	}
	if !s.decodeJSONBody(w, r, schemaAppState, &body) {
		return
	}
	if body.SelectedLeadID.set {
		if err := s.engine.State.SelectLead(body.SelectedLeadID.value); err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	if body.SidebarOpen != nil {
		s.engine.State.SetSidebarOpen(*body.SidebarOpen)
	}
	writeJSON(w, http.StatusOK, s.engine.State.View())
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Listener.Status())
}

func (s *Server) handleSyncRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RefreshTimeout)
	defer cancel()
	var err error
	if kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind != "" {
		err = s.engine.Listener.Refresh(ctx, leadsync.EntityKind(kind))
	} else {
		err = s.engine.Listener.RefreshAll(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("correlation_id", getCorrelationID(r)).Msg("manual refresh failed")
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Listener.Status())
}

// optionalString distinguishes an explicit JSON null from an absent field.
type optionalString struct {
	set   bool
	value string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.set = true
	if string(data) == "null" {
		o.value = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.value = strings.TrimSpace(v)
	return nil
}

// parseDateRange accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare "to"
// date covers the whole day.
func parseDateRange(from, to string) (leadsync.DateRange, error) {
	var out leadsync.DateRange
	if from = strings.TrimSpace(from); from != "" {
		ts, _, err := parseDateParam(from)
		if err != nil {
			return out, err
		}
		out.From = &ts
	}
	if to = strings.TrimSpace(to); to != "" {
		ts, dateOnly, err := parseDateParam(to)
		if err != nil {
			return out, err
		}
		if dateOnly {
			ts = ts.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		out.To = &ts
	}
	if out.From != nil && out.To != nil && out.To.Before(*out.From) {
		return out, fmt.Errorf("%w: to is before from", leadsync.ErrInvalidInput)
	}
	return out, nil
}

func parseDateParam(raw string) (time.Time, bool, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, false, nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, true, nil
	}
	return time.Time{}, false, fmt.Errorf("%w: invalid date %q", leadsync.ErrInvalidInput, raw)
}
