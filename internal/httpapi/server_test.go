package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/leadsync/internal/datasource"
	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/agentworkforce/leadsync/internal/metrics"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newTestEngine(t *testing.T) *leadsync.Engine {
	t.Helper()
	engine, _ := newTestEngineWithSource(t)
	return engine
}

func newTestEngineWithSource(t *testing.T) (*leadsync.Engine, *datasource.MemorySource) {
	t.Helper()
	source := datasource.NewMemorySource()
	source.Seed(datasource.DemoDocument(time.Now()))
	engine, err := leadsync.NewEngine(leadsync.EngineOptions{
		Source:            source,
		TerminalStageID:   datasource.DemoTerminalStageID,
		FreshnessInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(engine.Close)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine failed: %v", err)
	}
	return engine, source
}

func newTestServer(t *testing.T) (*Server, *leadsync.Engine) {
	t.Helper()
	engine := newTestEngine(t)
	return NewServer(engine, ServerConfig{}), engine
}

func TestHealthEchoesCorrelationID(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/health",
		headers: map[string]string{"X-Correlation-Id": "corr_1"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("X-Correlation-Id"); got != "corr_1" {
		t.Fatalf("expected echoed correlation id, got %q", got)
	}
	var body struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
		Healthy   bool   `json:"healthy"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "ok" || !body.Connected || !body.Healthy {
		t.Fatalf("unexpected health body %+v", body)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Header().Get("X-Correlation-Id") == "" {
		t.Fatalf("expected generated correlation id")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/pipelines",
		headers: map[string]string{"X-Correlation-Id": "corr_404"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var apiErr struct {
		Code          string `json:"code"`
		CorrelationID string `json:"correlationId"`
	}
	decodeBody(t, resp, &apiErr)
	if apiErr.Code != "not_found" || apiErr.CorrelationID != "corr_404" {
		t.Fatalf("unexpected error body %+v", apiErr)
	}

	resp = doRequest(t, server, request{method: http.MethodDelete, path: "/v1/leads"})
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

type leadList struct {
	Leads   []leadDetail `json:"leads"`
	Sources []string     `json:"sources"`
}

func TestListLeadsFiltersAndSorts(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var all leadList
	decodeBody(t, resp, &all)
	if len(all.Leads) != 6 {
		t.Fatalf("expected 6 leads, got %d", len(all.Leads))
	}
	if all.Leads[0].ID != "demo-1" {
		t.Fatalf("expected newest lead first, got %s", all.Leads[0].ID)
	}
	if strings.Join(all.Sources, ",") != "facebook,google,referral,website" {
		t.Fatalf("unexpected sources %v", all.Sources)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads?stage=1&order=asc"})
	var newLeads leadList
	decodeBody(t, resp, &newLeads)
	if len(newLeads.Leads) != 2 || newLeads.Leads[0].ID != "demo-2" {
		t.Fatalf("unexpected stage filter result %+v", newLeads.Leads)
	}
	if newLeads.Leads[0].StageName != "New" {
		t.Fatalf("expected stage name New, got %q", newLeads.Leads[0].StageName)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads?sort=name&order=asc"})
	var byName leadList
	decodeBody(t, resp, &byName)
	if byName.Leads[0].Name != "Aisha Khan" {
		t.Fatalf("expected Aisha Khan first, got %s", byName.Leads[0].Name)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads?search=MARIA"})
	var searched leadList
	decodeBody(t, resp, &searched)
	if len(searched.Leads) != 1 || searched.Leads[0].ID != "demo-1" {
		t.Fatalf("unexpected search result %+v", searched.Leads)
	}

	for _, path := range []string{
		"/v1/leads?sort=priority",
		"/v1/leads?order=sideways",
		"/v1/leads?from=2026-03-05&to=2026-03-01",
		"/v1/leads?from=yesterday",
	} {
		resp := doRequest(t, server, request{method: http.MethodGet, path: path})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, resp.Code)
		}
	}
}

func TestGetLead(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads/demo-4"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var lead leadDetail
	decodeBody(t, resp, &lead)
	if lead.Name != "Tom Becker" || lead.StageName != "Qualified" {
		t.Fatalf("unexpected lead %+v", lead)
	}
	if lead.Freshness != leadsync.FreshnessResponded {
		t.Fatalf("expected responded lead, got %s", lead.Freshness)
	}
	if lead.ResponseBadge == "" {
		t.Fatalf("expected a response badge")
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads/missing"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestMoveStage(t *testing.T) {
	server, engine := newTestServer(t)

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/demo-1/stage",
		body:   map[string]any{"stageId": "2"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var moved leadDetail
	decodeBody(t, resp, &moved)
	if moved.StageID != "2" || moved.StageName != "Contacted" {
		t.Fatalf("unexpected moved lead %+v", moved)
	}
	if lead, _ := engine.Store.Lead("demo-1"); lead.StageID != "2" {
		t.Fatalf("expected store to hold the new stage, got %s", lead.StageID)
	}

	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/demo-1/stage",
		body:   map[string]any{"stageId": "3", "force": true},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown property, got %d", resp.Code)
	}
	var apiErr struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &apiErr)
	if apiErr.Code != "invalid_body" {
		t.Fatalf("expected invalid_body, got %s", apiErr.Code)
	}

	resp = doRawRequest(t, server, rawRequest{method: http.MethodPost, path: "/v1/leads/demo-1/stage"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.Code)
	}

	resp = doRawRequest(t, server, rawRequest{
		method: http.MethodPost,
		path:   "/v1/leads/demo-1/stage",
		body:   []byte(`{"stageId":`),
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken json, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/missing/stage",
		body:   map[string]any{"stageId": "2"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendMessageAndNotices(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/demo-3/messages",
		body:   map[string]any{"channel": "sms", "content": "See you Thursday"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var result leadsync.DispatchResult
	decodeBody(t, resp, &result)
	if !result.Success || !result.Simulated || !strings.HasPrefix(result.ExecutionID, "mock-execution-") {
		t.Fatalf("expected simulated success, got %+v", result)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/notices"})
	var list struct {
		Notices []leadsync.Notice `json:"notices"`
	}
	decodeBody(t, resp, &list)
	var noticeID string
	for _, n := range list.Notices {
		if n.Message == "Message sent successfully" {
			noticeID = n.ID
		}
	}
	if noticeID == "" {
		t.Fatalf("expected success notice, got %+v", list.Notices)
	}

	resp = doRequest(t, server, request{method: http.MethodDelete, path: "/v1/notices/" + noticeID})
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	resp = doRequest(t, server, request{method: http.MethodDelete, path: "/v1/notices/" + noticeID})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second dismiss, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/demo-3/messages",
		body:   map[string]any{"channel": "fax", "content": "hello"},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown channel, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/missing/follow-up",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for follow-up on unknown lead, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{method: http.MethodPost, path: "/v1/leads/demo-3/follow-up"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for follow-up, got %d (%s)", resp.Code, resp.Body.String())
	}
	decodeBody(t, resp, &result)
	if result.Event != leadsync.EventFollowUpRequested || !result.Success {
		t.Fatalf("unexpected follow-up result %+v", result)
	}
}

func TestMessagesAndConversations(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads/demo-4/messages"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var thread struct {
		LeadID   string             `json:"leadId"`
		Messages []leadsync.Message `json:"messages"`
	}
	decodeBody(t, resp, &thread)
	if thread.LeadID != "demo-4" || len(thread.Messages) != 2 {
		t.Fatalf("unexpected thread %+v", thread)
	}
	if thread.Messages[0].ID != "demo-m1" {
		t.Fatalf("expected oldest message first, got %s", thread.Messages[0].ID)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/leads/missing/messages"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/conversations"})
	var convs struct {
		Conversations []leadsync.ConversationSummary `json:"conversations"`
		Unread        int                            `json:"unread"`
	}
	decodeBody(t, resp, &convs)
	if len(convs.Conversations) != 3 || convs.Unread != 2 {
		t.Fatalf("expected 3 conversations with 2 unread, got %d/%d", len(convs.Conversations), convs.Unread)
	}
	if convs.Conversations[0].Lead.ID != "demo-6" {
		t.Fatalf("expected most recent conversation first, got %s", convs.Conversations[0].Lead.ID)
	}
}

func TestStagesAndBoard(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/stages"})
	var stages struct {
		Stages []leadsync.Stage `json:"stages"`
	}
	decodeBody(t, resp, &stages)
	if len(stages.Stages) != 4 || stages.Stages[0].Name != "New" {
		t.Fatalf("unexpected stages %+v", stages.Stages)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/board"})
	var board struct {
		Columns []leadsync.BoardColumn `json:"columns"`
	}
	decodeBody(t, resp, &board)
	if len(board.Columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(board.Columns))
	}
	if board.Columns[0].StageName != "New" || len(board.Columns[0].Leads) != 2 {
		t.Fatalf("unexpected first column %+v", board.Columns[0])
	}
	if len(board.Columns[2].Leads) != 2 {
		t.Fatalf("expected 2 qualified leads, got %d", len(board.Columns[2].Leads))
	}
}

func TestMetricsAndFreshness(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/metrics"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var all leadsync.MetricsSnapshot
	decodeBody(t, resp, &all)
	if all.TotalLeads != 6 {
		t.Fatalf("expected 6 leads, got %d", all.TotalLeads)
	}
	if all.LeadsByStage["1"] != 2 {
		t.Fatalf("expected 2 leads in stage 1, got %v", all.LeadsByStage)
	}

	from := url.QueryEscape(time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/metrics?from=" + from})
	var recent leadsync.MetricsSnapshot
	decodeBody(t, resp, &recent)
	if recent.TotalLeads != 3 {
		t.Fatalf("expected 3 leads in the last hour, got %d", recent.TotalLeads)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/metrics?to=soon"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/freshness"})
	var report leadsync.FreshnessReport
	decodeBody(t, resp, &report)
	if len(report.Leads) != 3 || report.At.IsZero() {
		t.Fatalf("unexpected freshness report %+v", report)
	}
	if report.Counts[leadsync.FreshnessResponded] != 3 {
		t.Fatalf("expected 3 responded leads counted, got %v", report.Counts)
	}
}

func TestAppStateSelectionAndSidebar(t *testing.T) {
	server, _ := newTestServer(t)

	put := func(body string) *httptest.ResponseRecorder {
		return doRawRequest(t, server, rawRequest{method: http.MethodPut, path: "/v1/app-state", body: []byte(body)})
	}

	resp := put(`{"selectedLeadId":"demo-2","sidebarOpen":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var view leadsync.AppStateView
	decodeBody(t, resp, &view)
	if view.SelectedLeadID != "demo-2" || view.SelectedLead == nil || !view.SidebarOpen {
		t.Fatalf("unexpected state %+v", view)
	}

	resp = put(`{"sidebarOpen":false}`)
	view = leadsync.AppStateView{}
	decodeBody(t, resp, &view)
	if view.SelectedLeadID != "demo-2" || view.SidebarOpen {
		t.Fatalf("expected selection kept and sidebar closed, got %+v", view)
	}

	resp = put(`{"selectedLeadId":null}`)
	view = leadsync.AppStateView{}
	decodeBody(t, resp, &view)
	if view.SelectedLeadID != "" || view.SelectedLead != nil {
		t.Fatalf("expected selection cleared, got %+v", view)
	}

	if resp := put(`{"selectedLeadId":"missing"}`); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lead, got %d", resp.Code)
	}
	if resp := put(`{"theme":"dark"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown property, got %d", resp.Code)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/v1/app-state"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestSyncStatusAndRefresh(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/v1/sync/status"})
	var status leadsync.SyncStatus
	decodeBody(t, resp, &status)
	if !status.Connected {
		t.Fatalf("expected connected listener")
	}
	if status.Collections[leadsync.EntityLeads].Records != 6 {
		t.Fatalf("expected 6 lead records, got %+v", status.Collections[leadsync.EntityLeads])
	}

	resp = doRequest(t, server, request{method: http.MethodPost, path: "/v1/sync/refresh"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", resp.Code, resp.Body.String())
	}
	resp = doRequest(t, server, request{method: http.MethodPost, path: "/v1/sync/refresh?kind=messages"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for single kind, got %d", resp.Code)
	}
	resp = doRequest(t, server, request{method: http.MethodPost, path: "/v1/sync/refresh?kind=invoices"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", resp.Code)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	engine := newTestEngine(t)
	server := NewServer(engine, ServerConfig{MaxBodyBytes: 32})

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/leads/demo-1/messages",
		body:   map[string]any{"content": strings.Repeat("x", 64)},
	})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}

func TestDashboardAndPrometheus(t *testing.T) {
	engine := newTestEngine(t)
	server := NewServer(engine, ServerConfig{Metrics: metrics.New()})

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/"})
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "LeadSync") {
		t.Fatalf("expected dashboard page, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}

	resp = doRequest(t, server, request{method: http.MethodGet, path: "/metrics"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.Code)
	}

	bare := NewServer(engine, ServerConfig{})
	resp = doRequest(t, bare, request{method: http.MethodGet, path: "/metrics"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", resp.Code)
	}
}

func TestStreamPushesSnapshotThenChanges(t *testing.T) {
	server, engine := newTestServer(t)
	ts := httptest.NewServer(server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/stream", nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first streamFrame
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot == nil || len(first.Snapshot.Leads) != 6 {
		t.Fatalf("unexpected first frame %+v", first)
	}
	if first.Metrics == nil || first.Metrics.TotalLeads != 6 {
		t.Fatalf("expected metrics in snapshot frame")
	}

	if _, err := engine.Mutator.MoveLeadStage("demo-2", "3"); err != nil {
		t.Fatalf("move stage: %v", err)
	}
	for {
		var frame streamFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("expected store frame for demo-2: %v", err)
		}
		if frame.Type != string(leadsync.UpdateStore) || frame.Change == nil || frame.Change.ID != "demo-2" {
			continue
		}
		if frame.Snapshot == nil {
			t.Fatalf("expected snapshot with store frame")
		}
		for _, lead := range frame.Snapshot.Leads {
			if lead.ID == "demo-2" && lead.StageID != "3" {
				t.Fatalf("expected patched stage in snapshot, got %s", lead.StageID)
			}
		}
		return
	}
}

func TestStreamFollowsConversation(t *testing.T) {
	engine, source := newTestEngineWithSource(t)
	ts := httptest.NewServer(NewServer(engine, ServerConfig{}))
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, resp, err := websocket.Dial(ctx, base+"?leadId=nope", nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lead, got %v", err)
	}

	conn, _, err := websocket.Dial(ctx, base+"?leadId=demo-4", nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var frame streamFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil || frame.Type != "snapshot" {
		t.Fatalf("expected snapshot frame first, got %q %v", frame.Type, err)
	}
	frame = streamFrame{}
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read conversation: %v", err)
	}
	if frame.Type != "conversation" || frame.LeadID != "demo-4" || len(frame.Messages) != 2 {
		t.Fatalf("unexpected conversation frame %+v", frame)
	}

	if _, err := source.InsertMessage(ctx, leadsync.Message{
		ID:        "live-1",
		LeadID:    "demo-4",
		Direction: leadsync.DirectionInbound,
		Channel:   "sms",
		Content:   "Thursday works",
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	for {
		frame = streamFrame{}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("expected conversation frame with new message: %v", err)
		}
		if frame.Type != "conversation" || len(frame.Messages) != 3 {
			continue
		}
		if last := frame.Messages[2]; last.ID != "live-1" {
			t.Fatalf("expected live-1 last, got %s", last.ID)
		}
		return
	}
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response (%d): %v", rec.Code, err)
	}
}
