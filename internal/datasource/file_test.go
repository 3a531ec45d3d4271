package datasource

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
)

func TestFileSourceMissingFileIsEmpty(t *testing.T) {
	source, err := NewFileSource(filepath.Join(t.TempDir(), "leads.json"), Options{})
	if err != nil {
		t.Fatalf("new file source: %v", err)
	}
	leads, err := source.SelectLeads(context.Background(), leadsync.LeadsQuery(""))
	if err != nil {
		t.Fatalf("select leads: %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("expected no leads, got %d", len(leads))
	}
}

func TestFileSourcePersistsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "leads.json")
	source, err := NewFileSource(path, Options{})
	if err != nil {
		t.Fatalf("new file source: %v", err)
	}
	if err := source.Seed(DemoDocument(demoNow)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()
	stage := "4"
	if err := source.UpdateLead(ctx, "demo-2", leadsync.LeadPatch{StageID: &stage}); err != nil {
		t.Fatalf("update lead: %v", err)
	}
	if _, err := source.InsertMessage(ctx, leadsync.Message{LeadID: "demo-2", Direction: leadsync.DirectionOutbound, Content: "Booked!"}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	reopened, err := NewFileSource(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	leads, err := reopened.SelectLeads(ctx, leadsync.Query{}.Where("id", "demo-2"))
	if err != nil {
		t.Fatalf("select lead: %v", err)
	}
	if len(leads) != 1 || leads[0].StageID != "4" {
		t.Fatalf("expected persisted stage 4, got %+v", leads)
	}
	msgs, err := reopened.SelectMessages(ctx, leadsync.LeadMessagesQuery("demo-2"))
	if err != nil {
		t.Fatalf("select messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "Booked!" {
		t.Fatalf("expected persisted message, got %+v", msgs)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, got %v", err)
	}
}

func TestFileSourceWatchesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")
	source, err := NewFileSource(path, Options{})
	if err != nil {
		t.Fatalf("new file source: %v", err)
	}
	defer source.Close()

	sub, err := source.Subscribe(context.Background(), leadsync.SubscribeRequest{Kinds: []leadsync.EntityKind{leadsync.EntityStages}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	doc := Document{Stages: []leadsync.Stage{{ID: "9", Name: "Imported", SortOrder: 9}}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.EntityKind != leadsync.EntityStages {
			t.Fatalf("expected stages event, got %+v", event)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a change event after editing the file")
	}

	stages, err := source.SelectStages(context.Background(), leadsync.StagesQuery())
	if err != nil {
		t.Fatalf("select stages: %v", err)
	}
	if len(stages) != 1 || stages[0].Name != "Imported" {
		t.Fatalf("expected imported stage, got %+v", stages)
	}
}

func TestFileSourceCloseDropsSubscriptions(t *testing.T) {
	source, err := NewFileSource(filepath.Join(t.TempDir(), "leads.json"), Options{})
	if err != nil {
		t.Fatalf("new file source: %v", err)
	}
	sub, err := source.Subscribe(context.Background(), leadsync.SubscribeRequest{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := source.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, "events channel to close", func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	})
}
