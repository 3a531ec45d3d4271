package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/agentworkforce/leadsync/internal/config"
	"github.com/rs/zerolog"
)

func TestRunStopsOnCancel(t *testing.T) {
	log := zerolog.Nop()
	cfg := config.Loader{Getenv: func(name string) string {
		switch name {
		case "LEADSYNC_ADDR":
			return "127.0.0.1:0"
		case "LEADSYNC_SEED_DEMO":
			return "true"
		}
		return ""
	}}.Load()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfg, nil, &log); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestRunFailsOnBadSource(t *testing.T) {
	log := zerolog.Nop()
	cfg := config.Config{Addr: "127.0.0.1:0", SourceDSN: "mongodb://db"}
	if err := run(context.Background(), cfg, nil, &log); err == nil {
		t.Fatalf("expected error for unsupported source")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	log := zerolog.Nop()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, handler, &log) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
