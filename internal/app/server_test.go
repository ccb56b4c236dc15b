package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestServerServesAndShutsDown(t *testing.T) {
	cfg := Config{
		Addr:         "127.0.0.1:0",
		DBPath:       filepath.Join(t.TempDir(), "auth.db"),
		RequireToken: true,
		SessionTTL:   time.Hour,
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr := server.Addr()
	if addr == "" {
		t.Fatal("expected a listener address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	resp, err := http.Get("http://" + addr + "/up")
	if err != nil {
		t.Fatalf("GET /up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
