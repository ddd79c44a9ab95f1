package web

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lenslabs/go-lens/pkg/credentials"
	"github.com/lenslabs/go-lens/pkg/session"
	"github.com/lenslabs/go-lens/pkg/store"
	"github.com/lenslabs/go-lens/pkg/transcript"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	memStore := store.NewMemoryStore()
	cfg := session.DefaultConfig()
	cfg.Credentials = credentials.Static("")
	orch := session.NewOrchestrator(cfg)

	s := NewServer(Config{
		Port:         "0",
		Orchestrator: orch,
		Store:        memStore,
	})
	return s, memStore
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.Active || snap.Connected {
		t.Errorf("idle orchestrator must report inactive: %+v", snap)
	}
}

func TestHandleConversation(t *testing.T) {
	s, memStore := newTestServer(t)

	rec := store.ConversationRecord{
		ID: uuid.New(),
		Turns: []transcript.Turn{
			{ID: uuid.New(), Role: "user", Content: "hello", CreatedAt: time.Now()},
		},
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	if err := memStore.Save(t.Context(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/conversation?limit=5", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var records []store.ConversationRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(records) != 1 || records[0].Turns[0].Content != "hello" {
		t.Errorf("unexpected history: %+v", records)
	}
}

func TestHandleSessionStartPreconditionFailure(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/session/start", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 412 {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("missing credential must map to 412, got %d: %s", resp.StatusCode, body)
	}
}

func TestHandleSessionStopAlwaysSucceeds(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/session/stop", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("stop on idle session must be a no-op 200, got %d", resp.StatusCode)
	}
}

func TestHandleSessionCancelWithoutSession(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/session/cancel", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 409 {
		t.Errorf("cancel without a session must map to 409, got %d", resp.StatusCode)
	}
}
