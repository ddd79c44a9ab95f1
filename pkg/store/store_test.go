package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lenslabs/go-lens/pkg/transcript"
)

func record(content string, startedAt time.Time) ConversationRecord {
	return ConversationRecord{
		ID: uuid.New(),
		Turns: []transcript.Turn{
			{ID: uuid.New(), Role: "user", Content: content, CreatedAt: startedAt},
		},
		Model:     "test-model",
		Language:  "en-US",
		StartedAt: startedAt,
		EndedAt:   startedAt.Add(time.Minute),
	}
}

func TestMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		if err := s.Save(ctx, record(content, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Turns[0].Content != "third" || got[1].Turns[0].Content != "second" {
		t.Errorf("expected newest first, got %q then %q",
			got[0].Turns[0].Content, got[1].Turns[0].Content)
	}
}

func TestMemoryStoreRecentDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty store, got %d records", len(got))
	}

	if err := s.Save(ctx, record("only", time.Now())); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err = s.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit above size must clamp, got %d", len(got))
	}
}
