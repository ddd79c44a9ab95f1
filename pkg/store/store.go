// Package store persists finished conversations. Sessions that produced
// no turns are never written.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenslabs/go-lens/pkg/transcript"
)

// ConversationRecord is one finished session's transcript.
type ConversationRecord struct {
	ID        uuid.UUID         `json:"id"`
	Turns     []transcript.Turn `json:"turns"`
	Model     string            `json:"model,omitempty"`
	Language  string            `json:"language,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
}

// Store persists conversation records.
type Store interface {
	// Save writes one finished conversation.
	Save(ctx context.Context, rec ConversationRecord) error

	// Recent returns up to limit conversations, newest first.
	Recent(ctx context.Context, limit int) ([]ConversationRecord, error)

	// Close releases the backing resources.
	Close() error
}

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []ConversationRecord
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, rec ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	n := len(s.records)
	if limit > n {
		limit = n
	}
	out := make([]ConversationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
