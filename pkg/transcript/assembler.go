// Package transcript assembles streamed transcript deltas into finalized
// conversation turns. Backends disagree on delta semantics: some stream
// cumulative snapshots ("Hello", "Hello wor", "Hello world"), others
// stream incremental suffixes ("Hello", " wor", "ld"). The assembler
// normalizes both into the same finalized text.
package transcript

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Policy selects how deltas are folded into the live buffer.
type Policy int

const (
	// PolicyAuto detects the delta style per message: a delta that has
	// the current buffer as a prefix is a cumulative snapshot and
	// replaces it, anything else is appended.
	PolicyAuto Policy = iota

	// PolicyCumulative treats every delta as a full snapshot.
	PolicyCumulative

	// PolicyIncremental treats every delta as an appended suffix.
	PolicyIncremental
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case PolicyAuto:
		return "auto"
	case PolicyCumulative:
		return "cumulative"
	case PolicyIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Turn is one finalized utterance in the conversation.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Assembler folds per-role transcript deltas into turns. Safe for
// concurrent use; deltas for one role must arrive in order (the protocol
// read loop delivers them that way).
type Assembler struct {
	mu      sync.Mutex
	policy  Policy
	logger  *slog.Logger
	partial map[string]string
	turns   []Turn

	cbMu   sync.RWMutex
	onTurn func(Turn)
}

// NewAssembler creates an assembler with the given delta policy.
func NewAssembler(policy Policy, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		policy:  policy,
		logger:  logger.With("component", "transcript.assembler"),
		partial: make(map[string]string),
	}
}

// OnTurn sets the callback invoked for every finalized turn.
func (a *Assembler) OnTurn(fn func(Turn)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onTurn = fn
}

// ApplyDelta folds one delta into the live buffer for the role.
func (a *Assembler) ApplyDelta(role, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.partial[role]
	switch a.policy {
	case PolicyCumulative:
		a.partial[role] = text
	case PolicyIncremental:
		a.partial[role] = current + text
	default:
		if current != "" && strings.HasPrefix(text, current) {
			a.partial[role] = text
		} else {
			a.partial[role] = current + text
		}
	}
}

// Finalize closes out the live buffer for the role as one turn. The
// backend's final text wins over the assembled buffer when provided.
// Idempotent: an empty-after-trim result, or a repeat of the role's last
// finalized turn with no new partial text, produces nothing.
func (a *Assembler) Finalize(role, text string) {
	a.mu.Lock()

	content := text
	if content == "" {
		content = a.partial[role]
	}
	hadPartial := a.partial[role] != ""
	delete(a.partial, role)

	content = strings.TrimSpace(content)
	if content == "" {
		a.mu.Unlock()
		return
	}
	if !hadPartial {
		if last := a.lastTurnLocked(role); last != nil && last.Content == content {
			a.logger.Debug("dropping duplicate finalization", "role", role)
			a.mu.Unlock()
			return
		}
	}

	turn := Turn{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	a.turns = append(a.turns, turn)
	a.mu.Unlock()

	a.logger.Debug("turn finalized", "role", role, "chars", len(content))

	a.cbMu.RLock()
	fn := a.onTurn
	a.cbMu.RUnlock()
	if fn != nil {
		fn(turn)
	}
}

func (a *Assembler) lastTurnLocked(role string) *Turn {
	for i := len(a.turns) - 1; i >= 0; i-- {
		if a.turns[i].Role == role {
			return &a.turns[i]
		}
	}
	return nil
}

// Partial returns the live, not yet finalized text for the role.
func (a *Assembler) Partial(role string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial[role]
}

// Turns returns a copy of all finalized turns in completion order.
func (a *Assembler) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Len returns the number of finalized turns.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}

// Reset discards all live buffers and finalized turns.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = make(map[string]string)
	a.turns = nil
}
