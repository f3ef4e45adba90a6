package memory

import "sync"

// Roles for a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultCap is how many turns the bridge keeps as context.
const DefaultCap = 10

// Turn is one side of one exchange.
type Turn struct {
	Role string
	Text string
}

// Conversation is a bounded, ordered history of turns. It is safe for
// concurrent use; overlapping exchanges may interleave their appends.
type Conversation struct {
	mu    sync.Mutex
	cap   int
	turns []Turn
}

// NewConversation returns an empty history holding at most capTurns turns.
// A non-positive cap falls back to DefaultCap.
func NewConversation(capTurns int) *Conversation {
	if capTurns <= 0 {
		capTurns = DefaultCap
	}
	return &Conversation{cap: capTurns}
}

// Append pushes a turn at the tail, dropping the oldest turns once the cap
// is exceeded.
func (c *Conversation) Append(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Text: text})
	if n := len(c.turns); n > c.cap {
		c.turns = append(c.turns[:0:0], c.turns[n-c.cap:]...)
	}
}

// Snapshot returns a copy of the current turns, oldest first.
func (c *Conversation) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Reset clears the history.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

// Len reports the current number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}
