package session

import (
	"sync"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/llm"
)

// DefaultTTL is the idle duration after which a session expires.
const DefaultTTL = 30 * time.Minute

// Session is one conversation: a sliding window of messages plus a
// tool data cache. All methods are safe for concurrent use, though in
// practice the turn lock serializes everything but registry sweeps.
type Session struct {
	ID        string
	ToolCache *ToolDataCache

	mu           sync.Mutex
	messages     []llm.Message
	maxTurns     int
	createdAt    time.Time
	lastActivity time.Time
}

// New creates a session. maxTurns bounds the history window to
// maxTurns user+assistant pairs; toolCacheSize bounds the tool data
// cache.
func New(id string, maxTurns, toolCacheSize int) *Session {
	now := time.Now()
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Session{
		ID:           id,
		ToolCache:    NewToolDataCache(toolCacheSize),
		maxTurns:     maxTurns,
		createdAt:    now,
		lastActivity: now,
	}
}

// Append adds a message to the history, trimming the oldest messages
// when the window exceeds 2*maxTurns.
func (s *Session) Append(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	if max := 2 * s.maxTurns; len(s.messages) > max {
		s.messages = s.messages[len(s.messages)-max:]
	}
	s.lastActivity = time.Now()
}

// Messages returns a copy of the current history.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the current history length.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear drops the message history and tool cache, keeping the session alive.
func (s *Session) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.lastActivity = time.Now()
	s.mu.Unlock()
	s.ToolCache.Clear()
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns the most recent activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ExpiredAt reports whether the session has been idle past ttl as of now.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > ttl
}

// Info is a read-only metadata snapshot used by session listings.
type Info struct {
	ID           string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Info returns a metadata snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		MessageCount: len(s.messages),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}
