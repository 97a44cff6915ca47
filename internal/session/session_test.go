package session

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AbdulShahzeb/CAAL/internal/llm"
)

func TestToolDataCacheFIFO(t *testing.T) {
	cache := NewToolDataCache(3)

	for i := 1; i <= 4; i++ {
		cache.Add(fmt.Sprintf("tool_%d", i), i)
	}

	entries := cache.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, want := range []string{"tool_2", "tool_3", "tool_4"} {
		if entries[i].ToolName != want {
			t.Errorf("entry %d = %s, want %s", i, entries[i].ToolName, want)
		}
	}
}

func TestToolDataCacheContextMessage(t *testing.T) {
	cache := NewToolDataCache(3)

	if got := cache.ContextMessage(); got != "" {
		t.Errorf("empty cache context = %q, want empty", got)
	}

	cache.Add("flight_tracker", map[string]any{"flight": "BA123", "status": "on time"})
	cache.Add("web_search", "top result: sunny")

	msg := cache.ContextMessage()
	for _, name := range []string{"flight_tracker", "web_search"} {
		if n := strings.Count(msg, name); n != 1 {
			t.Errorf("context contains %q %d times, want 1", name, n)
		}
	}
	if !strings.Contains(msg, "BA123") {
		t.Errorf("context missing structured data: %q", msg)
	}
}

func TestToolDataCacheSnapshotIsolated(t *testing.T) {
	cache := NewToolDataCache(3)
	cache.Add("a", 1)

	snap := cache.Snapshot()
	cache.Add("b", 2)

	if len(snap) != 1 {
		t.Errorf("snapshot mutated: len = %d, want 1", len(snap))
	}
}

func TestSessionTrimsOldestMessages(t *testing.T) {
	s := New("test", 2, 3)

	for i := 1; i <= 3; i++ {
		s.Append(llm.Message{Role: "user", Content: fmt.Sprintf("u%d", i)})
		s.Append(llm.Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)})
	}

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	want := []string{"u2", "a2", "u3", "a3"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestSessionClear(t *testing.T) {
	s := New("test", 5, 3)
	s.Append(llm.Message{Role: "user", Content: "hi"})
	s.ToolCache.Add("web_search", "result")

	s.Clear()

	if n := s.MessageCount(); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
	if n := s.ToolCache.Len(); n != 0 {
		t.Errorf("cache entries = %d, want 0", n)
	}
}

func TestSessionExpiry(t *testing.T) {
	s := New("test", 5, 3)
	now := time.Now()

	if s.ExpiredAt(now, DefaultTTL) {
		t.Error("fresh session reported expired")
	}
	if !s.ExpiredAt(now.Add(DefaultTTL+time.Second), DefaultTTL) {
		t.Error("idle session not reported expired")
	}
	if s.ExpiredAt(now.Add(DefaultTTL), DefaultTTL) {
		t.Error("expiry must be strictly greater than TTL")
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultTTL, 20, 3, nil)

	a := r.GetOrCreate("abc")
	b := r.GetOrCreate("abc")
	if a != b {
		t.Error("GetOrCreate returned a new session for an existing id")
	}

	generated := r.GetOrCreate("")
	if generated.ID == "" {
		t.Fatal("generated session has empty id")
	}
	if len(generated.ID) != 8 {
		t.Errorf("generated id %q has length %d, want 8", generated.ID, len(generated.ID))
	}
	if generated == a {
		t.Error("generated session collided with existing one")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry(DefaultTTL, 20, 3, nil)
	r.GetOrCreate("abc")

	if r.Delete("missing") {
		t.Error("Delete of unknown id returned true")
	}
	if r.Len() != 1 {
		t.Errorf("registry size changed on failed delete: %d", r.Len())
	}

	if !r.Delete("abc") {
		t.Error("Delete of existing id returned false")
	}
	for _, info := range r.List() {
		if info.ID == "abc" {
			t.Error("deleted session still listed")
		}
	}
}

func TestRegistryListExcludesExpired(t *testing.T) {
	// TTL so small the session expires without any sweep running.
	r := NewRegistry(time.Nanosecond, 20, 3, nil)
	r.GetOrCreate("old")
	time.Sleep(time.Millisecond)

	if got := r.List(); len(got) != 0 {
		t.Errorf("List returned %d sessions, want 0 (expired)", len(got))
	}
	// Still physically present until a sweep runs.
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(time.Nanosecond, 20, 3, nil)
	r.GetOrCreate("old")
	time.Sleep(time.Millisecond)

	r.sweep()

	if r.Len() != 0 {
		t.Errorf("Len after sweep = %d, want 0", r.Len())
	}
}

func TestRegistryStopAwaitsSweep(t *testing.T) {
	r := NewRegistry(DefaultTTL, 20, 3, nil)
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	// Second Stop is a no-op.
	r.Stop()
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(DefaultTTL, 20, 3, nil)
	r.GetOrCreate("a")
	r.GetOrCreate("b")

	if n := r.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len after clear = %d", r.Len())
	}
}
