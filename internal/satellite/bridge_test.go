package satellite

import (
	"context"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/AbdulShahzeb/CAAL/internal/config"
)

func TestTopics(t *testing.T) {
	b := NewBridge(config.MQTTConfig{DeviceName: "kitchen"}, nil, nil)

	if got := b.askTopic(); got != "caal/kitchen/ask" {
		t.Errorf("ask topic = %q", got)
	}
	if got := b.replyTopic(); got != "caal/kitchen/reply" {
		t.Errorf("reply topic = %q", got)
	}
	if got := b.availabilityTopic(); got != "caal/kitchen/availability" {
		t.Errorf("availability topic = %q", got)
	}
}

func TestParseAsk(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    askMessage
	}{
		{
			"json payload",
			`{"text": "turn on the lights", "session_id": "sat1"}`,
			askMessage{Text: "turn on the lights", SessionID: "sat1"},
		},
		{
			"bare text fallback",
			"what time is it",
			askMessage{Text: "what time is it"},
		},
		{
			"custom reply topic",
			`{"text": "hi", "reply_topic": "caal/kitchen/tts"}`,
			askMessage{Text: "hi", ReplyTopic: "caal/kitchen/tts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAsk([]byte(tt.payload)); got != tt.want {
				t.Errorf("parseAsk = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleAskIgnoresEmpty(t *testing.T) {
	called := false
	b := NewBridge(config.MQTTConfig{DeviceName: "caal"},
		func(_ context.Context, _, _ string) (string, string, error) {
			called = true
			return "", "", nil
		}, nil)

	b.handleAsk(context.Background(), &paho.Publish{Topic: "caal/caal/ask", Payload: []byte("")})

	if called {
		t.Error("ask invoked for empty payload")
	}
}
