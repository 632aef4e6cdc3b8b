package gateway

import (
	"strings"
	"testing"

	"github.com/zhouzirui/voicelink/backend/internal/service/dialog"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"nil payload", nil, ""},
		{"content field", map[string]any{"content": "你好"}, "你好"},
		{"text field", map[string]any{"text": "hello"}, "hello"},
		{"content wins over text", map[string]any{"content": "a", "text": "b"}, "a"},
		{"whitespace only", map[string]any{"content": "   "}, ""},
		{"trims whitespace", map[string]any{"content": "  好的  "}, "好的"},
		{"non-string ignored", map[string]any{"content": 42, "result": "fallback"}, "fallback"},
		{"no text keys", map[string]any{"audio": "xxxx"}, ""},
	}

	for _, tc := range cases {
		if got := extractText(tc.payload); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestRoleForEvent(t *testing.T) {
	cases := []struct {
		name    string
		event   dialog.EventType
		payload map[string]any
		want    string
	}{
		{"chat response", dialog.EventChatResponse, nil, "assistant"},
		{"chat ended", dialog.EventChatEnded, nil, "assistant"},
		{"tts sentence", dialog.EventTTSSentenceStart, nil, "assistant"},
		{"asr response", dialog.EventASRResponse, nil, "user"},
		{"asr ended", dialog.EventASREnded, nil, "user"},
		{"asr info", dialog.EventASRInfo, nil, "system"},
		{"unknown high event", dialog.EventType(460), nil, "system"},
		{"tts_type hint", dialog.EventType(0), map[string]any{"tts_type": "chat_tts_text"}, "assistant"},
		{"from user", dialog.EventType(0), map[string]any{"from": "user"}, "user"},
		{"role system", dialog.EventType(0), map[string]any{"role": "system"}, "system"},
		{"default assistant", dialog.EventType(0), map[string]any{"content": "x"}, "assistant"},
	}

	for _, tc := range cases {
		if got := roleForEvent(tc.event, tc.payload); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestMapUpstreamError(t *testing.T) {
	if got := mapUpstreamError(0, "session number limit exceeded for app"); !strings.Contains(got, "并发会话") {
		t.Fatalf("quota message not mapped: %q", got)
	}
	if got := mapUpstreamError(0, "DialogAudioIdleTimeoutError: no audio"); !strings.Contains(got, "语音") {
		t.Fatalf("idle timeout not mapped: %q", got)
	}
	if got := mapUpstreamError(0, "AudioASRIdleTimeoutError"); !strings.Contains(got, "语音") {
		t.Fatalf("asr idle timeout not mapped: %q", got)
	}
	if got := mapUpstreamError(55000001, "internal failure"); !strings.Contains(got, "55000001") || !strings.Contains(got, "internal failure") {
		t.Fatalf("coded error not annotated: %q", got)
	}
	if got := mapUpstreamError(0, "plain message"); got != "plain message" {
		t.Fatalf("plain message rewritten: %q", got)
	}
}
