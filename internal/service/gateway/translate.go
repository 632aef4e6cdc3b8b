package gateway

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/voicelink/backend/internal/service/dialog"
)

// textKeys 按优先级列出上游载荷里可能承载增量文本的字段
var textKeys = []string{"content", "text", "sentence", "result", "display_text", "answer", "output_text"}

// extractText 从上游对象载荷中提取非空文本，取不到时返回空串。
func extractText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	for _, key := range textKeys {
		if text, ok := payload[key].(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// roleForEvent 推断一条上游文本的说话角色。
// 对话与TTS下行事件归助手，ASR结果归用户，其余450以上的事件归系统；
// 事件码不在枚举内时回退到载荷字段。
func roleForEvent(event dialog.EventType, payload map[string]any) string {
	switch event {
	case dialog.EventChatResponse, dialog.EventChatEnded,
		dialog.EventTTSSentenceStart, dialog.EventTTSSentenceEnd,
		dialog.EventTTSResponse, dialog.EventTTSEnded:
		return "assistant"
	case dialog.EventASRResponse, dialog.EventASREnded:
		return "user"
	}
	if event >= 450 {
		return "system"
	}

	if payload != nil {
		if _, ok := payload["tts_type"]; ok {
			return "assistant"
		}
		for _, key := range []string{"from", "role"} {
			switch value, _ := payload[key].(string); value {
			case "user":
				return "user"
			case "system":
				return "system"
			}
		}
	}
	return "assistant"
}

// mapUpstreamError 把上游错误串翻译成面向用户的提示。
func mapUpstreamError(code uint32, message string) string {
	switch {
	case strings.Contains(message, "session number limit exceeded"):
		return "当前并发会话已达上限，请稍后重试"
	case strings.Contains(message, "DialogAudioIdleTimeoutError"),
		strings.Contains(message, "AudioASRIdleTimeoutError"):
		return "长时间没有检测到语音，请按住按钮重新说话"
	case code != 0:
		return fmt.Sprintf("上游服务错误 (code=%d): %s", code, message)
	default:
		return message
	}
}
