package journal

// DefaultHistoryTurns is how many completed turns feed the derived history.
const DefaultHistoryTurns = 12

// ConversationMessage is one derived history entry for the legacy
// single-turn pipeline.
type ConversationMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// RecentTurns derives assistant context from the last limit turn_completed
// events: a user/assistant text pair per turn, empty texts dropped.
func (s *Store) RecentTurns(sessionID string, limit int) []ConversationMessage {
	if limit <= 0 {
		limit = DefaultHistoryTurns
	}

	events, err := s.Events(sessionID)
	if err != nil {
		return []ConversationMessage{}
	}

	turns := make([]Event, 0, limit)
	for _, event := range events {
		if event.Type == EventTurnCompleted {
			turns = append(turns, event)
		}
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	messages := make([]ConversationMessage, 0, len(turns)*2)
	for _, turn := range turns {
		if text := payloadString(turn.Payload, "userText"); text != "" {
			messages = append(messages, ConversationMessage{Role: "user", Text: text})
		}
		if text := payloadString(turn.Payload, "assistantText"); text != "" {
			messages = append(messages, ConversationMessage{Role: "assistant", Text: text})
		}
	}
	return messages
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	text, _ := payload[key].(string)
	return text
}
