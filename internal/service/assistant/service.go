package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voicelink/backend/internal/config"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
)

// defaultSystemPrompt 单轮文本管线的缺省人设
const defaultSystemPrompt = "你是一个耐心、友好的语音助手。回答保持口语化、简洁，适合朗读。"

// Service 单轮非流式文本补全管线：实时语音链路之外的后备对话入口。
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService 创建文本补全服务。
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// Reply 基于会话的既往轮次生成一条回复。
func (s *Service) Reply(ctx context.Context, sessionID string, history []journal.ConversationMessage, userText string) (string, error) {
	input := map[string]any{
		"system":  defaultSystemPrompt,
		"history": buildHistoryMessages(history),
		"query":   userText,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	log.Printf("[assistant] generated reply for session=%s, length=%d", sessionID, len(reply))
	return reply, nil
}

func buildHistoryMessages(history []journal.ConversationMessage) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "user":
			messages = append(messages, schema.UserMessage(msg.Text))
		case "assistant":
			messages = append(messages, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return messages
}
