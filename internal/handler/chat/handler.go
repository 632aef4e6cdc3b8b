package chat

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voicelink/backend/internal/service/assistant"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
	"github.com/zhouzirui/voicelink/backend/pkg/utils"
)

// Handler 单轮文本对话的HTTP处理器
type Handler struct {
	assistantSvc *assistant.Service
	journal      *journal.Store
}

// New 创建聊天处理器
func New(assistantSvc *assistant.Service, journalStore *journal.Store) *Handler {
	return &Handler{
		assistantSvc: assistantSvc,
		journal:      journalStore,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat 单轮补全：取既往轮次做上下文，生成一条回复并落一轮历史。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if h.assistantSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	history := h.journal.RecentTurns(payload.SessionID, journal.DefaultHistoryTurns)

	reply, err := h.assistantSvc.Reply(r.Context(), payload.SessionID, history, payload.Text)
	if err != nil {
		log.Printf("[chat] reply failed for session %s: %v", payload.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "generation failed")
		return
	}

	if err := h.journal.Append(payload.SessionID, journal.EventTurnCompleted, map[string]any{
		"userText":      payload.Text,
		"assistantText": reply,
	}); err != nil {
		log.Printf("[chat] journal turn failed for session %s: %v", payload.SessionID, err)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
