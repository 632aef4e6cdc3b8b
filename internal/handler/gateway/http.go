package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	sessionmodel "github.com/zhouzirui/voicelink/backend/internal/model/session"
	gatewayservice "github.com/zhouzirui/voicelink/backend/internal/service/gateway"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
	"github.com/zhouzirui/voicelink/backend/pkg/utils"
)

// sessionTTL 铸造出的会话在浏览器附着前的有效期
const sessionTTL = 30 * time.Minute

// Handler 会话生命周期与历史查询的HTTP处理器
type Handler struct {
	gatewaySvc *gatewayservice.Service
	journal    *journal.Store
}

// New 创建网关HTTP处理器
func New(gatewaySvc *gatewayservice.Service, journalStore *journal.Store) *Handler {
	return &Handler{
		gatewaySvc: gatewaySvc,
		journal:    journalStore,
	}
}

// RegisterRoutes 注册会话生命周期相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/interrupt", h.handleInterrupt)
	r.Get("/history", h.handleListHistory)
	r.Get("/history/{sessionID}", h.handleSessionHistory)
	r.Get("/health", h.handleHealth)
}

// handleCreateSession 铸造一个新会话并返回WS接入路径
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var cfg sessionmodel.Config
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, sessionmodel.ErrInvalidConfig) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess := h.gatewaySvc.Mint(cfg)
	log.Printf("[gateway] minted session %s", sess.ID)

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"sessionId": sess.ID,
		"wsPath":    "/ws?sessionId=" + url.QueryEscape(sess.ID),
		"expiresAt": time.Now().UTC().Add(sessionTTL).Format(time.RFC3339),
	})
}

// handleInterrupt 带外打断：不经过浏览器socket直接抢断当前回复
func (h *Handler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	interrupted, err := h.gatewaySvc.Interrupt(payload.SessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"interrupted": interrupted,
	})
}

// handleListHistory 列出全部落盘会话的元信息，按更新时间倒序
func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	metas, err := h.journal.ListSessions()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": metas})
}

// handleSessionHistory 返回一个会话的完整事件流
func (h *Handler) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	events, err := h.journal.Events(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		utils.RespondError(w, http.StatusNotFound, "session_not_found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"events":    events,
	})
}

// handleHealth 健康检查
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"now": time.Now().UTC().Format(time.RFC3339),
	})
}
