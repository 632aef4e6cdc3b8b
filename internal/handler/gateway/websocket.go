package gateway

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	gatewayservice "github.com/zhouzirui/voicelink/backend/internal/service/gateway"
)

// WebSocketHandler 浏览器语音WebSocket入口
type WebSocketHandler struct {
	gatewaySvc *gatewayservice.Service
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(gatewaySvc *gatewayservice.Service) *WebSocketHandler {
	return &WebSocketHandler{
		gatewaySvc: gatewaySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// handleWebSocket 升级连接并把socket交给会话托管。
// sessionId缺失时仍先升级，再按协议以1008关闭。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}

	if sessionID == "" {
		data := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "sessionId is required")
		if err := conn.WriteMessage(websocket.CloseMessage, data); err != nil {
			log.Printf("[websocket] write close frame: %v", err)
		}
		conn.Close()
		return
	}

	log.Printf("[websocket] new connection for session: %s", sessionID)

	sess := h.gatewaySvc.Resolve(sessionID)
	if err := sess.Attach(r.Context(), conn); err != nil {
		log.Printf("[websocket] attach failed for session %s: %v", sessionID, err)
		return
	}

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error for session %s: %v", sessionID, err)
			}
			sess.DetachBrowser(conn)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		sess.HandleClientMessage(raw)
	}
}
