package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	sessionmodel "github.com/zhouzirui/voicelink/backend/internal/model/session"
	"github.com/zhouzirui/voicelink/backend/internal/service/dialog"
)

// 会话状态机
const (
	StateNew          = "new"
	StateConnecting   = "upstream_connecting"
	StateReady        = "ready"
	StateInterrupting = "interrupting"
	StateClosed       = "closed"
)

// 浏览器socket被替换时的关闭码
const closeCodeReplaced = 4001

// BrowserSocket 会话持有的浏览器连接视图，*websocket.Conn天然满足。
type BrowserSocket interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// clientMessage 浏览器到网关的消息模式，type为判别字段
type clientMessage struct {
	Type    string `json:"type"`
	Hello   string `json:"hello,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Content string `json:"content,omitempty"`
}

// Session 把一条浏览器连接与一条上游连接绑定为一次语音会话。
// 所有状态变更都经过s.mu这一条串行化通道；上游帧先进队列，
// 由专属泵协程取锁后翻译，避免读循环与握手等待互相卡死。
type Session struct {
	ID     string
	Config sessionmodel.Config

	svc *Service

	mu       sync.Mutex
	state    string
	browser  BrowserSocket
	upstream UpstreamClient
	closed   bool

	upstreamCh chan *dialog.Message
	done       chan struct{}
}

func newSession(id string, cfg sessionmodel.Config, svc *Service) *Session {
	s := &Session{
		ID:         id,
		Config:     cfg,
		svc:        svc,
		state:      StateNew,
		upstreamCh: make(chan *dialog.Message, 256),
		done:       make(chan struct{}),
	}
	go s.pumpUpstream()
	return s
}

// State 当前状态，仅供注册表巡检与测试观察。
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasBrowser 是否已附着浏览器socket。
func (s *Session) HasBrowser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

// HasUpstream 是否持有上游连接。
func (s *Session) HasUpstream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream != nil
}

// Attach 把一条新的浏览器socket绑定到会话：顶掉旧socket（4001），
// 按需拉起上游连接，成功后向浏览器通告server.ready。
// 上游握手失败时通知浏览器并以1011关闭，会话记录随之移除。
func (s *Session) Attach(ctx context.Context, conn BrowserSocket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		closeSocket(conn, websocket.CloseInternalServerErr)
		return ErrSessionClosed
	}

	if s.browser != nil {
		closeSocket(s.browser, closeCodeReplaced)
	}
	s.browser = conn

	if s.upstream == nil || !s.upstream.Started() {
		s.state = StateConnecting
		if s.upstream == nil {
			s.upstream = s.svc.newUpstream(s.Config, s.ID, UpstreamHandlers{
				OnMessage: s.enqueueUpstream,
				OnClose:   s.onUpstreamClose,
				OnError:   s.onUpstreamError,
			})
		}
		if err := s.upstream.Connect(ctx); err != nil {
			log.Printf("[gateway] upstream connect failed for session %s: %v", s.ID, err)
			s.writeBrowser(map[string]any{
				"type":  "server.error",
				"error": "upstream_connect_failed",
			})
			s.closeLocked(websocket.CloseInternalServerErr)
			return err
		}
		s.svc.journalEvent(s.ID, "upstream_connected", nil)
	}

	s.state = StateReady
	s.writeBrowser(map[string]any{
		"type":              "server.ready",
		"sessionId":         s.ID,
		"outputAudioFormat": s.svc.OutputAudioFormat(),
	})
	return nil
}

// HandleClientMessage 处理一条浏览器JSON帧。
// 校验类错误只回server.error，会话保持打开。
func (s *Session) HandleClientMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.writeError("invalid_json")
		return
	}

	switch msg.Type {
	case "client.start":
		s.handleStart(msg.Hello)
	case "client.audio.append":
		s.handleAudioAppend(msg.Audio)
	case "client.audio.commit":
		s.handleAudioCommit()
	case "client.chat.text":
		s.handleChatText(msg.Content)
	case "client.interrupt":
		if _, err := s.Interrupt("client"); err != nil {
			log.Printf("[gateway] interrupt failed for session %s: %v", s.ID, err)
		}
	case "client.stop":
		s.Stop()
	default:
		s.writeError("invalid_message")
	}
}

func (s *Session) handleStart(hello string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.svc.journalEvent(s.ID, "client_started", nil)
	if hello != "" && s.upstream != nil {
		if err := s.upstream.SendHello(hello); err != nil {
			log.Printf("[gateway] send hello failed for session %s: %v", s.ID, err)
		}
	}
}

func (s *Session) handleAudioAppend(audioB64 string) {
	data, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		s.writeError("invalid_message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.upstream == nil {
		return
	}

	s.svc.journalEvent(s.ID, "input_audio_chunk", map[string]any{"bytes": len(data)})
	if err := s.upstream.SendAudioChunk(data); err != nil {
		log.Printf("[gateway] forward audio failed for session %s: %v", s.ID, err)
	}
}

// handleAudioCommit 在全部已转发音频之后补发一串静音尾包，
// 提示上游本次语音输入结束。
func (s *Session) handleAudioCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.upstream == nil {
		return
	}

	silence := make([]byte, s.svc.cfg.CommitChunkBytes)
	for i := 0; i < s.svc.cfg.CommitTailChunks; i++ {
		if err := s.upstream.SendAudioChunk(silence); err != nil {
			log.Printf("[gateway] send silence tail failed for session %s: %v", s.ID, err)
			break
		}
	}
	s.svc.journalEvent(s.ID, "input_audio_committed", nil)
}

func (s *Session) handleChatText(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.upstream == nil {
		return
	}

	if err := s.upstream.SendChatText(content); err != nil {
		log.Printf("[gateway] send text failed for session %s: %v", s.ID, err)
		return
	}
	s.svc.journalEvent(s.ID, "input_text", map[string]any{"content": content})
}

// Interrupt 抢断当前回复：立即finish-session并重新握手，不等未完成的音频。
// source区分触发方（client或api）。没有上游时返回false。
func (s *Session) Interrupt(source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.upstream == nil {
		return false, nil
	}

	s.state = StateInterrupting
	if err := s.upstream.RestartSession(); err != nil {
		log.Printf("[gateway] restart session failed for session %s: %v", s.ID, err)
		s.closeLocked(websocket.CloseInternalServerErr)
		return true, err
	}

	s.svc.journalEvent(s.ID, "session_interrupted", map[string]any{"source": source})

	payloadSource := "interrupt_api"
	if source == "client" {
		payloadSource = "client_interrupt"
	}
	s.writeBrowser(map[string]any{
		"type":    "server.event",
		"event":   int32(dialog.EventSessionInterrupted),
		"payload": map[string]any{"source": payloadSource},
	})

	s.state = StateReady
	return true, nil
}

// Stop 开始有序关闭（client.stop或致命错误触发）。
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(websocket.CloseNormalClosure)
}

// DetachBrowser 浏览器侧读循环退出时调用。
// 只有当前socket仍是会话持有的那条时才触发关闭，
// 被4001顶掉的旧socket退出不影响会话。
func (s *Session) DetachBrowser(conn BrowserSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.browser != conn {
		return
	}
	s.closeLocked(websocket.CloseNormalClosure)
}

// closeLocked 幂等的统一关闭路径：关浏览器socket、关上游、
// 摘除注册表记录并记日志事件。调用方必须持有s.mu。
func (s *Session) closeLocked(browserCode int) {
	if s.closed {
		return
	}
	s.closed = true
	s.state = StateClosed
	close(s.done)

	if s.browser != nil {
		closeSocket(s.browser, browserCode)
		s.browser = nil
	}
	if s.upstream != nil {
		if err := s.upstream.Close(); err != nil {
			log.Printf("[gateway] upstream close failed for session %s: %v", s.ID, err)
		}
		s.upstream = nil
	}

	s.svc.registry.Remove(s.ID)
	s.svc.journalEvent(s.ID, "session_closed", nil)
}

// ================== 上游信号 ==================

// enqueueUpstream 由上游读循环调用，不在读循环里取会话锁。
// 队列打满时丢帧（只会发生在打断抢占期间）。
func (s *Session) enqueueUpstream(msg *dialog.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.upstreamCh <- msg:
	default:
		log.Printf("[gateway] upstream queue full, dropping frame for session %s", s.ID)
	}
}

func (s *Session) pumpUpstream() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.upstreamCh:
			s.handleUpstreamMessage(msg)
		}
	}
}

// handleUpstreamMessage 把一条上游帧翻译成浏览器事件。
func (s *Session) handleUpstreamMessage(msg *dialog.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch msg.Header.MessageType {
	case dialog.ServerACK:
		if len(msg.Payload.Binary) == 0 {
			return
		}
		s.writeBrowser(map[string]any{
			"type":  "server.tts.audio",
			"audio": base64.StdEncoding.EncodeToString(msg.Payload.Binary),
			"event": int32(msg.Event),
		})
		s.svc.journalEvent(s.ID, "assistant_audio_chunk", map[string]any{
			"bytes": len(msg.Payload.Binary),
			"event": int32(msg.Event),
		})

	case dialog.ServerErrorResponse:
		payload := payloadValue(msg.Payload)
		s.writeBrowser(map[string]any{
			"type":    "server.error",
			"error":   "upstream_server_error",
			"code":    msg.ErrorCode,
			"message": mapUpstreamError(msg.ErrorCode, errorText(msg.Payload)),
			"payload": payload,
		})
		s.svc.journalEvent(s.ID, "error", map[string]any{
			"code":    msg.ErrorCode,
			"payload": payload,
		})

	default:
		s.writeBrowser(map[string]any{
			"type":    "server.event",
			"event":   int32(msg.Event),
			"payload": payloadValue(msg.Payload),
		})
		if text := extractText(msg.Payload.Object); text != "" {
			s.writeBrowser(map[string]any{
				"type": "server.text",
				"role": roleForEvent(msg.Event, msg.Payload.Object),
				"text": text,
			})
		}
	}
}

func (s *Session) onUpstreamClose(code int, reason []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.writeBrowser(map[string]any{
		"type":   "server.closed",
		"code":   code,
		"reason": string(reason),
	})
	s.closeLocked(websocket.CloseNormalClosure)
}

func (s *Session) onUpstreamError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	log.Printf("[gateway] upstream error for session %s: %v", s.ID, err)
	s.closeLocked(websocket.CloseInternalServerErr)
}

// ================== 浏览器写出 ==================

// writeBrowser 向当前浏览器socket写一条JSON，写失败只记日志。
// 调用方必须持有s.mu。
func (s *Session) writeBrowser(v map[string]any) {
	if s.browser == nil {
		return
	}
	if err := s.browser.WriteJSON(v); err != nil {
		log.Printf("[gateway] write to browser failed for session %s: %v", s.ID, err)
	}
}

func (s *Session) writeError(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.writeBrowser(map[string]any{"type": "server.error", "error": code})
}

// payloadValue 把帧载荷折叠成可入JSON的单值
func payloadValue(p dialog.Payload) any {
	switch {
	case p.Object != nil:
		return p.Object
	case p.Text != "":
		return p.Text
	case len(p.Binary) > 0:
		return base64.StdEncoding.EncodeToString(p.Binary)
	default:
		return nil
	}
}

// errorText 提取错误帧里最接近人读的消息串
func errorText(p dialog.Payload) string {
	if p.Text != "" {
		return p.Text
	}
	if p.Object != nil {
		for _, key := range []string{"error", "message"} {
			if text, ok := p.Object[key].(string); ok && text != "" {
				return text
			}
		}
		if data, err := json.Marshal(p.Object); err == nil {
			return string(data)
		}
	}
	return string(p.Binary)
}

func closeSocket(conn BrowserSocket, code int) {
	deadline := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteMessage(websocket.CloseMessage, deadline); err != nil {
		log.Printf("[gateway] write close frame: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("[gateway] close socket: %v", err)
	}
}
