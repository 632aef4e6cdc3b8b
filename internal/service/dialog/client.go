package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicelink/backend/internal/model/session"
)

// 握手等待上限
const defaultHandshakeTimeout = 8 * time.Second

// 尾包静音帧大小：10ms的16kHz单声道PCM16
const commitFrameBytes = 320

var (
	ErrHandshakeTimeout = errors.New("upstream handshake timeout")
	ErrClientClosed     = errors.New("upstream client closed")
)

// ClientConfig 上游实时对话服务的连接参数
type ClientConfig struct {
	BaseURL    string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	OutputAudioFormat string
	OutputSampleRate  int

	// HandshakeTimeout 为零时使用默认的8秒
	HandshakeTimeout time.Duration
}

func (c ClientConfig) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

// Client 持有到上游对话服务的单条WebSocket连接。
// 通过 OnMessage / OnClose / OnError 三个回调向会话层投递信号，
// 回调必须在 Connect 之前设置。
type Client struct {
	cfg    ClientConfig
	dialog session.Config
	dialer *websocket.Dialer

	OnMessage func(msg *Message)
	OnClose   func(code int, reason []byte)
	OnError   func(err error)

	sendMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	started   bool
	closed    bool
	waiters   map[EventType]chan *Message
}

// NewClient 创建上游客户端。sessionID 是网关侧铸造的会话标识，
// 首次start-session沿用它，重启后换用新铸造的标识。
func NewClient(cfg ClientConfig, dialogCfg session.Config, sessionID string) *Client {
	return &Client{
		cfg:       cfg,
		dialog:    dialogCfg,
		sessionID: sessionID,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: false,
		},
		waiters: make(map[EventType]chan *Message),
	}
}

// Started 上游是否完成了start-session握手
func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SessionID 当前上游会话标识
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect 建立连接并按序完成握手：
// 开启socket → 事件1 → 等事件50 → 事件100 → 等事件150。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("X-Api-App-ID", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	header.Set("X-Api-App-Key", c.cfg.AppKey)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.BaseURL, header)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[dialog] connected, logid=%s", logid)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.startConnection(); err != nil {
		c.teardown(conn)
		return err
	}
	if err := c.startSession(); err != nil {
		c.teardown(conn)
		return err
	}
	return nil
}

func (c *Client) startConnection() error {
	msg := &Message{
		Header:  NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:   EventStartConnection,
		Payload: ObjectPayload(map[string]any{}),
	}
	if err := c.writeMessage(msg); err != nil {
		return fmt.Errorf("send start connection: %w", err)
	}
	if _, err := c.awaitEvent(EventConnectionStarted); err != nil {
		return fmt.Errorf("wait connection started: %w", err)
	}
	return nil
}

func (c *Client) startSession() error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	msg := &Message{
		Header:    NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:     EventStartSession,
		SessionID: sessionID,
		Payload:   ObjectPayload(c.startSessionPayload()),
	}
	if err := c.writeMessage(msg); err != nil {
		return fmt.Errorf("send start session: %w", err)
	}
	if _, err := c.awaitEvent(EventSessionStarted); err != nil {
		return fmt.Errorf("wait session started: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	log.Printf("[dialog] session started, session_id=%s", sessionID)
	return nil
}

// startSessionPayload 组装start-session请求体，缺省字段已由上层合并运营默认值。
func (c *Client) startSessionPayload() map[string]any {
	dialogSection := map[string]any{
		"bot_name":       c.dialog.BotName,
		"system_role":    c.dialog.SystemRole,
		"speaking_style": c.dialog.SpeakingStyle,
		"extra": map[string]any{
			"strict_audit": false,
			"recv_timeout": c.dialog.RecvTimeout,
			"input_mod":    c.dialog.InputMod,
		},
	}
	if c.dialog.Location != "" {
		dialogSection["location"] = map[string]any{"city": c.dialog.Location}
	}

	return map[string]any{
		"asr": map[string]any{
			"extra": map[string]any{"end_smooth_window_ms": 1500},
		},
		"tts": map[string]any{
			"speaker": c.dialog.Speaker,
			"audio_config": map[string]any{
				"channel":     1,
				"format":      c.cfg.OutputAudioFormat,
				"sample_rate": c.cfg.OutputSampleRate,
			},
		},
		"dialog": dialogSection,
	}
}

// SendAudioChunk 发送一段音频，事件200，gzip压缩。空输入为no-op。
func (c *Client) SendAudioChunk(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	msg := &Message{
		Header:    NewHeader(AudioOnlyRequest, FlagWithEvent, NoSerialization, GzipCompression),
		Event:     EventTaskRequest,
		SessionID: c.SessionID(),
		Payload:   BinaryPayload(data),
	}
	return c.writeMessage(msg)
}

// SendAudioCommit 发送音频尾包，标记一次输入语音结束。
func (c *Client) SendAudioCommit() error {
	msg := &Message{
		Header:  NewHeader(AudioOnlyRequest, FlagNegativeSeq, NoSerialization, NoCompression),
		Payload: BinaryPayload(make([]byte, commitFrameBytes)),
	}
	return c.writeMessage(msg)
}

// SendChatText 发送文本输入，事件501。
func (c *Client) SendChatText(content string) error {
	msg := &Message{
		Header:    NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:     EventChatTTSText,
		SessionID: c.SessionID(),
		Payload:   ObjectPayload(map[string]any{"content": content}),
	}
	return c.writeMessage(msg)
}

// SendHello 请求上游播报开场白，事件300。
func (c *Client) SendHello(content string) error {
	msg := &Message{
		Header:    NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:     EventSayHello,
		SessionID: c.SessionID(),
		Payload:   ObjectPayload(map[string]any{"content": content}),
	}
	return c.writeMessage(msg)
}

// RestartSession 打断当前轮次：立即发送finish-session，
// 然后用新的会话标识重新完成start-session握手。
func (c *Client) RestartSession() error {
	c.mu.Lock()
	oldID := c.sessionID
	c.started = false
	c.mu.Unlock()

	finish := &Message{
		Header:    NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:     EventFinishSession,
		SessionID: oldID,
		Payload:   ObjectPayload(map[string]any{}),
	}
	if err := c.writeMessage(finish); err != nil {
		return fmt.Errorf("send finish session: %w", err)
	}

	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.mu.Unlock()

	return c.startSession()
}

// Close 尽力发送finish-session与finish-connection后关闭socket。幂等。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.started = false
	conn := c.conn
	sessionID := c.sessionID
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	finishSession := &Message{
		Header:    NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:     EventFinishSession,
		SessionID: sessionID,
		Payload:   ObjectPayload(map[string]any{}),
	}
	if err := c.writeMessageTo(conn, finishSession); err != nil {
		log.Printf("[dialog] finish session on close: %v", err)
	}

	finishConnection := &Message{
		Header:  NewHeader(FullClientRequest, FlagWithEvent, JSONSerialization, NoCompression),
		Event:   EventFinishConnection,
		Payload: ObjectPayload(map[string]any{}),
	}
	if err := c.writeMessageTo(conn, finishConnection); err != nil {
		log.Printf("[dialog] finish connection on close: %v", err)
	}

	return conn.Close()
}

// writeMessage 编码并写出一帧。socket未开启时允许一次透明重连。
func (c *Client) writeMessage(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if conn == nil {
		if err := c.Connect(context.Background()); err != nil {
			return fmt.Errorf("reconnect before send: %w", err)
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
		if conn == nil {
			return ErrClientClosed
		}
	}
	return c.writeMessageTo(conn, msg)
}

func (c *Client) writeMessageTo(conn *websocket.Conn, msg *Message) error {
	frame, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// awaitEvent 注册一个事件等待者，由读循环投递，超时按握手上限。
func (c *Client) awaitEvent(event EventType) (*Message, error) {
	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.waiters[event] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, event)
		c.mu.Unlock()
	}()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return msg, nil
	case <-time.After(c.cfg.handshakeTimeout()):
		return nil, fmt.Errorf("%w: event %d not received within %s",
			ErrHandshakeTimeout, event, c.cfg.handshakeTimeout())
	}
}

// readLoop 持续读取并解析上游帧。无法解析的帧直接跳过；
// 帧先满足等待者，否则交给 OnMessage。
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		msg, ok := DecodeMessage(data)
		if !ok {
			continue
		}

		c.mu.Lock()
		waiter, waiting := c.waiters[msg.Event]
		if waiting && msg.Event != EventNone {
			delete(c.waiters, msg.Event)
		}
		c.mu.Unlock()

		if waiting && msg.Event != EventNone {
			waiter <- msg
			continue
		}

		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	closed := c.closed
	c.started = false
	for event, ch := range c.waiters {
		close(ch)
		delete(c.waiters, event)
	}
	c.mu.Unlock()

	if closed {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if c.OnClose != nil {
			c.OnClose(closeErr.Code, []byte(closeErr.Text))
		}
		return
	}
	if c.OnError != nil {
		c.OnError(err)
	}
}

// teardown 握手失败时的连接回收
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.started = false
	c.mu.Unlock()
	_ = conn.Close()
}
