package gateway

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	sessionmodel "github.com/zhouzirui/voicelink/backend/internal/model/session"
	"github.com/zhouzirui/voicelink/backend/internal/service/dialog"
	"github.com/zhouzirui/voicelink/backend/internal/service/journal"
)

// 提交尾音默认参数：12包 × 3200字节静音（100ms的16kHz PCM16）。
const (
	defaultCommitTailChunks = 12
	defaultCommitChunkBytes = 3200
)

// ErrSessionClosed 会话已进入关闭状态后继续操作时返回
var ErrSessionClosed = errors.New("session closed")

// UpstreamClient 抽象上游实时对话客户端，便于测试替换实现。
type UpstreamClient interface {
	Connect(ctx context.Context) error
	SendAudioChunk(data []byte) error
	SendAudioCommit() error
	SendChatText(content string) error
	SendHello(content string) error
	RestartSession() error
	Close() error
	Started() bool
}

// UpstreamHandlers 上游客户端向会话投递信号的回调组
type UpstreamHandlers struct {
	OnMessage func(msg *dialog.Message)
	OnClose   func(code int, reason []byte)
	OnError   func(err error)
}

// Config 网关服务配置
type Config struct {
	Upstream dialog.ClientConfig
	// Defaults 浏览器未指定时的会话参数
	Defaults sessionmodel.Config
	// OutputAudioFormat 在server.ready里向浏览器通告的音频格式
	OutputAudioFormat string

	// 提交尾音参数，零值取默认
	CommitTailChunks int
	CommitChunkBytes int
}

// Service 管理全部实时会话：铸造、附着、打断与关闭。
type Service struct {
	cfg      Config
	registry *Registry
	journal  *journal.Store

	// newUpstream 可在测试中替换为桩实现
	newUpstream func(dialogCfg sessionmodel.Config, sessionID string, handlers UpstreamHandlers) UpstreamClient
}

// NewService 创建网关服务。
func NewService(cfg Config, registry *Registry, journalStore *journal.Store) *Service {
	if cfg.CommitTailChunks <= 0 {
		cfg.CommitTailChunks = defaultCommitTailChunks
	}
	if cfg.CommitChunkBytes <= 0 {
		cfg.CommitChunkBytes = defaultCommitChunkBytes
	}
	if cfg.OutputAudioFormat == "" {
		cfg.OutputAudioFormat = "pcm"
	}

	svc := &Service{
		cfg:      cfg,
		registry: registry,
		journal:  journalStore,
	}
	svc.newUpstream = func(dialogCfg sessionmodel.Config, sessionID string, handlers UpstreamHandlers) UpstreamClient {
		client := dialog.NewClient(cfg.Upstream, dialogCfg, sessionID)
		client.OnMessage = handlers.OnMessage
		client.OnClose = handlers.OnClose
		client.OnError = handlers.OnError
		return client
	}
	return svc
}

// Registry 返回会话注册表。
func (s *Service) Registry() *Registry {
	return s.registry
}

// OutputAudioFormat 通告给浏览器的输出音频格式。
func (s *Service) OutputAudioFormat() string {
	return s.cfg.OutputAudioFormat
}

// Mint 铸造一个尚未附着任何socket的会话记录。
func (s *Service) Mint(cfg sessionmodel.Config) *Session {
	merged := cfg.Merge(s.cfg.Defaults)
	id := uuid.NewString()

	created, _ := s.registry.GetOrCreate(id, func() *Session {
		return newSession(id, merged, s)
	})
	s.journalEvent(id, "session_opened", map[string]any{"source": "api", "config": merged})
	return created
}

// Lookup 按id查找会话。
func (s *Service) Lookup(id string) (*Session, bool) {
	return s.registry.Get(id)
}

// Resolve 返回id对应的会话，不存在时用默认配置懒创建（容忍带外铸造的id）。
func (s *Service) Resolve(id string) *Session {
	created, inserted := s.registry.GetOrCreate(id, func() *Session {
		return newSession(id, sessionmodel.Config{}.Merge(s.cfg.Defaults), s)
	})
	if inserted {
		s.journalEvent(id, "session_opened", map[string]any{"source": "ws"})
	}
	return created
}

// Interrupt 处理带外打断。没有上游连接时返回false。
func (s *Service) Interrupt(id string) (bool, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return false, nil
	}
	return sess.Interrupt("api")
}

func (s *Service) journalEvent(sessionID, eventType string, payload map[string]any) {
	if err := s.journal.Append(sessionID, eventType, payload); err != nil {
		log.Printf("[gateway] journal %s failed for session %s: %v", eventType, sessionID, err)
	}
}
