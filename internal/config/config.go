package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/voicelink/backend/internal/model/session"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Dialog  DialogConfig
	Journal JournalConfig
	AI      AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	dialog, err := loadDialogConfig()
	if err != nil {
		return nil, err
	}

	journal, err := loadJournalConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Dialog: dialog, Journal: journal, AI: ai}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	host := strings.TrimSpace(os.Getenv("HOST"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: host + ":" + port}, nil
}

// DialogConfig 描述上游实时对话服务相关配置。
type DialogConfig struct {
	BaseURL    string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	BotName     string
	Speaker     string
	RecvTimeout int
	InputMod    string

	InputSampleRate   int
	OutputSampleRate  int
	OutputAudioFormat string
}

// Enabled 表示是否提供了接入上游所需的凭证。
func (c DialogConfig) Enabled() bool {
	return c.AppID != "" && c.AccessKey != ""
}

// SessionDefaults 转换为会话级默认参数。
func (c DialogConfig) SessionDefaults() session.Config {
	return session.Config{
		Speaker:     c.Speaker,
		BotName:     c.BotName,
		RecvTimeout: c.RecvTimeout,
		InputMod:    c.InputMod,
	}
}

func loadDialogConfig() (DialogConfig, error) {
	recvTimeout := 60
	if override, err := parseOptionalIntEnv("DOUBAO_RECV_TIMEOUT"); err != nil {
		return DialogConfig{}, err
	} else if override != nil {
		if *override < session.MinRecvTimeout || *override > session.MaxRecvTimeout {
			return DialogConfig{}, fmt.Errorf("DOUBAO_RECV_TIMEOUT must be between %d and %d, got %d",
				session.MinRecvTimeout, session.MaxRecvTimeout, *override)
		}
		recvTimeout = *override
	}

	inputMod := getEnvOrDefault("DOUBAO_INPUT_MOD", session.InputModAudio)
	switch inputMod {
	case session.InputModAudio, session.InputModText, session.InputModAudioFile:
	default:
		return DialogConfig{}, fmt.Errorf("invalid DOUBAO_INPUT_MOD value: %q", inputMod)
	}

	inputSampleRate, err := parseIntEnv("DOUBAO_INPUT_SAMPLE_RATE", 16000)
	if err != nil {
		return DialogConfig{}, err
	}
	outputSampleRate, err := parseIntEnv("DOUBAO_OUTPUT_SAMPLE_RATE", 24000)
	if err != nil {
		return DialogConfig{}, err
	}

	return DialogConfig{
		BaseURL:           getEnvOrDefault("DOUBAO_REALTIME_BASE_URL", "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"),
		AppID:             strings.TrimSpace(os.Getenv("DOUBAO_APP_ID")),
		AccessKey:         strings.TrimSpace(os.Getenv("DOUBAO_ACCESS_KEY")),
		ResourceID:        getEnvOrDefault("DOUBAO_RESOURCE_ID", "volc.speech.dialog"),
		AppKey:            getEnvOrDefault("DOUBAO_APP_KEY", "PlgvMymc7f3tQnJ6"),
		BotName:           getEnvOrDefault("DOUBAO_BOT_NAME", "豆包"),
		Speaker:           getEnvOrDefault("DOUBAO_SPEAKER", "zh_female_vv_jupiter_bigtts"),
		RecvTimeout:       recvTimeout,
		InputMod:          inputMod,
		InputSampleRate:   inputSampleRate,
		OutputSampleRate:  outputSampleRate,
		OutputAudioFormat: getEnvOrDefault("DOUBAO_OUTPUT_AUDIO_FORMAT", "pcm"),
	}, nil
}

// JournalConfig 描述会话历史落盘相关配置。
type JournalConfig struct {
	Enabled bool
	Dir     string
}

func loadJournalConfig() (JournalConfig, error) {
	enabled, err := parseBoolEnv("SAVE_HISTORY", true)
	if err != nil {
		return JournalConfig{}, err
	}

	return JournalConfig{
		Enabled: enabled,
		Dir:     getEnvOrDefault("HISTORY_DIR", "./history"),
	}, nil
}

// AIConfig 描述大模型相关配置（单轮文本补全管线使用）。
type AIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，需要提供 ARK_API_KEY 和 ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
