package session

import (
	"errors"
	"fmt"
)

// 输入模态取值
const (
	InputModAudio     = "audio"
	InputModText      = "text"
	InputModAudioFile = "audio_file"
)

// 上游空闲超时的允许区间（秒）
const (
	MinRecvTimeout = 10
	MaxRecvTimeout = 120
)

var ErrInvalidConfig = errors.New("invalid session config")

// Config 会话的可选运营参数，浏览器未提供的字段由运营默认值补齐。
type Config struct {
	Speaker       string `json:"speaker,omitempty"`
	BotName       string `json:"botName,omitempty"`
	SystemRole    string `json:"systemRole,omitempty"`
	SpeakingStyle string `json:"speakingStyle,omitempty"`
	Location      string `json:"location,omitempty"`
	RecvTimeout   int    `json:"recvTimeout,omitempty"`
	InputMod      string `json:"inputMod,omitempty"`
}

// Validate 校验显式给出的字段；零值字段视为未提供。
func (c Config) Validate() error {
	if c.RecvTimeout != 0 && (c.RecvTimeout < MinRecvTimeout || c.RecvTimeout > MaxRecvTimeout) {
		return fmt.Errorf("%w: recvTimeout %d out of range [%d, %d]",
			ErrInvalidConfig, c.RecvTimeout, MinRecvTimeout, MaxRecvTimeout)
	}
	switch c.InputMod {
	case "", InputModAudio, InputModText, InputModAudioFile:
	default:
		return fmt.Errorf("%w: unknown inputMod %q", ErrInvalidConfig, c.InputMod)
	}
	return nil
}

// Merge 用默认配置填充未提供的字段，返回完整配置。
func (c Config) Merge(defaults Config) Config {
	merged := c
	if merged.Speaker == "" {
		merged.Speaker = defaults.Speaker
	}
	if merged.BotName == "" {
		merged.BotName = defaults.BotName
	}
	if merged.SystemRole == "" {
		merged.SystemRole = defaults.SystemRole
	}
	if merged.SpeakingStyle == "" {
		merged.SpeakingStyle = defaults.SpeakingStyle
	}
	if merged.Location == "" {
		merged.Location = defaults.Location
	}
	if merged.RecvTimeout == 0 {
		merged.RecvTimeout = defaults.RecvTimeout
	}
	if merged.InputMod == "" {
		merged.InputMod = defaults.InputMod
	}
	return merged
}
