package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Chat    ChatConfig
	AI      AIConfig
	Log     LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Addr is derived from Port.
	Addr string `env:"-"`
}

// StorageConfig 描述持久化配置。默认写入 SQLite，STORAGE_MEMORY=true 时只保存在内存中。
type StorageConfig struct {
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/chat.db"`
	Memory     bool   `env:"STORAGE_MEMORY"`
}

// ChatConfig 描述聊天室相关配置。
type ChatConfig struct {
	Room              string        `env:"CHAT_ROOM" envDefault:"wellness-chat"`
	HistoryLimit      int           `env:"CHAT_HISTORY_LIMIT" envDefault:"100"`
	PresenceTimeout   time.Duration `env:"CHAT_PRESENCE_TIMEOUT" envDefault:"15s"`
	HeartbeatInterval time.Duration `env:"CHAT_HEARTBEAT_INTERVAL" envDefault:"5s"`
	ReplyTimeout      time.Duration `env:"CHAT_REPLY_TIMEOUT" envDefault:"8s"`
	DisableCompanions bool          `env:"CHAT_DISABLE_COMPANIONS"`
	// ServerURL is where chattab finds the relay and the room socket.
	ServerURL string `env:"CHAT_SERVER_URL" envDefault:"http://localhost:8080"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string   `env:"ARK_API_KEY"`
	AccessKey   string   `env:"ARK_ACCESS_KEY"`
	SecretKey   string   `env:"ARK_SECRET_KEY"`
	Model       string   `env:"ARK_MODEL"`
	BaseURL     string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature *float64 `env:"ARK_TEMPERATURE"`
	TopP        *float64 `env:"ARK_TOP_P"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.AI.APIKey = strings.TrimSpace(cfg.AI.APIKey)
	cfg.AI.AccessKey = strings.TrimSpace(cfg.AI.AccessKey)
	cfg.AI.SecretKey = strings.TrimSpace(cfg.AI.SecretKey)
	cfg.AI.Model = strings.TrimSpace(cfg.AI.Model)
	if cfg.AI.Model == "" {
		// 兼容旧的 Model 环境变量
		cfg.AI.Model = strings.TrimSpace(os.Getenv("Model"))
	}

	if err := cfg.Chat.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func (c ChatConfig) validate() error {
	var errs []error
	if strings.TrimSpace(c.Room) == "" {
		errs = append(errs, errors.New("CHAT_ROOM must not be empty"))
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > 200 {
		errs = append(errs, fmt.Errorf("invalid CHAT_HISTORY_LIMIT value %d: must be between 1 and 200", c.HistoryLimit))
	}
	if c.PresenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid CHAT_PRESENCE_TIMEOUT value %s", c.PresenceTimeout))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.PresenceTimeout {
		errs = append(errs, fmt.Errorf("invalid CHAT_HEARTBEAT_INTERVAL value %s: must be positive and shorter than the presence timeout", c.HeartbeatInterval))
	}
	return errors.Join(errs...)
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}
