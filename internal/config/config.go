package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/zhouzirui/mempool-lens/backend/internal/llm"
)

// Supported chat model providers.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AI        AIConfig        `yaml:"ai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Fees      FeesConfig      `yaml:"fees"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load 从环境变量加载配置。path 非空时先读取 YAML 文件，环境变量优先。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	addr, err := normalizeAddr(c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Addr = addr
	c.AI.MaxImageBytes = c.Server.MaxImageBytes

	switch c.AI.Provider {
	case ProviderArk, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q", c.AI.Provider)
	}

	if c.AI.HistoryLimit < 1 {
		c.AI.HistoryLimit = 1
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkTokens {
		return fmt.Errorf("KNOWLEDGE_CHUNK_OVERLAP (%d) must be smaller than KNOWLEDGE_CHUNK_TOKENS (%d)",
			c.Knowledge.ChunkOverlap, c.Knowledge.ChunkTokens)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port           string   `yaml:"port" env:"PORT" env-default:"8080"`
	Env            string   `yaml:"env" env:"APP_ENV" env-default:"development"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	MaxImageBytes  int      `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES" env-default:"5242880"`

	// Addr is derived from Port.
	Addr string `yaml:"-" env:"-"`
}

// InDevelop reports whether the service runs with development defaults.
func (c ServerConfig) InDevelop() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
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

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider          string  `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	APIKey            string  `yaml:"api_key" env:"AI_API_KEY"`
	AccessKey         string  `yaml:"access_key" env:"ARK_ACCESS_KEY"`
	SecretKey         string  `yaml:"secret_key" env:"ARK_SECRET_KEY"`
	Model             string  `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o"`
	BaseURL           string  `yaml:"base_url" env:"AI_BASE_URL"`
	Region            string  `yaml:"region" env:"ARK_REGION" env-default:"cn-beijing"`
	Temperature       float32 `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.3"`
	MaxTokens         int     `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"300"`
	StreamResponse    bool    `yaml:"stream" env:"AI_STREAM" env-default:"true"`
	HistoryLimit      int     `yaml:"history_limit" env:"AI_HISTORY_LIMIT" env-default:"10"`
	HistoryTokenLimit int     `yaml:"history_token_limit" env:"AI_HISTORY_TOKEN_LIMIT" env-default:"3500"`
	DefaultTopic      string  `yaml:"default_topic" env:"AI_DEFAULT_TOPIC" env-default:"fees"`

	// MaxImageBytes mirrors ServerConfig.MaxImageBytes.
	MaxImageBytes int `yaml:"-" env:"-"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("AI credentials or model missing for provider %q", c.Provider)
	}

	switch c.Provider {
	case ProviderArk:
		temperature := c.Temperature
		maxTokens := c.MaxTokens
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = "https://ark.cn-beijing.volces.com/api/v3"
		}
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     baseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
	case ProviderGemini:
		return llm.NewGeminiChatModel(ctx, llm.GeminiConfig{
			APIKey:        c.APIKey,
			Model:         c.Model,
			Temperature:   c.Temperature,
			MaxTokens:     c.MaxTokens,
			MaxImageBytes: c.MaxImageBytes,
		})
	default:
		return llm.NewOpenAIChatModel(llm.OpenAIConfig{
			APIKey:      c.APIKey,
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
		}), nil
	}
}

// EmbeddingConfig 描述向量化模型配置，始终走 OpenAI 兼容接口。
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	BaseURL   string `yaml:"base_url" env:"EMBEDDING_BASE_URL"`
	Model     string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	BatchSize int    `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE" env-default:"64"`
}

// NewEmbedder 创建向量化组件；未配置密钥时复用 AI_API_KEY（仅 openai provider）。
func (c EmbeddingConfig) NewEmbedder(ai AIConfig) (embedding.Embedder, error) {
	apiKey := c.APIKey
	baseURL := c.BaseURL
	if apiKey == "" && ai.Provider == ProviderOpenAI {
		apiKey = ai.APIKey
		if baseURL == "" {
			baseURL = ai.BaseURL
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedding credentials missing, set EMBEDDING_API_KEY")
	}
	return llm.NewOpenAIEmbedder(llm.EmbedderConfig{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Model:     c.Model,
		BatchSize: c.BatchSize,
	}), nil
}

// KnowledgeConfig 描述参考文档相似度检索配置。
type KnowledgeConfig struct {
	DocumentPath string  `yaml:"document_path" env:"KNOWLEDGE_DOCUMENT_PATH"`
	ChunkTokens  int     `yaml:"chunk_tokens" env:"KNOWLEDGE_CHUNK_TOKENS" env-default:"400"`
	ChunkOverlap int     `yaml:"chunk_overlap" env:"KNOWLEDGE_CHUNK_OVERLAP" env-default:"50"`
	TopK         int     `yaml:"top_k" env:"KNOWLEDGE_TOP_K" env-default:"4"`
	MinScore     float64 `yaml:"min_score" env:"KNOWLEDGE_MIN_SCORE" env-default:"0.3"`
}

// Enabled 表示是否配置了参考文档。
func (c KnowledgeConfig) Enabled() bool {
	return strings.TrimSpace(c.DocumentPath) != ""
}

// SearchConfig 描述联网搜索工具配置。
type SearchConfig struct {
	Enabled    bool          `yaml:"enabled" env:"SEARCH_ENABLED" env-default:"false"`
	Endpoint   string        `yaml:"endpoint" env:"SEARCH_ENDPOINT" env-default:"https://html.duckduckgo.com/html/"`
	MaxResults int           `yaml:"max_results" env:"SEARCH_MAX_RESULTS" env-default:"3"`
	Timeout    time.Duration `yaml:"timeout" env:"SEARCH_TIMEOUT" env-default:"8s"`
}

// RedisConfig 为空时使用内存存储；SessionTTL 对两种存储都生效。
type RedisConfig struct {
	URL        string        `yaml:"url" env:"REDIS_URL"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"REDIS_SESSION_TTL" env-default:"24h"`
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// FeesConfig 描述手续费推送 websocket 配置。
type FeesConfig struct {
	Enabled        bool          `yaml:"enabled" env:"FEES_ENABLED" env-default:"true"`
	WebsocketURL   string        `yaml:"websocket_url" env:"FEES_WS_URL" env-default:"wss://mempool.space/api/v1/ws"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"FEES_RECONNECT_DELAY" env-default:"5s"`
}

// TelegramConfig 描述机器人配置。
type TelegramConfig struct {
	Token      string  `yaml:"token" env:"TELEGRAM_APITOKEN"`
	AllowedIDs []int64 `yaml:"allowed_ids" env:"TELEGRAM_ALLOWED_IDS" env-separator:","`
}

// Enabled 表示是否提供了机器人 token。
func (c TelegramConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

// RateLimitConfig uses the ulule/limiter formatted rate, e.g. "20-M".
type RateLimitConfig struct {
	Rate string `yaml:"rate" env:"RATE_LIMIT" env-default:"20-M"`
}
