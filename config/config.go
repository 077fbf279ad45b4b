package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultFallbackReply = "I'm having trouble connecting right now. Please try again in a moment."

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Knowledge KnowledgeConfig
	Chat      ChatConfig
	Leads     LeadsConfig
	MinIO     MinIOConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	// WidgetOrigins applies to the public /widget routes embedded on customer sites.
	WidgetOrigins []string
	LogLevel      string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret  string
	Timeout    time.Duration
	MaxRefresh time.Duration
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	CatalogFile string
}

type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

type KnowledgeConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	EmbedConcurrency int
	MaxUploadBytes   int64
}

type ChatConfig struct {
	HistoryLimit      int
	MaxQuickQuestions int
	FallbackReply     string
	CacheTTL          time.Duration
}

type LeadsConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether object storage for uploaded originals is configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.widget_origins", "*")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "chatbot.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.timeout", "72h")
	v.SetDefault("auth.max_refresh", "24h")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", "20s")
	v.SetDefault("llm.catalog_file", "")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.max_batch", 16)
	v.SetDefault("embedding.timeout", "15s")

	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 0)
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.embed_concurrency", 4)
	v.SetDefault("knowledge.max_upload_bytes", 10<<20)

	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.max_quick_questions", 5)
	v.SetDefault("chat.fallback_reply", DefaultFallbackReply)
	v.SetDefault("chat.cache_ttl", "10m")

	v.SetDefault("leads.workers", 2)
	v.SetDefault("leads.queue_size", 256)
	v.SetDefault("leads.job_timeout", "10s")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.use_ssl", false)
}

// Load reads .env, the optional config file at path and the environment.
// Environment variables use upper-case keys with underscores, e.g. LLM_MODEL.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           strings.TrimSpace(v.GetString("server.port")),
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
			WidgetOrigins:  splitList(v.GetString("server.widget_origins")),
			LogLevel:       strings.TrimSpace(v.GetString("server.log_level")),
		},
		Database: DatabaseConfig{
			Driver: strings.TrimSpace(v.GetString("database.driver")),
			DSN:    strings.TrimSpace(v.GetString("database.dsn")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis.addr")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret:  strings.TrimSpace(v.GetString("auth.jwt_secret")),
			Timeout:    v.GetDuration("auth.timeout"),
			MaxRefresh: v.GetDuration("auth.max_refresh"),
		},
		LLM: LLMConfig{
			APIKey:      strings.TrimSpace(v.GetString("llm.api_key")),
			BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString("llm.base_url")), "/"),
			Model:       strings.TrimSpace(v.GetString("llm.model")),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Temperature: v.GetFloat64("llm.temperature"),
			Timeout:     v.GetDuration("llm.timeout"),
			CatalogFile: strings.TrimSpace(v.GetString("llm.catalog_file")),
		},
		Embedding: EmbeddingConfig{
			APIKey:     strings.TrimSpace(v.GetString("embedding.api_key")),
			BaseURL:    strings.TrimRight(strings.TrimSpace(v.GetString("embedding.base_url")), "/"),
			Model:      strings.TrimSpace(v.GetString("embedding.model")),
			Dimensions: v.GetInt("embedding.dimensions"),
			MaxBatch:   v.GetInt("embedding.max_batch"),
			Timeout:    v.GetDuration("embedding.timeout"),
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:        v.GetInt("knowledge.chunk_size"),
			ChunkOverlap:     v.GetInt("knowledge.chunk_overlap"),
			TopK:             v.GetInt("knowledge.top_k"),
			EmbedConcurrency: v.GetInt("knowledge.embed_concurrency"),
			MaxUploadBytes:   v.GetInt64("knowledge.max_upload_bytes"),
		},
		Chat: ChatConfig{
			HistoryLimit:      v.GetInt("chat.history_limit"),
			MaxQuickQuestions: v.GetInt("chat.max_quick_questions"),
			FallbackReply:     strings.TrimSpace(v.GetString("chat.fallback_reply")),
			CacheTTL:          v.GetDuration("chat.cache_ttl"),
		},
		Leads: LeadsConfig{
			Workers:    v.GetInt("leads.workers"),
			QueueSize:  v.GetInt("leads.queue_size"),
			JobTimeout: v.GetDuration("leads.job_timeout"),
		},
		MinIO: MinIOConfig{
			Endpoint:  strings.TrimSpace(v.GetString("minio.endpoint")),
			AccessKey: strings.TrimSpace(v.GetString("minio.access_key")),
			SecretKey: strings.TrimSpace(v.GetString("minio.secret_key")),
			Bucket:    strings.TrimSpace(v.GetString("minio.bucket")),
			UseSSL:    v.GetBool("minio.use_ssl"),
		},
	}

	// Embedding credentials fall back to the chat provider.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Chat.FallbackReply == "" {
		cfg.Chat.FallbackReply = DefaultFallbackReply
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("config: server.port must not be empty")
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn must not be empty")
	}
	if c.Knowledge.ChunkSize <= 0 {
		return fmt.Errorf("config: knowledge.chunk_size must be positive, got %d", c.Knowledge.ChunkSize)
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("config: knowledge.chunk_overlap must be in [0, %d)", c.Knowledge.ChunkSize)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("config: chat.history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm.temperature out of range: %v", c.LLM.Temperature)
	}
	return nil
}

// RequireServe checks the settings only the HTTP server needs.
func (c *Config) RequireServe() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
