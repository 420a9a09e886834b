package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/docqa/internal/retry"
)

// CurrentVersion is the latest supported configuration file version.
// Files that omit the version are treated as current.
const CurrentVersion = 1

// Config is the main configuration structure for docqa.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Document      DocumentConfig      `yaml:"document"`
	Index         IndexConfig         `yaml:"index"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	LLM           LLMConfig           `yaml:"llm"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Prompts       PromptsConfig       `yaml:"prompts"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Retry         retry.Policy        `yaml:"retry"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Watch         WatchConfig         `yaml:"watch"`
	AWS           AWSConfig           `yaml:"aws"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DocumentConfig struct {
	// Path is the local document. When S3 names a bucket the object is
	// downloaded to Path before every index load.
	Path string         `yaml:"path"`
	S3   S3SourceConfig `yaml:"s3"`
}

// S3SourceConfig locates the document in an S3-compatible bucket.
type S3SourceConfig struct {
	Bucket       string `yaml:"bucket"`
	Key          string `yaml:"key"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Enabled reports whether the document comes from S3.
func (s S3SourceConfig) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// IndexConfig controls chunking and the on-disk vector index.
type IndexConfig struct {
	Dir            string `yaml:"dir"`
	ChunkStrategy  string `yaml:"chunk_strategy"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	TopK           int    `yaml:"top_k"`
	EmbedBatchSize int    `yaml:"embed_batch_size"`
}

type EmbeddingsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type ConversationConfig struct {
	// HistoryTokenBudget bounds the history passed to the models.
	HistoryTokenBudget int `yaml:"history_token_budget"`
	// LockTimeout bounds how long a request waits behind another request
	// for the same session. Zero waits until the request context ends.
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	FallbackAnswer string        `yaml:"fallback_answer"`
}

// PromptsConfig overrides the built-in prompts. Empty values keep the defaults.
type PromptsConfig struct {
	Contextualize  string `yaml:"contextualize"`
	SystemTemplate string `yaml:"system_template"`
	Hedge          string `yaml:"hedge"`
}

type SessionsConfig struct {
	// Backend is one of memory, sqlite, or postgres.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type ObservabilityConfig struct {
	// DisableMetrics removes the /metrics endpoint.
	DisableMetrics bool    `yaml:"disable_metrics"`
	TraceEndpoint  string  `yaml:"trace_endpoint"`
	TraceInsecure  bool    `yaml:"trace_insecure"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Environment    string  `yaml:"environment"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	// Schedule is a cron expression ("*/30 * * * *", "@every 1h") for
	// periodic refreshes, mainly for S3 documents that cannot be watched.
	Schedule string `yaml:"schedule"`
}

// AWSConfig is shared by the Bedrock providers and the S3 document source.
// Empty credentials fall back to the default AWS credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig presets the settings for which zero is a meaningful value.
// Config files decode on top of it, so only keys the file omits keep
// these defaults. Everything else is defaulted after decoding.
func newConfig() *Config {
	return &Config{
		Index:         IndexConfig{ChunkOverlap: 1000},
		LLM:           LLMConfig{Temperature: 0.3},
		Observability: ObservabilityConfig{SamplingRate: 1.0},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Document.Path == "" {
		cfg.Document.Path = "SemantoGhoshGenAIResume.pdf"
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "index"
	}
	if cfg.Index.ChunkStrategy == "" {
		cfg.Index.ChunkStrategy = "window"
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 10000
	}
	if cfg.Index.TopK == 0 {
		cfg.Index.TopK = 4
	}
	if cfg.Index.EmbedBatchSize == 0 {
		cfg.Index.EmbedBatchSize = 32
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "gemini"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "openai":
			cfg.Embeddings.Model = "text-embedding-3-small"
		case "bedrock":
			cfg.Embeddings.Model = "amazon.titan-embed-text-v2:0"
		default:
			cfg.Embeddings.Model = "models/embedding-001"
		}
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		case "anthropic":
			cfg.LLM.Model = "claude-3-5-haiku-latest"
		case "bedrock":
			cfg.LLM.Model = "anthropic.claude-3-5-haiku-20241022-v1:0"
		default:
			cfg.LLM.Model = "gemini-2.5-flash-lite"
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Conversation.HistoryTokenBudget == 0 {
		cfg.Conversation.HistoryTokenBudget = 300
	}
	if cfg.Conversation.FallbackAnswer == "" {
		cfg.Conversation.FallbackAnswer = "Sorry, I couldn't generate an answer."
	}
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
		for _, name := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
			if region := strings.TrimSpace(os.Getenv(name)); region != "" {
				cfg.AWS.Region = region
				break
			}
		}
	}
}

// applyEnvOverrides fills API keys from the provider environment variables
// when the file leaves them empty.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = apiKeyFromEnv(cfg.LLM.Provider)
	}
	if cfg.Embeddings.APIKey == "" {
		cfg.Embeddings.APIKey = apiKeyFromEnv(cfg.Embeddings.Provider)
	}
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case "google", "gemini":
		return os.Getenv("GOOGLE_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Version > CurrentVersion {
		add("version %d is newer than this build (current: %d)", c.Version, CurrentVersion)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Document.Path) == "" {
		add("document.path is required")
	}
	if strings.TrimSpace(c.Index.Dir) == "" {
		add("index.dir is required")
	}
	switch c.Index.ChunkStrategy {
	case "window", "recursive":
	default:
		add("index.chunk_strategy must be window or recursive, got %q", c.Index.ChunkStrategy)
	}
	if c.Index.ChunkSize <= 0 {
		add("index.chunk_size must be positive")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		add("index.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Index.TopK <= 0 {
		add("index.top_k must be positive")
	}
	if c.Index.EmbedBatchSize <= 0 {
		add("index.embed_batch_size must be positive")
	}
	if c.Document.S3.Enabled() && strings.TrimSpace(c.Document.S3.Key) == "" {
		add("document.s3.key is required when document.s3.bucket is set")
	}
	switch c.Embeddings.Provider {
	case "gemini", "openai", "bedrock":
	default:
		add("embeddings.provider must be gemini, openai, or bedrock, got %q", c.Embeddings.Provider)
	}
	switch c.LLM.Provider {
	case "google", "openai", "anthropic", "bedrock":
	default:
		add("llm.provider must be google, openai, anthropic, or bedrock, got %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be in [0, 2]")
	}
	if c.Conversation.HistoryTokenBudget <= 0 {
		add("conversation.history_token_budget must be positive")
	}
	if c.Conversation.LockTimeout < 0 {
		add("conversation.lock_timeout must not be negative")
	}
	if c.Prompts.SystemTemplate != "" && !strings.Contains(c.Prompts.SystemTemplate, "{context}") {
		add("prompts.system_template must contain {context}")
	}
	switch c.Sessions.Backend {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Sessions.DSN) == "" {
			add("sessions.dsn is required for the %s backend", c.Sessions.Backend)
		}
	default:
		add("sessions.backend must be memory, sqlite, or postgres, got %q", c.Sessions.Backend)
	}
	if c.Retry.MaxAttempts < 0 {
		add("retry.max_attempts must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		add("observability.sampling_rate must be in [0, 1]")
	}
	if spec := strings.TrimSpace(c.Watch.Schedule); spec != "" {
		if _, err := ParseSchedule(spec); err != nil {
			add("watch.schedule: %v", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a watch.schedule expression. Five or six fields
// (leading seconds) and descriptors such as "@hourly" are accepted.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}
