package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the reply pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	RequestTimeout   time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string
	LogOutput string
	LogFile   string

	LLMProvider         string
	LLMFallbackProvider string
	LLMModel            string
	LLMBaseURL          string
	LLMTemperature      float64
	LLMMaxTokens        int
	LLMTimeout          time.Duration
	LLMHTTPURL          string
	OpenAIAPIKey        string
	AnthropicAPIKey     string
	OllamaBaseURL       string

	MemoryBackend        string
	MemoryPath           string
	DatabaseURL          string
	MemoryEmbedder       string
	MemoryEmbeddingModel string
	MemoryEmbeddingDim   int
	MemorySearchLimit    int
	MemoryWriteAttempts  int
	MemoryRedactPII      bool

	EmbedCacheSize int64
	EmbedCacheTTL  time.Duration
	RedisURL       string
}

// Load reads settings with the precedence environment > YAML file > defaults.
// A .env file in the working directory is loaded first when present, and the
// YAML file is taken from SOLACE_CONFIG when set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(strings.TrimSpace(os.Getenv("SOLACE_CONFIG")))
}

// LoadFile is Load without the .env step, reading defaults from the YAML file
// at path. The file is a flat mapping of the same keys as the environment.
func LoadFile(path string) (Config, error) {
	src := source{file: map[string]string{}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		for k, v := range raw {
			src.file[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return src.load()
}

func (s source) load() (Config, error) {
	cfg := Config{
		BindAddr:         s.stringOr("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: s.stringOr("APP_METRICS_NAMESPACE", "solace"),

		LogLevel:  s.stringOr("LOG_LEVEL", "info"),
		LogFormat: s.stringOr("LOG_FORMAT", "json"),
		LogOutput: s.stringOr("LOG_OUTPUT", "stderr"),
		LogFile:   s.stringOr("LOG_FILE", "logs/solace.log"),

		LLMProvider:         s.stringOr("LLM_PROVIDER", "auto"),
		LLMFallbackProvider: s.stringOr("LLM_FALLBACK_PROVIDER", ""),
		LLMModel:            s.stringOr("LLM_MODEL", ""),
		LLMBaseURL:          s.stringOr("LLM_BASE_URL", ""),
		LLMHTTPURL:          s.stringOr("LLM_HTTP_URL", ""),
		OpenAIAPIKey:        s.stringOr("OPENAI_API_KEY", ""),
		AnthropicAPIKey:     s.stringOr("ANTHROPIC_API_KEY", ""),
		OllamaBaseURL:       s.stringOr("OLLAMA_BASE_URL", "http://localhost:11434"),

		MemoryBackend:        s.stringOr("MEMORY_BACKEND", "auto"),
		MemoryPath:           s.stringOr("MEMORY_PATH", ""),
		DatabaseURL:          s.stringOr("DATABASE_URL", ""),
		MemoryEmbedder:       s.stringOr("MEMORY_EMBEDDER", "auto"),
		MemoryEmbeddingModel: s.stringOr("MEMORY_EMBEDDING_MODEL", ""),
		RedisURL:             s.stringOr("REDIS_URL", ""),
	}

	var err error
	if cfg.ShutdownTimeout, err = s.duration("APP_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = s.duration("APP_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = s.boolean("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	// Slightly warm by default.
	if cfg.LLMTemperature, err = s.float("LLM_TEMPERATURE", 0.7); err != nil {
		return Config{}, err
	}
	if cfg.LLMMaxTokens, err = s.integer("LLM_MAX_TOKENS", 1024); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = s.duration("LLM_TIMEOUT", 45*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MemoryEmbeddingDim, err = s.integer("MEMORY_EMBEDDING_DIM", 1536); err != nil {
		return Config{}, err
	}
	if cfg.MemorySearchLimit, err = s.integer("MEMORY_SEARCH_LIMIT", 3); err != nil {
		return Config{}, err
	}
	if cfg.MemoryWriteAttempts, err = s.integer("MEMORY_WRITE_ATTEMPTS", 1); err != nil {
		return Config{}, err
	}
	if cfg.MemoryRedactPII, err = s.boolean("MEMORY_REDACT_PII", false); err != nil {
		return Config{}, err
	}
	cacheSize, err := s.integer("EMBED_CACHE_SIZE", 4096)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedCacheSize = int64(cacheSize)
	if cfg.EmbedCacheTTL, err = s.duration("EMBED_CACHE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("APP_REQUEST_TIMEOUT must be positive")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.MemoryEmbeddingDim <= 0 {
		return fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if c.MemorySearchLimit <= 0 {
		return fmt.Errorf("MEMORY_SEARCH_LIMIT must be positive")
	}
	if c.MemoryWriteAttempts <= 0 {
		return fmt.Errorf("MEMORY_WRITE_ATTEMPTS must be positive")
	}
	if c.EmbedCacheSize < 0 {
		return fmt.Errorf("EMBED_CACHE_SIZE must be >= 0")
	}
	switch strings.ToLower(c.MemoryBackend) {
	case "auto", "inmemory", "chromem", "postgres":
	default:
		return fmt.Errorf("invalid MEMORY_BACKEND: %q (expected auto|inmemory|chromem|postgres)", c.MemoryBackend)
	}
	if strings.EqualFold(c.MemoryBackend, "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("MEMORY_BACKEND=postgres requires DATABASE_URL")
	}
	return nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) stringOr(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) float(key string, fallback float64) (float64, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.lookup(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
