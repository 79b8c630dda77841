// Package config loads process-wide configuration for the retrieval pipeline
// from the environment, with an optional .env overlay for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EmbeddingConfig configures the HTTP embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	// Headers are sent verbatim in addition to APIHeader/APIKey, for
	// endpoints that need more than one auth/identification header. If a
	// key here also matches APIHeader, Headers wins and the legacy
	// APIHeader/APIKey pair is not applied for that header name.
	Headers   map[string]string
	Timeout   int // seconds
	Dimension int
	BatchSize int
	// RateLimitRPS bounds sustained requests/second against the embedding
	// endpoint (token-bucket; 0 disables limiting).
	RateLimitRPS float64
	// MaxRetries bounds the bounded exponential-backoff retry loop on
	// transient embedding failures.
	MaxRetries int
}

// VectorConfig configures the Qdrant-backed vector index client.
type VectorConfig struct {
	DSN        string
	Collection string
	Dimension  int
	Metric     string
	// HealthProbeInterval governs how often the client re-probes the
	// connection and reconnects on persistent failure.
	HealthProbeInterval time.Duration
}

// RelationalConfig configures the Postgres metadata/full-text store.
type RelationalConfig struct {
	DSN string
}

// CacheConfig configures the optional Redis-backed cache used by the
// meta-search client.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	// LRUSize bounds the in-process fallback cache.
	LRUSize int
}

// CrawlerConfig configures the web crawler.
type CrawlerConfig struct {
	Production       bool // when true, loopback/RFC-1918 targets are refused
	FetchTimeout      time.Duration
	HeadlessTimeout   time.Duration
	MaxContentBytes   int64
	MaxConcurrency    int
	UserAgent         string
}

// MetaSearchConfig configures the meta-search client.
type MetaSearchConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxResults  int
	CacheTTL    time.Duration
	NewsTTL     time.Duration
	// RateLimitRPS bounds sustained requests/second against the aggregator
	// backend, guarding against the sub-query fanout (up to 8 concurrent
	// searches) overwhelming a single SearXNG instance. 0 disables
	// limiting.
	RateLimitRPS float64
}

// LLMConfig names which provider backs the LLM collaborator contract.
type LLMConfig struct {
	Provider  string // "anthropic" | "openai" | "google"
	Model     string
	APIKey    string
}

// AnthropicPromptCacheConfig controls prompt-cache breakpoint placement for
// the Anthropic client.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic messages-API client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// OpenAIConfig configures the OpenAI-compatible client, which also serves
// self-hosted OpenAI-protocol endpoints (api="completions") via "local".
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	API         string // "completions" | "responses"
	ExtraParams map[string]any
	LogPayloads bool
}

// GoogleConfig configures the Gemini client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// LLMClientConfig selects and configures the concrete llm.Provider used by
// the research graph and the request enricher.
type LLMClientConfig struct {
	Provider  string // "", "openai", "local", "anthropic", "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// EncryptionConfig configures the field-level envelope service.
type EncryptionConfig struct {
	KeyFilePath   string
	BackupPath    string
	BackupPassphrase string
}

// Config is the top-level process configuration, loaded once at boot and
// passed down by value/pointer to the components that need it -- no global
// mutable config lookups.
type Config struct {
	Embedding   EmbeddingConfig
	Vector      VectorConfig
	Relational  RelationalConfig
	Cache       CacheConfig
	Crawler     CrawlerConfig
	MetaSearch  MetaSearchConfig
	LLM         LLMConfig
	LLMClient   LLMClientConfig
	Encryption  EncryptionConfig

	LogPath  string
	LogLevel string

	// RequestTimeout is the default suspension-point timeout applied
	// when a component-specific timeout is not configured.
	RequestTimeout time.Duration
}

// Load reads configuration from the environment, applying a .env overlay
// (godotenv.Overload, so repo-local env files win during development).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Embedding: EmbeddingConfig{
			BaseURL:   firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://localhost:8080"),
			Path:      firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings"),
			Model:     firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
			APIKey:    os.Getenv("EMBEDDING_API_KEY"),
			APIHeader: firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization"),
			Timeout:      envInt("EMBEDDING_TIMEOUT_SECONDS", 30),
			Dimension:    envInt("EMBEDDING_DIMENSION", 1536),
			BatchSize:    envInt("EMBEDDING_BATCH_SIZE", 10),
			RateLimitRPS: envFloat("EMBEDDING_RATE_LIMIT_RPS", 5),
			MaxRetries:   envInt("EMBEDDING_MAX_RETRIES", 3),
		},
		Vector: VectorConfig{
			DSN:                 firstNonEmpty(os.Getenv("QDRANT_DSN"), "http://localhost:6334"),
			Collection:          firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "documents"),
			Dimension:           envInt("EMBEDDING_DIMENSION", 1536),
			Metric:              firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
			HealthProbeInterval: envSeconds("QDRANT_HEALTH_PROBE_SECONDS", 30) * time.Second,
		},
		Relational: RelationalConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Cache: CacheConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
			LRUSize:  envInt("SEARCH_CACHE_LRU_SIZE", 1000),
		},
		Crawler: CrawlerConfig{
			Production:      strings.EqualFold(os.Getenv("APP_ENV"), "production"),
			FetchTimeout:    envSeconds("CRAWL_FETCH_TIMEOUT_SECONDS", 10) * time.Second,
			HeadlessTimeout: envSeconds("CRAWL_HEADLESS_TIMEOUT_SECONDS", 20) * time.Second,
			MaxContentBytes: int64(envInt("CRAWL_MAX_CONTENT_BYTES", 5*1024*1024)),
			MaxConcurrency:  envInt("CRAWL_MAX_CONCURRENCY", 5),
			UserAgent:       firstNonEmpty(os.Getenv("CRAWL_USER_AGENT"), "et-bot"),
		},
		MetaSearch: MetaSearchConfig{
			BaseURL:      firstNonEmpty(os.Getenv("SEARXNG_BASE_URL"), "http://localhost:8888"),
			Timeout:      envSeconds("SEARXNG_TIMEOUT_SECONDS", 10) * time.Second,
			MaxResults:   envInt("SEARXNG_MAX_RESULTS", 10),
			CacheTTL:     envSeconds("SEARXNG_CACHE_TTL_SECONDS", 3600) * time.Second,
			NewsTTL:      envSeconds("SEARXNG_NEWS_CACHE_TTL_SECONDS", 900) * time.Second,
			RateLimitRPS: envFloat("SEARXNG_RATE_LIMIT_RPS", 4),
		},
		LLM: LLMConfig{
			Provider: firstNonEmpty(os.Getenv("LLM_PROVIDER"), "anthropic"),
			Model:    os.Getenv("LLM_MODEL"),
			APIKey:   os.Getenv("LLM_API_KEY"),
		},
		LLMClient: LLMClientConfig{
			Provider: firstNonEmpty(os.Getenv("LLM_PROVIDER"), "anthropic"),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				Model:   firstNonEmpty(os.Getenv("OPENAI_MODEL"), os.Getenv("LLM_MODEL")),
			},
			Anthropic: AnthropicConfig{
				APIKey:  firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("LLM_API_KEY")),
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
				Model:   firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), os.Getenv("LLM_MODEL"), "claude-sonnet-4-5"),
				PromptCache: AnthropicPromptCacheConfig{
					Enabled:     strings.EqualFold(os.Getenv("ANTHROPIC_PROMPT_CACHE"), "true"),
					CacheSystem: true,
					CacheTools:  true,
				},
			},
			Google: GoogleConfig{
				APIKey:  firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("LLM_API_KEY")),
				BaseURL: os.Getenv("GOOGLE_BASE_URL"),
				Model:   firstNonEmpty(os.Getenv("GOOGLE_MODEL"), os.Getenv("LLM_MODEL"), "gemini-1.5-flash"),
				Timeout: envInt("GOOGLE_TIMEOUT_SECONDS", 30),
			},
		},
		Encryption: EncryptionConfig{
			KeyFilePath:      firstNonEmpty(os.Getenv("ENCRYPTION_KEY_FILE"), "./data/master.key"),
			BackupPath:       firstNonEmpty(os.Getenv("ENCRYPTION_KEY_BACKUP_FILE"), "./data/master.key.bak"),
			BackupPassphrase: os.Getenv("ENCRYPTION_KEY_BACKUP_PASSPHRASE"),
		},
		LogPath:        os.Getenv("LOG_PATH"),
		LogLevel:       firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		RequestTimeout: envSeconds("DEFAULT_REQUEST_TIMEOUT_SECONDS", 30) * time.Second,
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def))
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
