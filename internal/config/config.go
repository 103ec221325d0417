// Package config provides the configuration schema, loader, and local-model
// provider registry for the Sensai assistant router, plus a polling watcher
// for hot-reloadable settings.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Sensai server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] with YAML support for both "30m" strings and
// plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("config: duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Sensai.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tier1        Tier1Config        `yaml:"tier1"`
	Tier2        Tier2Config        `yaml:"tier2"`
	Tier3        Tier3Config        `yaml:"tier3"`
	Quota        QuotaConfig        `yaml:"quota"`
	Conversation ConversationConfig `yaml:"conversation"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Retry        RetryConfig        `yaml:"retry"`
	Persona      PersonaConfig      `yaml:"persona"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// Tier1Config configures the rule-based tier.
type Tier1Config struct {
	// Enabled registers the tier with the router.
	Enabled bool `yaml:"enabled"`

	// PatternsFile is a YAML pattern-set file extending the built-in
	// templates. Empty uses the built-in set.
	PatternsFile string `yaml:"patterns_file"`

	// TreesFile is a YAML decision-tree file replacing the built-in guided
	// dialogues. Empty uses the built-in trees.
	TreesFile string `yaml:"trees_file"`
}

// Tier2Config configures the local-model tier.
type Tier2Config struct {
	// Enabled registers the tier with the router.
	Enabled bool `yaml:"enabled"`

	// Provider selects the local backend registered in the [Registry],
	// e.g. "ollama", "llamacpp", "openai".
	Provider string `yaml:"provider"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against backends that require one.
	APIKey string `yaml:"api_key"`

	// SmallModel serves simple and moderate requests.
	SmallModel string `yaml:"small_model"`

	// LargeModel serves complex requests. Empty routes everything to
	// SmallModel.
	LargeModel string `yaml:"large_model"`

	// Temperature is forwarded to the backend. Zero uses its default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion length. Zero uses the client default.
	MaxTokens int `yaml:"max_tokens"`

	// Cache configures the two-layer response cache.
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig holds the local-model response cache settings.
type CacheConfig struct {
	// Dir is the on-disk cache directory. Empty disables the cache.
	Dir string `yaml:"dir"`

	// TTL is how long a cached response stays valid.
	TTL Duration `yaml:"ttl"`

	// MaxEntries bounds the in-memory layer.
	MaxEntries int `yaml:"max_entries"`

	// MaxBytes bounds the on-disk layer.
	MaxBytes int64 `yaml:"max_bytes"`
}

// Tier3Config configures the remote-model tier.
type Tier3Config struct {
	// Enabled registers the tier with the router.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the remote model service base URL.
	Endpoint string `yaml:"endpoint"`

	// Model is the remote model identifier, e.g. "anthropic.claude-3-haiku".
	Model string `yaml:"model"`

	// Temperature is forwarded to the service. Zero uses its default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion length. Zero uses the client default.
	MaxTokens int `yaml:"max_tokens"`

	// SigningKeyID and SigningSecret authenticate requests with the
	// HMAC request signer.
	SigningKeyID  string `yaml:"signing_key_id"`
	SigningSecret string `yaml:"signing_secret"`

	// BreakerMaxFailures trips the circuit breaker after this many
	// consecutive failures. Zero uses the breaker default.
	BreakerMaxFailures int `yaml:"breaker_max_failures"`

	// BreakerResetTimeout is how long the breaker stays open before
	// probing again. Zero uses the breaker default.
	BreakerResetTimeout Duration `yaml:"breaker_reset_timeout"`
}

// QuotaConfig holds the usage-ledger limits. A zero limit disables the
// corresponding check.
type QuotaConfig struct {
	// DailyTokenLimit caps successful tokens over a sliding 24h window.
	// -1 lifts the cap; 0 denies every remote call.
	DailyTokenLimit int `yaml:"daily_token_limit"`

	// HourlyRequestLimit caps dispatched requests over a sliding 1h window.
	// Same sentinel values as DailyTokenLimit.
	HourlyRequestLimit int `yaml:"hourly_request_limit"`

	// MonthlyCostLimit caps estimated spend over a sliding 30-day window.
	// Same sentinel values as DailyTokenLimit.
	MonthlyCostLimit float64 `yaml:"monthly_cost_limit"`

	// ModelRates maps model IDs to per-1K-token prices.
	ModelRates map[string]RateConfig `yaml:"model_rates"`

	// DefaultRate prices models absent from ModelRates.
	DefaultRate RateConfig `yaml:"default_rate"`

	// LedgerFile persists usage records as JSON lines. Empty keeps the
	// ledger in memory only.
	LedgerFile string `yaml:"ledger_file"`
}

// RateConfig is a per-1K-token price pair.
type RateConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// ConversationConfig holds multi-turn conversation settings.
type ConversationConfig struct {
	// MaxHistory bounds retained entries per conversation.
	MaxHistory int `yaml:"max_history"`

	// CleanupAge is the idle age after which conversations are collected.
	CleanupAge Duration `yaml:"cleanup_age"`

	// CleanupInterval is how often the collector runs.
	CleanupInterval Duration `yaml:"cleanup_interval"`

	// PostgresDSN selects the PostgreSQL store. Empty keeps conversations
	// in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// KnowledgeConfig configures the world-knowledge retrieval store that
// grounds model prompts in game lore.
type KnowledgeConfig struct {
	// PostgresDSN selects the pgvector-backed store. Empty disables
	// knowledge retrieval entirely.
	PostgresDSN string `yaml:"postgres_dsn"`

	// TopK is how many documents each prompt may include.
	TopK int `yaml:"top_k"`

	// Embeddings configures the query embedder.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig configures the embeddings backend used by the knowledge
// store.
type EmbeddingsConfig struct {
	// APIKey authenticates against the embeddings API.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// BaseURL overrides the default API endpoint, e.g. for a compatible
	// self-hosted server.
	BaseURL string `yaml:"base_url"`
}

// RetryConfig holds the shared backoff knobs for the model tiers.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the initial call.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the backoff before the first retry.
	BaseDelay Duration `yaml:"base_delay"`

	// MaxDelay caps the backoff growth.
	MaxDelay Duration `yaml:"max_delay"`

	// BackoffFactor multiplies the delay each attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// Jitter randomizes delays to avoid synchronized retry storms.
	Jitter bool `yaml:"jitter"`
}

// PersonaConfig holds response-styling settings.
type PersonaConfig struct {
	// ProfilesFile is a YAML NPC profile registry. Empty uses the
	// built-in profiles.
	ProfilesFile string `yaml:"profiles_file"`

	// Seed fixes the trait-sampling sequence. Useful for reproducible
	// test runs; production deployments usually leave it zero.
	Seed uint64 `yaml:"seed"`

	// MaxLength truncates responses at a sentence boundary near this many
	// characters. Zero uses the formatter default.
	MaxLength int `yaml:"max_length"`
}

// Default returns the configuration used when a setting is absent from the
// loaded file: all tiers enabled, modest local models, and conservative
// quota-free accounting.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Tier1: Tier1Config{Enabled: true},
		Tier2: Tier2Config{
			Enabled:    true,
			Provider:   "ollama",
			SmallModel: "phi",
			Cache: CacheConfig{
				TTL:        Duration(24 * time.Hour),
				MaxEntries: 1000,
				MaxBytes:   64 << 20,
			},
		},
		// Tier3 stays disabled until an endpoint is configured.
		Tier3: Tier3Config{},
		// Unlimited until the operator sets limits; an explicit 0 in the
		// file denies all remote calls.
		Quota: QuotaConfig{
			DailyTokenLimit:    -1,
			HourlyRequestLimit: -1,
			MonthlyCostLimit:   -1,
		},
		Conversation: ConversationConfig{
			MaxHistory:      20,
			CleanupAge:      Duration(24 * time.Hour),
			CleanupInterval: Duration(time.Hour),
		},
		Knowledge: KnowledgeConfig{
			TopK:       3,
			Embeddings: EmbeddingsConfig{Model: "text-embedding-3-small"},
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     Duration(time.Second),
			MaxDelay:      Duration(30 * time.Second),
			BackoffFactor: 2,
			Jitter:        true,
		},
	}
}
