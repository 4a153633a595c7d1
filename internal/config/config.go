// Package config handles loading and validating orderdesk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/orderdesk/internal/storage"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for orderdesk.
type Config struct {
	OrderStore    OrderStoreConfig     `json:"order_store" yaml:"order_store"`
	Assistant     AssistantConfig      `json:"assistant" yaml:"assistant"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// OrderStoreConfig configures both sides of the order store: the server
// (listen address, storage, events) and the client used by the assistant.
type OrderStoreConfig struct {
	ListenAddr     string          `json:"listen_addr" yaml:"listen_addr"`         // Server. Default: ":5001".
	BaseURL        string          `json:"base_url" yaml:"base_url"`               // Client. Default: "http://127.0.0.1:5001". Override: ORDERDESK_STORE_URL.
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"` // Client. Default: 10.
	Seed           *bool           `json:"seed,omitempty" yaml:"seed,omitempty"`   // Insert demo orders on start. Default: true.
	EnableDocs     bool            `json:"enable_docs" yaml:"enable_docs"`
	Storage        *storage.Config `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite at ./data/orders.db
	Events         *EventsConfig   `json:"events,omitempty" yaml:"events,omitempty"`   // nil = events disabled
}

// StoreListenAddr returns the server listen address with a default of ":5001".
func (o *OrderStoreConfig) StoreListenAddr() string {
	if o != nil && o.ListenAddr != "" {
		return o.ListenAddr
	}
	return ":5001"
}

// StoreBaseURL returns the client base URL.
func (o *OrderStoreConfig) StoreBaseURL() string {
	if o != nil && o.BaseURL != "" {
		return strings.TrimRight(o.BaseURL, "/")
	}
	return "http://127.0.0.1:5001"
}

// Timeout returns the per-call client timeout with a default of 10s.
func (o *OrderStoreConfig) Timeout() time.Duration {
	if o != nil && o.TimeoutSeconds > 0 {
		return time.Duration(o.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// SeedEnabled reports whether demo orders are inserted on start.
func (o *OrderStoreConfig) SeedEnabled() bool {
	if o == nil || o.Seed == nil {
		return true
	}
	return *o.Seed
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (o *OrderStoreConfig) StorageDriver() string {
	if o != nil && o.Storage != nil && o.Storage.Driver != "" {
		return o.Storage.Driver
	}
	return storage.DefaultDriver
}

// EventsConfig configures order lifecycle event publishing to Kafka.
type EventsConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Brokers      []string `json:"brokers" yaml:"brokers"` // Override: ORDERDESK_KAFKA_BROKERS (comma separated).
	Topic        string   `json:"topic" yaml:"topic"`     // Default: "orders.events".
	WriteTimeout int      `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// EventsTopic returns the topic with a default of "orders.events".
func (e *EventsConfig) EventsTopic() string {
	if e != nil && e.Topic != "" {
		return e.Topic
	}
	return "orders.events"
}

// AssistantConfig configures the conversational front-end.
type AssistantConfig struct {
	MaxIterations     int    `json:"max_iterations" yaml:"max_iterations"`           // Agent loop bound. Default: 5.
	MaxToolsPerTurn   int    `json:"max_tools_per_turn" yaml:"max_tools_per_turn"`   // Default: 1.
	MaxHistory        int    `json:"max_history" yaml:"max_history"`                 // Messages kept per session. Default: 40.
	SessionTTLMinutes int    `json:"session_ttl_minutes" yaml:"session_ttl_minutes"` // Idle sessions are reaped after this. Default: 60.
	ReapSchedule      string `json:"reap_schedule" yaml:"reap_schedule"`             // Cron spec. Default: "@every 5m".
	MaxTokens         int    `json:"max_tokens" yaml:"max_tokens"`                   // Per LLM response. Default: 1024.
	SummarizeHistory  bool   `json:"summarize_history" yaml:"summarize_history"`     // Compress old turns instead of dropping them.
	SystemPrompt      string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Iterations returns the agent loop bound with a default of 5.
func (a *AssistantConfig) Iterations() int {
	if a != nil && a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return 5
}

// ToolsPerTurn returns the per-turn tool budget with a default of 1.
func (a *AssistantConfig) ToolsPerTurn() int {
	if a != nil && a.MaxToolsPerTurn > 0 {
		return a.MaxToolsPerTurn
	}
	return 1
}

// HistoryLimit returns the per-session history cap with a default of 40.
func (a *AssistantConfig) HistoryLimit() int {
	if a != nil && a.MaxHistory > 0 {
		return a.MaxHistory
	}
	return 40
}

// SessionTTL returns the idle session lifetime with a default of 1h.
func (a *AssistantConfig) SessionTTL() time.Duration {
	if a != nil && a.SessionTTLMinutes > 0 {
		return time.Duration(a.SessionTTLMinutes) * time.Minute
	}
	return time.Hour
}

// ReapSpec returns the reaper cron spec with a default of "@every 5m".
func (a *AssistantConfig) ReapSpec() string {
	if a != nil && a.ReapSchedule != "" {
		return a.ReapSchedule
	}
	return "@every 5m"
}

// ResponseTokens returns the max tokens per response with a default of 1024.
func (a *AssistantConfig) ResponseTokens() int {
	if a != nil && a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return 1024
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "orderdesk"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures error-rate anomaly detection on LLM and order store calls.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// GatewaysConfig configures the user-facing surfaces of the assistant.
type GatewaysConfig struct {
	CLI  *CLIGatewayConfig  `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// CLIGatewayConfig configures the interactive CLI gateway.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	SSE                 bool              `json:"sse" yaml:"sse"` // Enable SSE streaming endpoint.
}

// RateLimitConfig configures per-user rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

type ProvidersConfig struct {
	Default  string       `json:"default" yaml:"default"`                       // "openai" or "ollama". Empty = "openai".
	Fallback []string     `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama   OllamaConfig `json:"ollama" yaml:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultConfigPath returns the default config file path (~/.orderdesk/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/orderdesk.yaml"
	}
	return filepath.Join(home, ".orderdesk", "config.yaml")
}

// Default returns a configuration usable by the order store without a file:
// SQLite with demo data. Environment overrides are applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyEnv()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and connection strings can be set in the config file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadStore is Load for the order store server, which needs no LLM provider.
func LoadStore(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.ApplyEnv()
	return &cfg, nil
}

// ApplyEnv applies environment variable overrides.
func (c *Config) ApplyEnv() {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envURL := os.Getenv("ORDERDESK_STORE_URL"); envURL != "" {
		c.OrderStore.BaseURL = envURL
	}
	if envDSN := os.Getenv("ORDERDESK_DB_DSN"); envDSN != "" {
		if c.OrderStore.Storage == nil {
			c.OrderStore.Storage = &storage.Config{Driver: storage.DriverPostgres}
		}
		c.OrderStore.Storage.Postgres.DSN = envDSN
	}
	if envBrokers := os.Getenv("ORDERDESK_KAFKA_BROKERS"); envBrokers != "" {
		if c.OrderStore.Events == nil {
			c.OrderStore.Events = &EventsConfig{Enabled: true}
		}
		c.OrderStore.Events.Brokers = splitList(envBrokers)
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	for _, name := range c.Providers.Fallback {
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("providers.fallback: %w", err)
		}
	}
	if a := c.Assistant; a.MaxIterations < 0 || a.MaxToolsPerTurn < 0 || a.SessionTTLMinutes < 0 || a.MaxHistory < 0 {
		return fmt.Errorf("assistant limits must not be negative")
	}
	return c.ValidateStore()
}

// ValidateStore checks the order_store section.
func (c *Config) ValidateStore() error {
	if c.OrderStore.TimeoutSeconds < 0 {
		return fmt.Errorf("order_store.timeout_seconds must not be negative")
	}
	if u := c.OrderStore.BaseURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("order_store.base_url %q must start with http:// or https://", u)
	}

	// Storage driver validation.
	switch c.OrderStore.StorageDriver() {
	case storage.DriverMemory, storage.DriverSQLite:
		// valid
	case storage.DriverPostgres:
		if c.OrderStore.Storage.Postgres.DSN == "" {
			return fmt.Errorf("order_store.storage.postgres.dsn is required (set ORDERDESK_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("order_store.storage.driver %q is not supported (use memory, sqlite or postgres)", c.OrderStore.StorageDriver())
	}

	if ev := c.OrderStore.Events; ev != nil && ev.Enabled && len(ev.Brokers) == 0 {
		return fmt.Errorf("order_store.events.brokers must contain at least one broker when enabled")
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("provider %q is not supported (use openai or ollama)", name)
	}
	return nil
}
