// Package config loads runtime configuration from environment variables
// (optionally a .env file) with an optional YAML overlay for structured
// settings that don't fit cleanly into env vars (MCP server list, tool
// presets directory). Grounded on the teacher's internal/config package:
// same env-first precedence, same defaults-applied-after-parse shape.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ailoy/internal/aerr"
)

// ProviderConfig carries provider connection settings for one remote LLM
// backend (openai, gemini, claude, grok all share this shape per spec §4.6).
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	ExtraHeaders map[string]string
}

// ObsConfig mirrors observability.ObsConfig; kept separate so this package
// never needs to import observability just to populate it.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// EmbeddingConfig configures the HTTP-backed embedding client (C7).
type EmbeddingConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	APIHeader string
	Path      string
	TimeoutMS int
}

// VectorStoreConfig selects and configures the C7 vector store backend.
type VectorStoreConfig struct {
	Backend    string // "memory" | "qdrant"
	DSN        string
	Collection string
	Dimensions int
	Metric     string // "cosine" | "dot" | "euclidean"
}

// MCPServerConfig describes one MCP server registration read from YAML.
type MCPServerConfig struct {
	Name            string            `yaml:"name"`
	Command         string            `yaml:"command"`
	Args            []string          `yaml:"args"`
	Env             map[string]string `yaml:"env"`
	URL             string            `yaml:"url"`
	Headers         map[string]string `yaml:"headers"`
	BearerToken     string            `yaml:"bearerToken"`
	Origin          string            `yaml:"origin"`
	ProtocolVersion string            `yaml:"protocolVersion"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	CacheRoot     string
	ModelsURL     string
	CacheLedgerDSN string
	LogLevel      string
	LogPath       string

	LLMProvider string // "local" | "openai" | "gemini" | "claude" | "grok"
	OpenAI      ProviderConfig
	Gemini      ProviderConfig
	Claude      ProviderConfig
	Grok        ProviderConfig

	MaxSteps           int
	MaxToolParallelism int
	AgentRunTimeoutMS  int

	Obs ObsConfig

	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig

	MCPServers []MCPServerConfig
	PresetDir  string
}

// Load resolves Config from the environment (after loading .env if present)
// and an optional YAML overlay read from the path in AILOY_CONFIG, else
// ./ailoy.yaml, else ./ailoy.yml.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.CacheRoot = strings.TrimSpace(os.Getenv("AILOY_CACHE_ROOT"))
	cfg.ModelsURL = strings.TrimSpace(os.Getenv("AILOY_MODELS_URL"))
	cfg.CacheLedgerDSN = strings.TrimSpace(os.Getenv("AILOY_CACHE_LEDGER_DSN"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))

	cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	cfg.OpenAI.ExtraHeaders = parseHeaderList(os.Getenv("OPENAI_EXTRA_HEADERS"))

	cfg.Gemini.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY"))
	cfg.Gemini.BaseURL = strings.TrimSpace(os.Getenv("GOOGLE_LLM_BASE_URL"))
	cfg.Gemini.Model = strings.TrimSpace(os.Getenv("GOOGLE_LLM_MODEL"))
	cfg.Gemini.ExtraHeaders = parseHeaderList(os.Getenv("GOOGLE_LLM_EXTRA_HEADERS"))

	cfg.Claude.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Claude.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	cfg.Claude.Model = strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	cfg.Claude.ExtraHeaders = parseHeaderList(os.Getenv("ANTHROPIC_EXTRA_HEADERS"))

	cfg.Grok.APIKey = strings.TrimSpace(os.Getenv("GROK_API_KEY"))
	cfg.Grok.BaseURL = strings.TrimSpace(os.Getenv("GROK_BASE_URL"))
	cfg.Grok.Model = strings.TrimSpace(os.Getenv("GROK_MODEL"))
	cfg.Grok.ExtraHeaders = parseHeaderList(os.Getenv("GROK_EXTRA_HEADERS"))

	if v := strings.TrimSpace(os.Getenv("MAX_STEPS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_TOOL_PARALLELISM")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxToolParallelism = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_RUN_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentRunTimeoutMS = n
		}
	}

	cfg.Obs.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.APIHeader = strings.TrimSpace(os.Getenv("EMBED_API_HEADER"))
	cfg.Embedding.Path = strings.TrimSpace(os.Getenv("EMBED_PATH"))
	if v := strings.TrimSpace(os.Getenv("EMBED_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.TimeoutMS = n
		}
	}

	cfg.VectorStore.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")))
	cfg.VectorStore.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	cfg.VectorStore.Collection = strings.TrimSpace(os.Getenv("VECTOR_COLLECTION"))
	cfg.VectorStore.Metric = strings.ToLower(strings.TrimSpace(os.Getenv("VECTOR_METRIC")))
	if v := strings.TrimSpace(os.Getenv("VECTOR_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VectorStore.Dimensions = n
		}
	}

	cfg.PresetDir = strings.TrimSpace(os.Getenv("AILOY_PRESET_DIR"))

	if err := loadYAMLOverlay(&cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func loadYAMLOverlay(cfg *Config) error {
	var paths []string
	if p := strings.TrimSpace(os.Getenv("AILOY_CONFIG")); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "ailoy.yaml", "ailoy.yml")

	var data []byte
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			break
		}
		if os.IsNotExist(err) {
			continue
		}
		return aerr.Wrap(aerr.IO, err, "read config overlay %s", p)
	}
	if len(data) == 0 {
		return nil
	}

	var overlay struct {
		MCPServers []MCPServerConfig `yaml:"mcpServers"`
		PresetDir  string            `yaml:"presetDir"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return aerr.Wrap(aerr.Validation, err, "parse config overlay")
	}
	cfg.MCPServers = overlay.MCPServers
	if overlay.PresetDir != "" && cfg.PresetDir == "" {
		cfg.PresetDir = overlay.PresetDir
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = defaultCacheRoot()
	}
	if cfg.ModelsURL == "" {
		cfg.ModelsURL = "https://ailoy-assets.s3.ap-northeast-2.amazonaws.com"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "local"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	// MaxToolParallelism: 0 means unbounded, matching the teacher's convention.
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "ailoy"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "dev"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIHeader == "" {
		cfg.Embedding.APIHeader = "Authorization"
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/v1/embeddings"
	}
	if cfg.Embedding.TimeoutMS <= 0 {
		cfg.Embedding.TimeoutMS = 30_000
	}
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "memory"
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}
}

// parseHeaderList parses a "Key=Value,Key2=Value2" env var into a header
// map, the same shape the teacher's cfg.OpenAI.ExtraHeaders is built from.
// Malformed entries (no "=") are skipped rather than failing config load.
func parseHeaderList(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// defaultCacheRoot implements spec §4.2's platform-default resolution order.
func defaultCacheRoot() string {
	switch runtime.GOOS {
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			return filepath.Join(v, "ailoy")
		}
		return filepath.Join(os.TempDir(), "ailoy")
	default:
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(os.TempDir(), ".cache", "ailoy")
		}
		return filepath.Join(home, ".cache", "ailoy")
	}
}
