// Package config loads exercise settings from defaults, an optional .env
// file, the environment and command line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
)

// Keys double as environment variable names and .env entries
const (
	KeyOpenAIAPIKey     = "OPENAI_API_KEY"
	KeyOpenAIBaseURL    = "OPENAI_BASE_URL"
	KeyOpenAIModel      = "OPENAI_MODEL"
	KeyTransport        = "MCP_TRANSPORT"
	KeyWSAddr           = "MCP_WS_ADDR"
	KeyLogLevel         = "MCP_LOG_LEVEL"
	KeyLogFormat        = "MCP_LOG_FORMAT"
	KeyTimeout          = "MCP_TIMEOUT"
	KeyMemoryBackend    = "MCP_MEMORY_BACKEND"
	KeyRedisAddr        = "MCP_REDIS_ADDR"
	KeyRedisPrefix      = "MCP_REDIS_PREFIX"
	KeyMetricsAddr      = "MCP_METRICS_ADDR"
	KeyTracingExporter  = "MCP_TRACING_EXPORTER"
	KeyTracingEndpoint  = "MCP_TRACING_ENDPOINT"
	KeyTracingSampleAll = "MCP_TRACING_SAMPLE_ALL"
)

// Transport names
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Memory backends
const (
	MemoryBackendInProcess = "memory"
	MemoryBackendRedis     = "redis"
)

// PlaceholderAPIKey is the value shipped in sample .env files
const PlaceholderAPIKey = "your-api-key"

// OpenAIConfig holds the hosted LLM settings
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Validate rejects a missing or placeholder API key
func (c OpenAIConfig) Validate() error {
	switch strings.TrimSpace(c.APIKey) {
	case "":
		return mcperrors.LLMNotConfigured("OPENAI_API_KEY is empty")
	case PlaceholderAPIKey:
		return mcperrors.LLMNotConfigured("OPENAI_API_KEY still holds the placeholder value")
	}
	if c.Model == "" {
		return mcperrors.ConfigError(KeyOpenAIModel, "model must not be empty")
	}
	return nil
}

// MemoryConfig selects the context memory store
type MemoryConfig struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
}

// TracingConfig selects the trace exporter
type TracingConfig struct {
	Exporter  string
	Endpoint  string
	SampleAll bool
}

// Config is the complete settings for one client or server process
type Config struct {
	OpenAI      OpenAIConfig
	Transport   string
	WSAddr      string
	LogLevel    string
	LogFormat   string
	Timeout     time.Duration
	Memory      MemoryConfig
	MetricsAddr string
	Tracing     TracingConfig

	// EnvFile is the .env file that was read, empty if none was found
	EnvFile string
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOpenAIAPIKey, "")
	v.SetDefault(KeyOpenAIBaseURL, "")
	v.SetDefault(KeyOpenAIModel, "gpt-4o")
	v.SetDefault(KeyTransport, TransportStdio)
	v.SetDefault(KeyWSAddr, "localhost:8765")
	v.SetDefault(KeyLogLevel, "debug")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyTimeout, 10*time.Second)
	v.SetDefault(KeyMemoryBackend, MemoryBackendInProcess)
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPrefix, "mcp:memory:")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyTracingExporter, "noop")
	v.SetDefault(KeyTracingEndpoint, "")
	v.SetDefault(KeyTracingSampleAll, true)
}

// Load reads envFile (if it exists) and the environment into v and returns
// the resulting Config. Flags should already be bound to v.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading env file %s: %w", envFile, err)
			}
			cfg.EnvFile = envFile
		}
	}

	v.AutomaticEnv()

	cfg.OpenAI = OpenAIConfig{
		APIKey:  v.GetString(KeyOpenAIAPIKey),
		BaseURL: v.GetString(KeyOpenAIBaseURL),
		Model:   v.GetString(KeyOpenAIModel),
	}
	cfg.Transport = strings.ToLower(v.GetString(KeyTransport))
	cfg.WSAddr = v.GetString(KeyWSAddr)
	cfg.LogLevel = v.GetString(KeyLogLevel)
	cfg.LogFormat = v.GetString(KeyLogFormat)
	cfg.Timeout = v.GetDuration(KeyTimeout)
	cfg.Memory = MemoryConfig{
		Backend:     strings.ToLower(v.GetString(KeyMemoryBackend)),
		RedisAddr:   v.GetString(KeyRedisAddr),
		RedisPrefix: v.GetString(KeyRedisPrefix),
	}
	cfg.MetricsAddr = v.GetString(KeyMetricsAddr)
	cfg.Tracing = TracingConfig{
		Exporter:  strings.ToLower(v.GetString(KeyTracingExporter)),
		Endpoint:  v.GetString(KeyTracingEndpoint),
		SampleAll: v.GetBool(KeyTracingSampleAll),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings. The OpenAI key is validated
// separately since only the LLM exercises need it.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportWebSocket:
	default:
		return mcperrors.ConfigError(KeyTransport, fmt.Sprintf("unknown transport %q", c.Transport))
	}

	switch c.Memory.Backend {
	case MemoryBackendInProcess, MemoryBackendRedis:
	default:
		return mcperrors.ConfigError(KeyMemoryBackend, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend))
	}

	switch c.Tracing.Exporter {
	case "noop", "otlp-grpc", "otlp-http":
	default:
		return mcperrors.ConfigError(KeyTracingExporter, fmt.Sprintf("unknown exporter %q", c.Tracing.Exporter))
	}

	if c.Timeout <= 0 {
		return mcperrors.ConfigError(KeyTimeout, "timeout must be positive")
	}
	return nil
}

// WebSocketURL is the ws:// URL clients dial for WSAddr
func (c *Config) WebSocketURL() string {
	if strings.HasPrefix(c.WSAddr, "ws://") || strings.HasPrefix(c.WSAddr, "wss://") {
		return c.WSAddr
	}
	return "ws://" + c.WSAddr
}
