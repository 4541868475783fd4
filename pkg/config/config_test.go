package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(KeyOpenAIAPIKey, "")
	t.Setenv(KeyTransport, "")

	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, "localhost:8765", cfg.WSAddr)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, MemoryBackendInProcess, cfg.Memory.Backend)
	assert.Equal(t, "noop", cfg.Tracing.Exporter)
	assert.Empty(t, cfg.EnvFile)
	assert.Equal(t, "ws://localhost:8765", cfg.WebSocketURL())
}

func TestLoadEnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"OPENAI_API_KEY=from-file\nOPENAI_MODEL=gpt-4o-mini\nMCP_TRANSPORT=websocket\n"), 0o600))

	t.Setenv(KeyOpenAIAPIKey, "")
	t.Setenv(KeyTransport, "")
	t.Setenv(KeyOpenAIModel, "gpt-4.1")

	cfg, err := Load(viper.New(), envFile)
	require.NoError(t, err)

	assert.Equal(t, envFile, cfg.EnvFile)
	assert.Equal(t, "from-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.OpenAI.Model, "environment wins over .env")
	assert.Equal(t, TransportWebSocket, cfg.Transport)
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	t.Setenv(KeyTransport, "carrier-pigeon")
	_, err := Load(viper.New(), "")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryConfig))
}

func TestOpenAIValidate(t *testing.T) {
	err := OpenAIConfig{Model: "gpt-4o"}.Validate()
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeLLMNotConfigured))

	err = OpenAIConfig{APIKey: PlaceholderAPIKey, Model: "gpt-4o"}.Validate()
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeLLMNotConfigured))

	assert.NoError(t, OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o"}.Validate())
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey("steve72", "1234")
	require.NoError(t, err)
	assert.Equal(t, "c3RldmU3MjoxMjM0", key)

	for _, bad := range []string{"123", "12345", "abcd", ""} {
		_, err := GenerateAPIKey("steve72", bad)
		assert.Error(t, err, bad)
	}

	_, err = GenerateAPIKey(" ", "1234")
	assert.Error(t, err)
}

func TestWriteEnvFile(t *testing.T) {
	t.Setenv(KeyOpenAIAPIKey, "")
	t.Setenv(KeyOpenAIBaseURL, "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, WriteEnvFile(path, "abc", "", ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OPENAI_API_KEY=abc\nOPENAI_BASE_URL="+CourseBaseURL+"\nOPENAI_MODEL=gpt-4o\n", string(data))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.OpenAI.APIKey)
	assert.Equal(t, CourseBaseURL, cfg.OpenAI.BaseURL)
}
