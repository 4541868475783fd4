package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
)

// DefaultEnvFile is read from the working directory when present
const DefaultEnvFile = ".env"

// CourseBaseURL is the OpenAI-compatible endpoint students are given
const CourseBaseURL = "http://aitools.cs.vt.edu:7860/openai/v1"

// EnvTemplate is printed when no API key is configured
const EnvTemplate = `OPENAI_API_KEY=your-api-key
OPENAI_BASE_URL=https://api.openai.com/v1
OPENAI_MODEL=gpt-4o
`

var passwordPattern = regexp.MustCompile(`^[0-9]{4}$`)

// GenerateAPIKey derives a student API key as base64("name:password"). The
// password must be exactly four digits.
func GenerateAPIKey(name, password string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", mcperrors.ConfigError("name", "student name is required")
	}
	if !passwordPattern.MatchString(password) {
		return "", mcperrors.ConfigError("password", "Password must be exactly 4 digits")
	}
	return base64.StdEncoding.EncodeToString([]byte(name + ":" + password)), nil
}

// RenderEnvFile returns .env contents for apiKey
func RenderEnvFile(apiKey, baseURL, model string) string {
	if baseURL == "" {
		baseURL = CourseBaseURL
	}
	if model == "" {
		model = "gpt-4o"
	}
	return fmt.Sprintf("%s=%s\n%s=%s\n%s=%s\n",
		KeyOpenAIAPIKey, apiKey,
		KeyOpenAIBaseURL, baseURL,
		KeyOpenAIModel, model)
}

// WriteEnvFile writes .env contents for apiKey to path, replacing any
// existing file.
func WriteEnvFile(path, apiKey, baseURL, model string) error {
	if err := os.WriteFile(path, []byte(RenderEnvFile(apiKey, baseURL, model)), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
