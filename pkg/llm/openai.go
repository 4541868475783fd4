package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// DefaultBaseURL is used when no OpenAI-compatible base URL is configured
const DefaultBaseURL = "https://api.openai.com/v1"

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// chatClient is the part of *azopenai.Client the selector uses
type chatClient interface {
	GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error)
}

// OpenAISelector selects tools with an OpenAI-compatible chat completions
// endpoint
type OpenAISelector struct {
	client chatClient
	model  string
	logger logging.Logger
}

// NewOpenAISelector validates cfg and creates a selector for its base URL
// and model
func NewOpenAISelector(cfg config.OpenAIConfig, logger logging.Logger) (*OpenAISelector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client, err := azopenai.NewClientForOpenAI(baseURL, azcore.NewKeyCredential(cfg.APIKey), nil)
	if err != nil {
		return nil, mcperrors.LLMError("client setup", err)
	}
	return newOpenAISelector(client, cfg.Model, logger), nil
}

func newOpenAISelector(client chatClient, model string, logger logging.Logger) *OpenAISelector {
	return &OpenAISelector{
		client: client,
		model:  model,
		logger: logger.WithFields(logging.String("component", "llm"), logging.String("model", model)),
	}
}

// SelectTools sends prompt (after system, if set) with tools offered as
// functions and returns the model's tool calls or reply
func (s *OpenAISelector) SelectTools(ctx context.Context, prompt, system string, tools []protocol.Tool) (*Selection, error) {
	var messages []azopenai.ChatRequestMessageClassification
	if system != "" {
		messages = append(messages, &azopenai.ChatRequestSystemMessage{
			Content: azopenai.NewChatRequestSystemMessageContent(system),
		})
	}
	messages = append(messages, &azopenai.ChatRequestUserMessage{
		Content: azopenai.NewChatRequestUserMessageContent(prompt),
	})

	s.logger.Info("Sending user input to OpenAI with tools", logging.Int("tools", len(tools)))
	resp, err := s.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(s.model),
		Messages:       messages,
		Tools:          ToolDefinitions(tools),
	}, nil)
	if err != nil {
		s.logger.Error("Error calling OpenAI API", logging.ErrorField(err))
		return nil, mcperrors.LLMError("tool selection", err)
	}

	selection, err := selectionFrom(resp.ChatCompletions)
	if err != nil {
		return nil, mcperrors.LLMError("tool selection", err)
	}
	if selection.HasToolCalls() {
		s.logger.Info("LLM decided to call tools", logging.Int("count", len(selection.ToolCalls)))
	} else {
		s.logger.Info("LLM decided not to call a tool")
	}
	return selection, nil
}

// ToolDefinitions converts MCP tools into function tool definitions. A tool
// without an input schema gets an empty object schema.
func ToolDefinitions(tools []protocol.Tool) []azopenai.ChatCompletionsToolDefinitionClassification {
	defs := make([]azopenai.ChatCompletionsToolDefinitionClassification, 0, len(tools))
	for _, t := range tools {
		params := []byte(t.InputSchema)
		if len(params) == 0 || string(params) == "null" {
			params = emptyObjectSchema
		}
		defs = append(defs, &azopenai.ChatCompletionsFunctionToolDefinition{
			Type: to.Ptr("function"),
			Function: &azopenai.ChatCompletionsFunctionToolDefinitionFunction{
				Name:        to.Ptr(t.Name),
				Description: to.Ptr(t.Description),
				Parameters:  params,
			},
		})
	}
	return defs
}

func selectionFrom(completions azopenai.ChatCompletions) (*Selection, error) {
	if len(completions.Choices) == 0 || completions.Choices[0].Message == nil {
		return nil, errors.New("no completion received from LLM")
	}
	msg := completions.Choices[0].Message

	selection := &Selection{}
	if msg.Content != nil {
		selection.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		call, ok := tc.(*azopenai.ChatCompletionsFunctionToolCall)
		if !ok || call.Function == nil || call.Function.Name == nil {
			continue
		}
		var args string
		if call.Function.Arguments != nil {
			args = *call.Function.Arguments
		}
		selection.ToolCalls = append(selection.ToolCalls, ToolCall{
			Name:      *call.Function.Name,
			Arguments: parseArguments(args),
		})
	}
	return selection, nil
}
