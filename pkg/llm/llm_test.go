package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

type fakeChat struct {
	resp azopenai.GetChatCompletionsResponse
	err  error
	got  azopenai.ChatCompletionsOptions
}

func (f *fakeChat) GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error) {
	f.got = body
	return f.resp, f.err
}

func respond(msg *azopenai.ChatResponseMessage) azopenai.GetChatCompletionsResponse {
	var resp azopenai.GetChatCompletionsResponse
	resp.Choices = []azopenai.ChatChoice{{Message: msg}}
	return resp
}

func functionCall(name, args string) *azopenai.ChatCompletionsFunctionToolCall {
	return &azopenai.ChatCompletionsFunctionToolCall{
		ID:       to.Ptr("call_" + name),
		Type:     to.Ptr("function"),
		Function: &azopenai.FunctionCall{Name: to.Ptr(name), Arguments: to.Ptr(args)},
	}
}

var testTools = []protocol.Tool{
	{Name: "get_time", Description: "Returns the current time in the specified timezone", InputSchema: json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`)},
	{Name: "get_weather", Description: "Get weather information for a city"},
}

func TestSelectToolsReturnsToolCalls(t *testing.T) {
	chat := &fakeChat{resp: respond(&azopenai.ChatResponseMessage{
		ToolCalls: []azopenai.ChatCompletionsToolCallClassification{
			functionCall("get_weather", `{"city": "Sydney"}`),
			functionCall("get_time", `{"timezone": "Australia/Sydney"}`),
		},
	})}
	s := newOpenAISelector(chat, "gpt-4o", logging.NewNop())

	sel, err := s.SelectTools(context.Background(), "What's the weather and time in Sydney, Australia?", "", testTools)
	require.NoError(t, err)
	require.True(t, sel.HasToolCalls())
	assert.Equal(t, []ToolCall{
		{Name: "get_weather", Arguments: map[string]interface{}{"city": "Sydney"}},
		{Name: "get_time", Arguments: map[string]interface{}{"timezone": "Australia/Sydney"}},
	}, sel.ToolCalls)

	assert.Equal(t, "gpt-4o", *chat.got.DeploymentName)
	require.Len(t, chat.got.Messages, 1)
	assert.IsType(t, &azopenai.ChatRequestUserMessage{}, chat.got.Messages[0])
	assert.Len(t, chat.got.Tools, 2)
}

func TestSelectToolsWithSystemMessage(t *testing.T) {
	chat := &fakeChat{resp: respond(&azopenai.ChatResponseMessage{Content: to.Ptr("It is noon.")})}
	s := newOpenAISelector(chat, "gpt-4o", logging.NewNop())

	sel, err := s.SelectTools(context.Background(), "What time is it?", "You are a helpful assistant", testTools)
	require.NoError(t, err)
	assert.False(t, sel.HasToolCalls())
	assert.Equal(t, "It is noon.", sel.Content)

	require.Len(t, chat.got.Messages, 2)
	assert.IsType(t, &azopenai.ChatRequestSystemMessage{}, chat.got.Messages[0])
	assert.IsType(t, &azopenai.ChatRequestUserMessage{}, chat.got.Messages[1])
}

func TestSelectToolsBadArgumentsBecomeEmpty(t *testing.T) {
	chat := &fakeChat{resp: respond(&azopenai.ChatResponseMessage{
		ToolCalls: []azopenai.ChatCompletionsToolCallClassification{
			functionCall("get_time", `{not json`),
			functionCall("get_weather", `["Tokyo"]`),
		},
	})}
	s := newOpenAISelector(chat, "gpt-4o", logging.NewNop())

	sel, err := s.SelectTools(context.Background(), "time?", "", testTools)
	require.NoError(t, err)
	require.Len(t, sel.ToolCalls, 2)
	assert.Empty(t, sel.ToolCalls[0].Arguments)
	assert.NotNil(t, sel.ToolCalls[0].Arguments)
	assert.Empty(t, sel.ToolCalls[1].Arguments)
}

func TestSelectToolsErrors(t *testing.T) {
	s := newOpenAISelector(&fakeChat{err: errors.New("401 unauthorized")}, "gpt-4o", logging.NewNop())
	_, err := s.SelectTools(context.Background(), "hi", "", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeLLMError))
	assert.Contains(t, err.Error(), "401 unauthorized")

	s = newOpenAISelector(&fakeChat{}, "gpt-4o", logging.NewNop())
	_, err = s.SelectTools(context.Background(), "hi", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion received from LLM")
}

func TestToolDefinitions(t *testing.T) {
	defs := ToolDefinitions(testTools)
	require.Len(t, defs, 2)

	timeDef, ok := defs[0].(*azopenai.ChatCompletionsFunctionToolDefinition)
	require.True(t, ok)
	assert.Equal(t, "function", *timeDef.Type)
	assert.Equal(t, "get_time", *timeDef.Function.Name)
	assert.JSONEq(t, string(testTools[0].InputSchema), string(timeDef.Function.Parameters))

	weatherDef := defs[1].(*azopenai.ChatCompletionsFunctionToolDefinition)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(weatherDef.Function.Parameters))
}

func TestNewOpenAISelectorRequiresKey(t *testing.T) {
	_, err := NewOpenAISelector(config.OpenAIConfig{Model: "gpt-4o"}, nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeLLMNotConfigured))

	_, err = NewOpenAISelector(config.OpenAIConfig{APIKey: config.PlaceholderAPIKey, Model: "gpt-4o"}, nil)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeLLMNotConfigured))

	s, err := NewOpenAISelector(config.OpenAIConfig{APIKey: "c2VjcmV0OjEyMzQ=", BaseURL: config.CourseBaseURL + "/", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestStaticSelector(t *testing.T) {
	s := &StaticSelector{Selection: &Selection{ToolCalls: []ToolCall{{Name: "get_time", Arguments: map[string]interface{}{}}}}}

	sel, err := s.SelectTools(context.Background(), "time please", "system", testTools)
	require.NoError(t, err)
	assert.Equal(t, "get_time", sel.ToolCalls[0].Name)

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, Request{Prompt: "time please", System: "system", Tools: []string{"get_time", "get_weather"}}, reqs[0])

	empty := &StaticSelector{}
	sel, err = empty.SelectTools(context.Background(), "x", "", nil)
	require.NoError(t, err)
	assert.False(t, sel.HasToolCalls())
}
