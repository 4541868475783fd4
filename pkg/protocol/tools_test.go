package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallToolResultWireFormat(t *testing.T) {
	data, err := json.Marshal(NewTextResult("Sunny in Tokyo"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Sunny in Tokyo"}]}`, string(data))

	data, err = json.Marshal(NewErrorResult("Unknown tool: nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Unknown tool: nope"}],"isError":true}`, string(data))
}

func TestCallToolResultTexts(t *testing.T) {
	result := &CallToolResult{Content: []Content{
		TextContent("one"),
		{Type: "image"},
		TextContent("two"),
	}}

	assert.Equal(t, []string{"one", "two"}, result.Texts())
	assert.Equal(t, "one\ntwo", result.Text())

	var nilResult *CallToolResult
	assert.Empty(t, nilResult.Texts())
}

func TestInitializeResultDecoding(t *testing.T) {
	raw := `{
		"protocolVersion": "2024-11-05",
		"serverInfo": {"name": "MCP Error Handling Server", "version": "0.1.0"},
		"capabilities": {"tools": {"listChanged": true}}
	}`

	var result InitializeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "MCP Error Handling Server", result.ServerInfo.Name)
	require.NotNil(t, result.Capabilities.Tools)
	assert.True(t, result.Capabilities.Tools.ListChanged)
}

func TestListToolsResultDecoding(t *testing.T) {
	raw := `{"tools":[{"name":"get_weather","description":"Get weather information for a city",
		"inputSchema":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}]}`

	var result ListToolsResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "get_weather", result.Tools[0].Name)
	assert.Contains(t, string(result.Tools[0].InputSchema), `"required":["city"]`)
}
