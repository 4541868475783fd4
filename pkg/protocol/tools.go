package protocol

import (
	"encoding/json"
	"strings"
)

// ContentTypeText is the only content type the mock tools produce
const ContentTypeText = "text"

// Tool describes a tool a server advertises
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsParams defines the (empty) parameters for tools/list
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult defines the response for tools/list
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams defines the parameters for tools/call
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Content is a single item of tool output
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent wraps text in a Content item
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// CallToolResult defines the response for tools/call
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// NewTextResult builds a successful single-item text result
func NewTextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{TextContent(text)}}
}

// NewErrorResult builds an isError result carrying text
func NewErrorResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{TextContent(text)}, IsError: true}
}

// Texts returns the text of every text content item, in order
func (r *CallToolResult) Texts() []string {
	if r == nil {
		return nil
	}
	texts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == ContentTypeText {
			texts = append(texts, c.Text)
		}
	}
	return texts
}

// Text joins the text content items with newlines
func (r *CallToolResult) Text() string {
	return strings.Join(r.Texts(), "\n")
}

// ToolsListChangedParams is carried by notifications/tools/list_changed
type ToolsListChangedParams struct{}
