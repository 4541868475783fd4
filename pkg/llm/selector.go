// Package llm asks a hosted chat-completions model which tools to call.
package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nowucca/introducing-mcp/pkg/protocol"
)

// ToolCall is one tool invocation chosen by the model
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Selection is the model's answer: tool calls, or plain content when it
// chose none
type Selection struct {
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Content   string     `json:"content,omitempty"`
}

// HasToolCalls reports whether the model chose at least one tool
func (s *Selection) HasToolCalls() bool {
	return s != nil && len(s.ToolCalls) > 0
}

// ToolSelector picks tools for a prompt. system may be empty.
type ToolSelector interface {
	SelectTools(ctx context.Context, prompt, system string, tools []protocol.Tool) (*Selection, error)
}

// Request records one SelectTools call made to a StaticSelector
type Request struct {
	Prompt string
	System string
	Tools  []string
}

// StaticSelector returns a fixed selection and records what it was asked.
// It stands in for a hosted model in tests and offline runs.
type StaticSelector struct {
	Selection *Selection
	Err       error

	mu       sync.Mutex
	requests []Request
}

// SelectTools implements ToolSelector
func (s *StaticSelector) SelectTools(ctx context.Context, prompt, system string, tools []protocol.Tool) (*Selection, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{Prompt: prompt, System: system, Tools: names})
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	if s.Selection == nil {
		return &Selection{}, nil
	}
	return s.Selection, nil
}

// Requests returns the calls made so far
func (s *StaticSelector) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// parseArguments decodes a tool call's JSON arguments. Anything that is not
// a JSON object becomes an empty map.
func parseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]interface{}{}
	}
	return args
}
