// Package exercises holds the catalog of teaching exercises. Each entry pairs
// a server definition (name and tool set) with the client flow that talks to
// it.
package exercises

import (
	"fmt"
	"strings"

	"github.com/nowucca/introducing-mcp/pkg/server"
	"github.com/nowucca/introducing-mcp/pkg/tools"
)

// Server names announced in the initialize result
const (
	ExampleServerName       = "MCP Example Server"
	TimeToolServerName      = "MCP Time Tool Server"
	ContextMemoryServerName = "MCP Context Memory Server"
	MultipleToolsServerName = "MCP Multiple Tools Server"
	ErrorHandlingServerName = "MCP Error Handling Server"
)

// LLMUse says whether a flow talks to the hosted model
type LLMUse int

const (
	LLMNone LLMUse = iota
	// LLMOptional flows use the model when one is configured and fall back
	// to a fixed set of calls otherwise
	LLMOptional
	LLMRequired
)

// Exercise is one catalog entry
type Exercise struct {
	ID          string
	Name        string
	Description string
	UserInput   bool
	Notes       string

	ServerName string
	LLM        LLMUse

	newTools func(opts ...tools.Option) []*tools.Tool
	flow     Flow
}

// Dir is the conventional "<id>-<name>" directory name
func (e Exercise) Dir() string {
	return e.ID + "-" + e.Name
}

// Tools builds the exercise's tool registry
func (e Exercise) Tools(opts ...tools.Option) *tools.Registry {
	return tools.NewRegistry(e.newTools(opts...)...)
}

// NewServer builds the exercise server. opts are applied after the name and
// tool set, so they may override either.
func (e Exercise) NewServer(toolOpts []tools.Option, opts ...server.Option) *server.Server {
	base := []server.Option{
		server.WithName(e.ServerName),
		server.WithTools(e.Tools(toolOpts...)),
	}
	return server.New(append(base, opts...)...)
}

var catalog = []Exercise{
	{
		ID:          "00",
		Name:        "advertise-tool",
		Description: "Demonstrates how MCP servers advertise tools to clients",
		Notes:       "Shows both raw JSON-RPC messages and high-level SDK implementation",
		ServerName:  ExampleServerName,
		newTools: func(opts ...tools.Option) []*tools.Tool {
			return []*tools.Tool{tools.NewGetFormattedTime(tools.DefaultDateTimeFormat, opts...)}
		},
		flow: advertiseFlow,
	},
	{
		ID:          "01",
		Name:        "invoke-time-tool",
		Description: "Shows how to invoke a simple time tool",
		Notes:       "Demonstrates basic tool invocation",
		ServerName:  TimeToolServerName,
		newTools:    clockTools,
		flow:        invokeTimeFlow,
	},
	{
		ID:          "02",
		Name:        "llm-client",
		Description: "Demonstrates how an LLM can decide whether to call MCP tools",
		UserInput:   true,
		Notes: "Requires OpenAI API key in .env file. Try asking 'What time is it?' or 'Can you tell me the current time?' to trigger tool use. " +
			"Try 'What time is it in 24-hour format?' to see tool parameters. " +
			"Try 'Tell me a joke' or 'What is the capital of France?' to see direct LLM response.",
		ServerName: TimeToolServerName,
		LLM:        LLMRequired,
		newTools:   clockTools,
		flow:       llmClientFlow,
	},
	{
		ID:          "03",
		Name:        "context-memory",
		Description: "Shows how to maintain context between tool calls",
		UserInput:   true,
		Notes: "Demonstrates stateful conversations with tools. Try asking 'What is the time?' to see memory in action (automatically uses America/New_York timezone). " +
			"Try 'What is the time in San Francisco?' to see city name mapping. Try 'What time is it in Chicago?' for another city example. " +
			"Try 'What's the current time in UTC+2?' to see explicit timezone handling.",
		ServerName: ContextMemoryServerName,
		LLM:        LLMRequired,
		newTools: func(opts ...tools.Option) []*tools.Tool {
			return []*tools.Tool{tools.NewGetTime(opts...)}
		},
		flow: contextMemoryFlow,
	},
	{
		ID:          "04",
		Name:        "multiple-tools",
		Description: "Demonstrates using multiple tools in a single server",
		UserInput:   true,
		Notes: "Shows how to organize and manage multiple tools. Try asking 'What is the time in Tokyo?' or 'Tell me the current time in London' to use the time tool. " +
			"Try asking 'What is the weather in Tokyo?' or 'How's the weather in New York?' to use the weather tool.",
		ServerName: MultipleToolsServerName,
		LLM:        LLMOptional,
		newTools:   multipleTools,
		flow:       multipleToolsFlow,
	},
	{
		ID:          "05",
		Name:        "agent-parallel",
		Description: "Shows how to run multiple agents in parallel",
		UserInput:   true,
		Notes:       "Demonstrates parallel execution of MCP agents",
		ServerName:  MultipleToolsServerName,
		newTools:    multipleTools,
		flow:        parallelFlow,
	},
	{
		ID:          "06",
		Name:        "error-handling",
		Description: "Demonstrates error handling with MCP tools",
		Notes:       "Shows how errors can be detected by MCP clients",
		ServerName:  ErrorHandlingServerName,
		newTools: func(opts ...tools.Option) []*tools.Tool {
			return []*tools.Tool{tools.NewGetError(opts...)}
		},
		flow: errorHandlingFlow,
	},
	{
		ID:          "06p",
		Name:        "agent-planning",
		Description: "Lets the LLM plan independent tool calls and runs them concurrently",
		Notes:       "Requires OpenAI API key in .env file. Plans the query \"" + PlanningQuery + "\"",
		ServerName:  MultipleToolsServerName,
		LLM:         LLMRequired,
		newTools:    multipleTools,
		flow:        planningFlow,
	},
}

func clockTools(opts ...tools.Option) []*tools.Tool {
	return []*tools.Tool{tools.NewGetFormattedTime(tools.DefaultClockFormat, opts...)}
}

func multipleTools(opts ...tools.Option) []*tools.Tool {
	return []*tools.Tool{tools.NewGetTime(opts...), tools.NewGetWeather(opts...)}
}

// Catalog returns every exercise in run order
func Catalog() []Exercise {
	out := make([]Exercise, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds an exercise by id. Ids are case-insensitive and a single
// digit is zero-padded, so "3" finds "03".
func Lookup(id string) (Exercise, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) == 1 {
		id = "0" + id
	}
	for _, e := range catalog {
		if e.ID == id || e.Dir() == id {
			return e, nil
		}
	}
	return Exercise{}, fmt.Errorf("exercise %s not found", id)
}
