package exercises

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nowucca/introducing-mcp/pkg/agent"
	"github.com/nowucca/introducing-mcp/pkg/client"
	"github.com/nowucca/introducing-mcp/pkg/config"
	mcperrors "github.com/nowucca/introducing-mcp/pkg/errors"
	"github.com/nowucca/introducing-mcp/pkg/llm"
	"github.com/nowucca/introducing-mcp/pkg/logging"
	"github.com/nowucca/introducing-mcp/pkg/memory"
	"github.com/nowucca/introducing-mcp/pkg/observability"
	"github.com/nowucca/introducing-mcp/pkg/protocol"
	"github.com/nowucca/introducing-mcp/pkg/tools"
)

const (
	// ContextMemorySystemPrompt steers the model towards get_time even when
	// no zone was named
	ContextMemorySystemPrompt = "You are a helpful assistant that provides the current time. " +
		"When asked about the time, always use the get_time tool, even if no timezone is specified. " +
		"The client will automatically fill in any missing parameters."

	// PlanningQuery is the fixed query of the agent planning exercise
	PlanningQuery = "What's the weather and time in Sydney, Australia?"

	// PromptText asks for the user's request
	PromptText = "What would you like the assistant to do? "

	boxWidth = 40
)

var (
	errNoTools = errors.New("no tools advertised by the server")

	heavyRule = strings.Repeat("=", agent.ReportWidth)
	lightRule = strings.Repeat("-", agent.ReportWidth)
)

// Env is everything a client flow needs besides its exercise
type Env struct {
	Client   *client.Client
	Out      io.Writer
	In       *bufio.Reader
	Selector llm.ToolSelector
	Memory   memory.Store
	Logger   logging.Logger
	Tracing  *observability.TracingProvider
	Metrics  observability.MetricsProvider
}

// Flow is the client side of an exercise, run on an initialized client
type Flow func(ctx context.Context, env *Env) error

// Run runs the exercise's client flow. Flows that require the model fail
// with an LLM-not-configured error, after printing setup help, when
// env.Selector is nil.
func (e Exercise) Run(ctx context.Context, env *Env) error {
	env.defaults()
	if e.LLM == LLMRequired && env.Selector == nil {
		PrintAPIKeyHelp(env.Out)
		return mcperrors.LLMNotConfigured("no tool selector configured")
	}
	env.Logger.Info("Starting MCP client", logging.String("exercise", e.Dir()))
	return e.flow(ctx, env)
}

func (env *Env) defaults() {
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.In == nil {
		env.In = bufio.NewReader(strings.NewReader(""))
	}
	if env.Logger == nil {
		env.Logger = logging.NewNop()
	}
	if env.Memory == nil {
		env.Memory = memory.NewInMemoryStore(nil)
	}
	if env.Tracing == nil {
		env.Tracing = observability.NewNoopTracing()
	}
	if env.Metrics == nil {
		env.Metrics = observability.NopMetrics{}
	}
}

// PrintAPIKeyHelp explains how to configure the hosted model
func PrintAPIKeyHelp(w io.Writer) {
	fmt.Fprintln(w, "\nERROR: OpenAI API key not set. Please set your API key in the .env file.")
	fmt.Fprintln(w, "Create a .env file with the following content:")
	fmt.Fprint(w, config.EnvTemplate)
	fmt.Fprintln(w)
}

// PrintBox prints text between 40-column rules, under heading when set
func PrintBox(w io.Writer, heading, text string) {
	rule := strings.Repeat("=", boxWidth)
	fmt.Fprintln(w, "\n"+rule)
	if heading != "" {
		fmt.Fprintln(w, heading)
	}
	fmt.Fprintln(w, text)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// listTools fetches and logs the advertised tools
func listTools(ctx context.Context, env *Env) ([]protocol.Tool, error) {
	env.Logger.Info("Requesting tool list...")
	list, err := env.Client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		env.Logger.Info("No tools advertised by the server")
		fmt.Fprintln(env.Out, "No tools were advertised by the server.")
		return nil, errNoTools
	}
	env.Logger.Info(fmt.Sprintf("Server advertised %d tools:", len(list)))
	for _, t := range list {
		env.Logger.Info("  - " + t.Name + ": " + t.Description)
	}
	return list, nil
}

func indentJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// prompt prints PromptText and reads one line
func prompt(env *Env) (string, error) {
	fmt.Fprint(env.Out, "\n"+PromptText)
	line, err := env.In.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("reading user input: %w", err)
	}
	line = strings.TrimSpace(line)
	env.Logger.Info("User input", logging.String("input", line))
	return line, nil
}

func advertiseFlow(ctx context.Context, env *Env) error {
	if _, err := listTools(ctx, env); err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}
	env.Logger.Info("Tool advertisement received successfully!")
	return nil
}

func invokeTimeFlow(ctx context.Context, env *Env) error {
	list, err := listTools(ctx, env)
	if err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}
	env.Logger.Info("Tool advertisement received successfully!")

	if !hasTool(list, tools.GetTimeName) {
		env.Logger.Warn("The get_time tool was not found in the server's tool list")
		return nil
	}

	env.Logger.Info("Calling the get_time tool...")
	res, err := env.Client.CallTool(ctx, tools.GetTimeName, map[string]interface{}{})
	if err != nil {
		return err
	}
	printResult(env, "", "Time tool result", res)
	return nil
}

func hasTool(list []protocol.Tool, name string) bool {
	for _, t := range list {
		if t.Name == name {
			return true
		}
	}
	return false
}

func printResult(env *Env, heading, logMsg string, res *protocol.CallToolResult) {
	texts := res.Texts()
	if len(texts) == 0 {
		env.Logger.Warn("Tool returned no content")
		return
	}
	for _, text := range texts {
		PrintBox(env.Out, heading, text)
		env.Logger.Info(logMsg, logging.String("result", text))
	}
}

func llmClientFlow(ctx context.Context, env *Env) error {
	return llmFlow(ctx, env, "", false)
}

func contextMemoryFlow(ctx context.Context, env *Env) error {
	return llmFlow(ctx, env, ContextMemorySystemPrompt, true)
}

// llmFlow asks the model what to do with the user's request and runs the
// tool calls it picks. With fill set, get_time arguments are completed from
// memory first and the remembered settings are shown before the prompt.
func llmFlow(ctx context.Context, env *Env, system string, fill bool) error {
	list, err := listTools(ctx, env)
	if err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}
	env.Logger.Info("Tool advertisement received successfully!")

	if fill {
		entries, err := memory.Sorted(ctx, env.Memory)
		if err != nil {
			return err
		}
		fmt.Fprintln(env.Out, "\nCurrent memory settings:")
		for _, e := range entries {
			fmt.Fprintf(env.Out, "  - %s: %s\n", e.Key, e.Value)
		}
	}

	input, err := prompt(env)
	if err != nil {
		return err
	}

	sel, err := env.Selector.SelectTools(ctx, input, system, list)
	if err != nil {
		fmt.Fprintf(env.Out, "\n%v\n", err)
		return nil
	}

	if !sel.HasToolCalls() {
		PrintBox(env.Out, "LLM RESPONSE:", sel.Content)
		env.Logger.Info("LLM response", logging.String("content", sel.Content))
		return nil
	}

	filler := memory.NewFiller(env.Memory, env.Logger)
	for _, tc := range sel.ToolCalls {
		args := tc.Arguments
		if fill {
			env.Logger.Info("Original arguments: " + indentJSON(args))
			if args, err = filler.Fill(ctx, tc.Name, args); err != nil {
				return err
			}
			env.Logger.Info("Arguments after filling: " + indentJSON(args))
		} else {
			env.Logger.Info(fmt.Sprintf("Calling tool: %s with arguments: %s", tc.Name, indentJSON(args)))
		}

		res, err := env.Client.CallTool(ctx, tc.Name, args)
		if err != nil {
			return err
		}
		printResult(env, "LLM TOOL RESULT:", "Tool result", res)
	}
	return nil
}

// multipleToolsFlow lets the model choose between both tools when one is
// configured, and otherwise calls each of them once for Tokyo
func multipleToolsFlow(ctx context.Context, env *Env) error {
	if env.Selector != nil {
		return llmFlow(ctx, env, "", false)
	}

	list, err := listTools(ctx, env)
	if err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}
	env.Logger.Info("No LLM configured, calling every advertised tool")

	calls := map[string]map[string]interface{}{
		tools.GetTimeName:    {"timezone": "Asia/Tokyo"},
		tools.GetWeatherName: {"city": "Tokyo"},
	}
	for _, t := range list {
		args, ok := calls[t.Name]
		if !ok {
			args = map[string]interface{}{}
		}
		env.Logger.Info(fmt.Sprintf("Calling tool: %s with arguments: %s", t.Name, indentJSON(args)))
		res, err := env.Client.CallTool(ctx, t.Name, args)
		if err != nil {
			return err
		}
		printResult(env, "TOOL RESULT: "+t.Name, "Tool result", res)
	}
	return nil
}

func (env *Env) agentOptions() []agent.Option {
	return []agent.Option{
		agent.WithLogger(env.Logger),
		agent.WithTracing(env.Tracing),
		agent.WithMetrics(env.Metrics),
	}
}

func parallelFlow(ctx context.Context, env *Env) error {
	if _, err := listTools(ctx, env); err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}

	plan := agent.DefaultParallelPlan()
	env.Logger.Debug("Plan details: " + indentJSON(plan))
	results := agent.Execute(ctx, env.Client, plan, env.agentOptions()...)
	agent.Render(env.Out, "EXECUTING PLAN OF PARALLEL TOOL CALLS", plan, results)
	return nil
}

func planningFlow(ctx context.Context, env *Env) error {
	list, err := listTools(ctx, env)
	if err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}

	agent.RenderHeader(env.Out, "AGENT PLANNING EXAMPLE")
	fmt.Fprintf(env.Out, "User Query: %s\n", PlanningQuery)
	fmt.Fprintln(env.Out, lightRule)
	fmt.Fprintln(env.Out, "Generating plan with LLM...")

	env.Logger.Info("Generating plan with LLM", logging.String("query", PlanningQuery))
	sel, err := env.Selector.SelectTools(ctx, PlanningQuery, "", list)
	if err != nil {
		return err
	}
	plan := agent.PlanFromSelection(sel)
	if len(plan) == 0 {
		env.Logger.Info("LLM decided not to call any tools")
		fmt.Fprintln(env.Out, "\nThe LLM did not generate any tool calls for this query.")
		fmt.Fprintln(env.Out, heavyRule)
		return nil
	}
	env.Logger.Info(fmt.Sprintf("Generated plan with %d tool calls", len(plan)))

	fmt.Fprintln(env.Out, "\nLLM-GENERATED PLAN:")
	fmt.Fprintln(env.Out, lightRule)
	agent.RenderPlan(env.Out, plan)
	fmt.Fprintln(env.Out, lightRule)

	fmt.Fprintln(env.Out, "\nExecuting plan...")
	results := agent.Execute(ctx, env.Client, plan, env.agentOptions()...)
	agent.RenderResults(env.Out, "RESULTS OF PLAN EXECUTION:", results)
	agent.RenderFooter(env.Out, "All tool calls completed!")
	return nil
}

// Scenario is one call of the error handling exercise
type Scenario struct {
	Title     string
	Tool      string
	Arguments map[string]interface{}
}

// ErrorScenarios are the calls the error handling exercise makes
func ErrorScenarios() []Scenario {
	return []Scenario{
		{Title: "Basic error with default message", Tool: tools.GetErrorName, Arguments: map[string]interface{}{}},
		{Title: "Error with custom message", Tool: tools.GetErrorName, Arguments: map[string]interface{}{"message": "This is a custom error message"}},
		{Title: "Call non-existent tool", Tool: "non_existent_tool", Arguments: map[string]interface{}{}},
	}
}

// executeScenario reports whether the call succeeded and its text or error
func executeScenario(ctx context.Context, env *Env, sc Scenario) (bool, string) {
	env.Logger.Info("Executing tool call " + sc.Tool)
	env.Logger.Debug("Arguments: " + indentJSON(sc.Arguments))

	res, err := env.Client.CallTool(ctx, sc.Tool, sc.Arguments)
	if err != nil {
		env.Logger.Error(fmt.Sprintf("Tool call %s failed with exception", sc.Tool), logging.ErrorField(err))
		return false, err.Error()
	}
	env.Logger.Info(fmt.Sprintf("Tool call %s completed", sc.Tool))

	text := res.Text()
	if res.IsError {
		env.Logger.Error(fmt.Sprintf("Tool call %s returned an error: %s", sc.Tool, text))
		return false, text
	}
	return true, text
}

func errorHandlingFlow(ctx context.Context, env *Env) error {
	if _, err := listTools(ctx, env); err != nil {
		if errors.Is(err, errNoTools) {
			return nil
		}
		return err
	}

	agent.RenderHeader(env.Out, "ERROR HANDLING EXAMPLE")
	fmt.Fprintln(env.Out, "\nTesting error handling with different scenarios:")
	fmt.Fprintln(env.Out, lightRule)

	for i, sc := range ErrorScenarios() {
		fmt.Fprintf(env.Out, "\nScenario %d: %s\n", i+1, sc.Title)
		ok, result := executeScenario(ctx, env, sc)
		fmt.Fprintf(env.Out, "Success: %t\n", ok)
		fmt.Fprintf(env.Out, "Result: %s\n", result)
	}

	agent.RenderFooter(env.Out, "All error handling tests completed!")
	return nil
}
