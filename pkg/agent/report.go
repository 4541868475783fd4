package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ReportWidth is the width of the plan report rules
const ReportWidth = 60

var (
	heavyRule = strings.Repeat("=", ReportWidth)
	lightRule = strings.Repeat("-", ReportWidth)
)

// Render prints the parallel execution report: the plan, then every result
// in plan order
func Render(w io.Writer, title string, plan Plan, results []Result) {
	RenderHeader(w, title)
	fmt.Fprintf(w, "Plan contains %d tool calls:\n", len(plan))
	RenderPlan(w, plan)
	fmt.Fprintln(w, lightRule)
	RenderResults(w, "RESULTS OF PARALLEL EXECUTION:", results)
	RenderFooter(w, "All tool calls completed concurrently!")
}

// RenderHeader prints a title between heavy rules
func RenderHeader(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, heavyRule)
}

// RenderPlan prints one numbered line per step
func RenderPlan(w io.Writer, plan Plan) {
	for i, step := range plan {
		fmt.Fprintf(w, "  %d. %s(%s)\n", i+1, step.Name, FormatArguments(step.Arguments))
	}
}

// RenderResults prints heading and every result's text or error
func RenderResults(w io.Writer, heading string, results []Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, heading)
	fmt.Fprintln(w, lightRule)
	for i, r := range results {
		fmt.Fprintf(w, "Tool %d: %s\n", i+1, r.Tool)
		if r.Success {
			for _, text := range r.Result {
				fmt.Fprintf(w, "  → %s\n", text)
			}
		} else {
			fmt.Fprintf(w, "  → ERROR: %s\n", r.Error)
		}
	}
}

// RenderFooter prints msg between heavy rules
func RenderFooter(w io.Writer, msg string) {
	fmt.Fprintln(w, heavyRule)
	fmt.Fprintln(w, msg)
	fmt.Fprintln(w, heavyRule)
}

// FormatArguments renders args as a JSON object with sorted keys and
// ", " / ": " separators
func FormatArguments(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		key, _ := json.Marshal(k)
		b.Write(key)
		b.WriteString(": ")
		val, err := json.Marshal(args[k])
		if err != nil {
			val = []byte(`null`)
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
