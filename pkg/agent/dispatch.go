package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/tools"
)

// Per-family output budgets. Families that routinely return large
// payloads get more room; search output is summarized hardest.
const (
	capShellOutput   = 50 * 1024
	capFetchOutput   = 100 * 1024
	capSearchOutput  = 20 * 1024
	capDefaultOutput = 50 * 1024
)

func familyCap(f tools.Family) int {
	switch f {
	case tools.FamilyShell:
		return capShellOutput
	case tools.FamilyFetch:
		return capFetchOutput
	case tools.FamilySearch:
		return capSearchOutput
	}
	return capDefaultOutput
}

// Dispatcher resolves tool call items into tool result items. Dispatch
// never returns an error: every failure mode, an unknown tool, bad
// arguments, an execution fault, becomes a failed result the model can
// read and react to.
type Dispatcher struct {
	registry    *tools.Registry
	enforcement *Enforcement
	metrics     *Metrics
}

func NewDispatcher(reg *tools.Registry, enf *Enforcement, m *Metrics) *Dispatcher {
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return &Dispatcher{registry: reg, enforcement: enf, metrics: m}
}

// Dispatch runs one tool invocation to a result item. The result always
// carries the call's ID so the pairing survives any transport.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.Item) llm.Item {
	start := time.Now()
	result, failed := d.dispatch(ctx, call)
	if d.enforcement != nil {
		d.enforcement.Record(call.Name)
	}
	d.metrics.RecordToolDispatch(call.Name, time.Since(start), failed)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, call llm.Item) (result llm.Item, failed bool) {
	// A panicking tool must not take the run loop down with it.
	defer func() {
		if p := recover(); p != nil {
			result = llm.NewToolResult(call.CallID, fmt.Sprintf("Error: tool %s panicked: %v", call.Name, p), false)
			failed = true
		}
	}()
	return d.run(ctx, call)
}

func (d *Dispatcher) run(ctx context.Context, call llm.Item) (llm.Item, bool) {
	if ctx.Err() != nil {
		return llm.NewToolResult(call.CallID, "cancelled", false), true
	}

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		msg := fmt.Sprintf("Error: unknown tool %q. Available tools: %s",
			call.Name, strings.Join(d.toolNames(), ", "))
		return llm.NewToolResult(call.CallID, msg, false), true
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return llm.NewToolResult(call.CallID, invalidArgumentsPayload(tool, err), false), true
	}

	out, err := tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return llm.NewToolResult(call.CallID, "cancelled", false), true
		}
		return llm.NewToolResult(call.CallID, "Error: "+err.Error(), false), true
	}

	out = capOutput(out, familyCap(tool.Family()))
	return llm.NewToolResult(call.CallID, out, true), false
}

func (d *Dispatcher) toolNames() []string {
	all := d.registry.All()
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Name())
	}
	return names
}

// decodeArguments parses a tool call's argument string. An empty string
// means no arguments. On a parse failure one repair pass is attempted
// before giving up with the original error.
func decodeArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	err := json.Unmarshal([]byte(trimmed), &args)
	if err == nil {
		return args, nil
	}
	repaired := repairArguments(trimmed)
	var again map[string]any
	if rerr := json.Unmarshal([]byte(repaired), &again); rerr == nil {
		return again, nil
	}
	return nil, err
}

// invalidArgumentsPayload builds the structured rejection the model gets
// when its arguments could not be decoded: the expected parameter shape
// plus a worked example it can copy from.
func invalidArgumentsPayload(tool tools.Tool, cause error) string {
	payload := map[string]any{
		"error":          "invalid arguments: " + cause.Error(),
		"retry_required": true,
		"tool":           tool.Name(),
		"expected":       tool.Parameters(),
		"example":        json.RawMessage(tool.Example()),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// The example was not valid JSON; fall back to quoting it.
		payload["example"] = tool.Example()
		data, err = json.Marshal(payload)
		if err != nil {
			return `{"error":"invalid arguments","retry_required":true}`
		}
	}
	return string(data)
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// repairArguments applies one pass of fixes for the argument encodings
// models most often emit: fenced code blocks, single-quoted strings,
// trailing commas, and raw control characters inside string literals.
func repairArguments(s string) string {
	s = stripCodeFence(s)
	if !strings.Contains(s, `"`) && strings.Contains(s, "'") {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = escapeControlChars(s)
	return s
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// escapeControlChars escapes raw newlines, carriage returns, and tabs
// that appear inside JSON string literals. Characters outside strings
// are left alone.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
				b.WriteRune(r)
				continue
			}
			switch r {
			case '\\':
				escaped = true
				b.WriteRune(r)
			case '"':
				inString = false
				b.WriteRune(r)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// capOutput enforces a byte budget with head/tail truncation so both the
// start and the end of the output survive. The marker in the middle
// states the original and retained sizes.
func capOutput(out string, maxBytes int) string {
	if maxBytes <= 0 || len(out) <= maxBytes {
		return out
	}
	head := truncateUTF8(out, maxBytes/2)
	tailStart := len(out) - (maxBytes - len(head))
	for tailStart < len(out) && !utf8.RuneStart(out[tailStart]) {
		tailStart++
	}
	tail := out[tailStart:]
	marker := fmt.Sprintf("\n... [output truncated: kept %d of %d bytes] ...\n",
		len(head)+len(tail), len(out))
	return head + marker + tail
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
