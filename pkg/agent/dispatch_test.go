package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/quilldev/quill/pkg/llm"
	"github.com/quilldev/quill/pkg/tools"
)

// testTool is a scriptable in-memory tool for dispatcher and runner
// tests.
type testTool struct {
	name    string
	family  tools.Family
	params  map[string]any
	example string
	fn      func(ctx context.Context, args map[string]any) (string, error)
}

func (t *testTool) Name() string        { return t.name }
func (t *testTool) Description() string { return "test tool " + t.name }

func (t *testTool) Parameters() map[string]any {
	if t.params != nil {
		return t.params
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}
}

func (t *testTool) Example() string {
	if t.example != "" {
		return t.example
	}
	return `{"text":"hello"}`
}

func (t *testTool) Family() tools.Family {
	if t.family != "" {
		return t.family
	}
	return tools.FamilyGeneral
}

func (t *testTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

func echoTool(name string) *testTool {
	return &testTool{
		name: name,
		fn: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func registryWith(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(registryWith(echoTool("echo")), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("call_1", "echo", `{"text":"hi there"}`))
	if !res.OK {
		t.Fatalf("OK = false, output %q", res.Output)
	}
	if res.CallID != "call_1" {
		t.Errorf("CallID = %q, want call_1", res.CallID)
	}
	if res.Output != "hi there" {
		t.Errorf("Output = %q, want %q", res.Output, "hi there")
	}
}

func TestDispatchInvalidArgumentsStructuredReply(t *testing.T) {
	tool := &testTool{
		name: "write_file",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []any{"path", "content"},
		},
		example: `{"path":"notes.txt","content":"draft"}`,
		fn: func(context.Context, map[string]any) (string, error) {
			t.Fatal("Execute must not run on undecodable arguments")
			return "", nil
		},
	}
	d := NewDispatcher(registryWith(tool), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("call_7", "write_file", `{bad json`))
	if res.OK {
		t.Fatal("OK = true for undecodable arguments")
	}
	if res.CallID != "call_7" {
		t.Errorf("CallID = %q, want call_7", res.CallID)
	}

	var payload struct {
		Error         string         `json:"error"`
		RetryRequired bool           `json:"retry_required"`
		Tool          string         `json:"tool"`
		Expected      map[string]any `json:"expected"`
		Example       map[string]any `json:"example"`
	}
	if err := json.Unmarshal([]byte(res.Output), &payload); err != nil {
		t.Fatalf("rejection payload is not JSON: %v\n%s", err, res.Output)
	}
	if !payload.RetryRequired {
		t.Error("retry_required = false, want true")
	}
	if !strings.Contains(payload.Error, "invalid arguments") {
		t.Errorf("error = %q, want it to say invalid arguments", payload.Error)
	}
	if payload.Tool != "write_file" {
		t.Errorf("tool = %q, want write_file", payload.Tool)
	}
	if payload.Expected["type"] != "object" {
		t.Errorf("expected shape missing: %v", payload.Expected)
	}
	if payload.Example["path"] != "notes.txt" || payload.Example["content"] != "draft" {
		t.Errorf("example = %v, want the tool's literal worked example", payload.Example)
	}
}

func TestDispatchRepairsSloppyEncodings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"trailing comma", `{"text":"hi",}`, "hi"},
		{"single quotes", `{'text':'hi'}`, "hi"},
		{"fenced block", "```json\n{\"text\":\"hi\"}\n```", "hi"},
		{"bare fence", "```\n{\"text\":\"hi\"}\n```", "hi"},
		{"raw newline in string", "{\"text\":\"line1\nline2\"}", "line1\nline2"},
		{"raw tab in string", "{\"text\":\"a\tb\"}", "a\tb"},
	}
	d := NewDispatcher(registryWith(echoTool("echo")), nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), llm.NewToolCall("c", "echo", tt.raw))
			if !res.OK {
				t.Fatalf("repair failed, output %q", res.Output)
			}
			if res.Output != tt.want {
				t.Errorf("Output = %q, want %q", res.Output, tt.want)
			}
		})
	}
}

func TestDispatchEmptyArgumentsMeansNoArguments(t *testing.T) {
	var got map[string]any
	tool := &testTool{name: "list", fn: func(_ context.Context, args map[string]any) (string, error) {
		got = args
		return "ok", nil
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("c", "list", ""))
	if !res.OK {
		t.Fatalf("OK = false, output %q", res.Output)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Execute got %v, want an empty map", got)
	}
}

func TestDispatchUnknownToolListsAvailable(t *testing.T) {
	d := NewDispatcher(registryWith(echoTool("echo"), echoTool("grep")), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("c", "nope", "{}"))
	if res.OK {
		t.Fatal("OK = true for unknown tool")
	}
	if !strings.Contains(res.Output, `unknown tool "nope"`) {
		t.Errorf("output %q does not name the unknown tool", res.Output)
	}
	if !strings.Contains(res.Output, "echo") || !strings.Contains(res.Output, "grep") {
		t.Errorf("output %q does not list the available tools", res.Output)
	}
}

func TestDispatchExecutionErrorBecomesFailedResult(t *testing.T) {
	tool := &testTool{name: "bad", fn: func(context.Context, map[string]any) (string, error) {
		return "", context.DeadlineExceeded
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("c", "bad", "{}"))
	if res.OK {
		t.Fatal("OK = true for failed execution")
	}
	if !strings.HasPrefix(res.Output, "Error: ") {
		t.Errorf("output = %q, want an Error: prefix", res.Output)
	}
}

func TestDispatchPanicBecomesFailedResult(t *testing.T) {
	tool := &testTool{name: "boom", fn: func(context.Context, map[string]any) (string, error) {
		panic("kaboom")
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("c", "boom", "{}"))
	if res.OK {
		t.Fatal("OK = true after a panic")
	}
	if !strings.Contains(res.Output, "panicked") || !strings.Contains(res.Output, "kaboom") {
		t.Errorf("output = %q, want the panic surfaced", res.Output)
	}
}

func TestDispatchCancelledContextShortCircuits(t *testing.T) {
	executed := false
	tool := &testTool{name: "slow", fn: func(context.Context, map[string]any) (string, error) {
		executed = true
		return "", nil
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, llm.NewToolCall("c", "slow", "{}"))
	if res.OK || res.Output != "cancelled" {
		t.Errorf("result = ok=%v output=%q, want a failed cancelled result", res.OK, res.Output)
	}
	if executed {
		t.Error("Execute ran under a cancelled context")
	}
}

func TestDispatchCancelDuringExecute(t *testing.T) {
	tool := &testTool{name: "wait", fn: func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := d.Dispatch(ctx, llm.NewToolCall("c", "wait", "{}"))
	if res.OK || res.Output != "cancelled" {
		t.Errorf("result = ok=%v output=%q, want a failed cancelled result", res.OK, res.Output)
	}
}

func TestDispatchCapsOutputByFamily(t *testing.T) {
	tests := []struct {
		family tools.Family
		cap    int
	}{
		{tools.FamilyShell, capShellOutput},
		{tools.FamilyFetch, capFetchOutput},
		{tools.FamilySearch, capSearchOutput},
		{tools.FamilyGeneral, capDefaultOutput},
	}
	big := "HEAD-" + strings.Repeat("x", 120*1024) + "-TAIL"
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			tool := &testTool{name: "big", family: tt.family, fn: func(context.Context, map[string]any) (string, error) {
				return big, nil
			}}
			d := NewDispatcher(registryWith(tool), nil, nil)

			res := d.Dispatch(context.Background(), llm.NewToolCall("c", "big", "{}"))
			if !res.OK {
				t.Fatalf("OK = false, output %q", res.Output)
			}
			if len(res.Output) > tt.cap+200 {
				t.Errorf("output %d bytes, want at most the %d cap plus the marker", len(res.Output), tt.cap)
			}
			if !strings.HasPrefix(res.Output, "HEAD-") {
				t.Error("head of the output was lost")
			}
			if !strings.HasSuffix(res.Output, "-TAIL") {
				t.Error("tail of the output was lost")
			}
			wantMarker := "kept " + strconv.Itoa(tt.cap) + " of " + strconv.Itoa(len(big)) + " bytes"
			if !strings.Contains(res.Output, wantMarker) {
				t.Errorf("output missing truncation marker %q", wantMarker)
			}
		})
	}
}

func TestDispatchSmallOutputUntouched(t *testing.T) {
	tool := &testTool{name: "small", family: tools.FamilyShell, fn: func(context.Context, map[string]any) (string, error) {
		return "all of it", nil
	}}
	d := NewDispatcher(registryWith(tool), nil, nil)

	res := d.Dispatch(context.Background(), llm.NewToolCall("c", "small", "{}"))
	if res.Output != "all of it" {
		t.Errorf("Output = %q, want it untouched", res.Output)
	}
}

func TestCapOutputRespectsRuneBoundaries(t *testing.T) {
	out := strings.Repeat("日", 1000) // 3 bytes per rune
	capped := capOutput(out, 100)
	if !utf8.ValidString(capped) {
		t.Error("capped output is not valid UTF-8")
	}
	if !strings.Contains(capped, "of 3000 bytes") {
		t.Errorf("marker missing original size: %q", capped)
	}
}

func TestDispatchRecordsEnforcementAndMetrics(t *testing.T) {
	enf := NewEnforcement("echo")
	m := NewMetrics()
	d := NewDispatcher(registryWith(echoTool("echo")), enf, m)

	d.Dispatch(context.Background(), llm.NewToolCall("c1", "echo", `{"text":"a"}`))
	d.Dispatch(context.Background(), llm.NewToolCall("c2", "nope", "{}"))

	if got := enf.Count("echo"); got != 1 {
		t.Errorf("enforcement Count(echo) = %d, want 1", got)
	}
	if got := enf.Count("nope"); got != 1 {
		t.Errorf("enforcement Count(nope) = %d, want 1", got)
	}
	if unmet := enf.Unmet(); len(unmet) != 0 {
		t.Errorf("Unmet() = %v, want requirement satisfied", unmet)
	}

	snap := m.Snapshot()
	if len(snap.Tools) != 2 {
		t.Fatalf("len(Tools) = %d, want 2", len(snap.Tools))
	}
	if snap.Tools[1].Name != "nope" || snap.Tools[1].Errors != 1 {
		t.Errorf("nope stats = %+v, want one recorded error", snap.Tools[1])
	}
}
