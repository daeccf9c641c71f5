package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultBashTimeout = 60 * time.Second
	maxBashTimeout     = 10 * time.Minute
)

// BashTool executes shell commands in a fixed working directory.
type BashTool struct {
	cwd     string
	timeout time.Duration
}

// NewBashTool creates a bash tool rooted at cwd.
func NewBashTool(cwd string) *BashTool {
	return &BashTool{cwd: cwd, timeout: defaultBashTimeout}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Execute a shell command in the working directory and return its combined output."
}

func (t *BashTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Optional timeout in seconds (default 60, max 600)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Example() string { return `{"command": "ls -la"}` }

func (t *BashTool) Family() Family { return FamilyShell }

// Execute runs the command under /bin/sh. A failing command is a normal
// result with the exit status in the output; only a missing command
// argument is an error.
func (t *BashTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}

	timeout := t.timeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)
	cmd.Dir = t.cwd
	output, runErr := cmd.CombinedOutput()

	var b strings.Builder
	b.Write(output)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "(command timed out after %s)", timeout)
	case runErr != nil:
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			fmt.Fprintf(&b, "(exit code %d)", exitErr.ExitCode())
		} else {
			fmt.Fprintf(&b, "(command failed: %s)", runErr)
		}
	}

	if b.Len() == 0 {
		return "(no output)", nil
	}
	return b.String(), nil
}

// SetTimeout overrides the default command timeout.
func (t *BashTool) SetTimeout(d time.Duration) {
	t.timeout = d
}
