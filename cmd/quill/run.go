package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quilldev/quill/pkg/agent"
	"github.com/quilldev/quill/pkg/compact"
	"github.com/quilldev/quill/pkg/llm"
)

var (
	flagJSON      bool
	flagStats     bool
	flagResume    string
	flagStateless bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run one agent loop for a single prompt",
	Long: `Run sends one prompt through the agent loop: the model streams its
response, tool calls are executed, and the loop continues until the model
stops calling tools. The prompt is taken from the arguments, or from
standard input when no arguments are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(args)
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagJSON, "json", false, "emit items as JSON Lines instead of text")
	runCmd.Flags().BoolVar(&flagStats, "stats", false, "print run metrics after completion")
	runCmd.Flags().StringVar(&flagResume, "resume", "", "resume the session with this ID")
	runCmd.Flags().BoolVar(&flagStateless, "stateless", false, "replay the full conversation every turn")
}

func runOnce(args []string) error {
	promptText := strings.TrimSpace(strings.Join(args, " "))
	if promptText == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		promptText = strings.TrimSpace(string(data))
	}
	if promptText == "" {
		return fmt.Errorf("no prompt given: pass it as arguments or on stdin")
	}

	printer := newPrinter(os.Stdout, flagJSON)
	a, err := newApp(appOptions{
		resumeID:  flagResume,
		stateless: flagStateless,
		callbacks: agent.Callbacks{
			OnItem:       printer.item,
			OnDelta:      printer.delta,
			OnCompaction: printer.compaction,
		},
	})
	if err != nil {
		return err
	}
	defer a.close()

	if a.sess != nil && !flagJSON {
		fmt.Fprintf(os.Stderr, "session %s\n", a.sess.ID())
	}

	// First interrupt cancels the run so pending tool calls get their
	// synthetic answers; a second one gives up on the process.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		a.runner.Cancel()
		<-sigCh
		os.Exit(130)
	}()

	res, err := a.runner.Run(context.Background(), []llm.Item{llm.UserMessage(promptText)})
	printer.finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, explainRunError(err))
		return fmt.Errorf("run failed")
	}

	if flagStats {
		snap := a.metrics.Snapshot()
		data, err := json.MarshalIndent(snap, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, string(data))
		}
	}

	if res.State == agent.StateCancelled {
		fmt.Fprintln(os.Stderr, "cancelled")
	}
	return nil
}

// printer renders delivered items. Text mode streams assistant deltas to
// stdout and notes tool traffic on stderr; JSON mode emits one event per
// line for machine consumers.
type printer struct {
	out      io.Writer
	jsonMode bool
	enc      *json.Encoder
	// streamed tracks whether delta text was already written for the
	// current assistant message, so item delivery does not repeat it.
	streamed bool
}

func newPrinter(out io.Writer, jsonMode bool) *printer {
	p := &printer{out: out, jsonMode: jsonMode}
	if jsonMode {
		p.enc = json.NewEncoder(out)
	}
	return p
}

type printedEvent struct {
	Type    string    `json:"type"`
	Item    *llm.Item `json:"item,omitempty"`
	Level   string    `json:"level,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

func (p *printer) delta(text string) {
	if p.jsonMode {
		return
	}
	fmt.Fprint(p.out, text)
	p.streamed = true
}

func (p *printer) item(it llm.Item) {
	if p.jsonMode {
		p.enc.Encode(printedEvent{Type: "item", Item: &it})
		return
	}
	switch it.Kind {
	case llm.ItemMessage:
		if it.Role != llm.RoleAssistant {
			return
		}
		if p.streamed {
			fmt.Fprintln(p.out)
			p.streamed = false
			return
		}
		fmt.Fprintln(p.out, it.Content)
	case llm.ItemToolCall:
		fmt.Fprintf(os.Stderr, "* %s %s\n", it.Name, it.Arguments)
	case llm.ItemToolResult:
		if !it.OK {
			fmt.Fprintf(os.Stderr, "  (tool failed)\n")
		}
	}
}

func (p *printer) compaction(res compact.Result) {
	if p.jsonMode {
		p.enc.Encode(printedEvent{Type: "compaction", Level: res.Level.String(), Summary: res.Summary})
		return
	}
	fmt.Fprintf(os.Stderr, "(conversation compacted at %s: %d -> %d tokens)\n",
		res.Level.String(), res.TokensBefore, res.TokensAfter)
}

// finish closes out a streamed message that never saw its terminal item.
func (p *printer) finish() {
	if !p.jsonMode && p.streamed {
		fmt.Fprintln(p.out)
		p.streamed = false
	}
}
