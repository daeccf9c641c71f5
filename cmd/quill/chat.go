package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quilldev/quill/pkg/agent"
	"github.com/quilldev/quill/pkg/llm"
)

var (
	flagChatResume    string
	flagChatStateless bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Chat reads prompts line by line from standard input and runs each one
through the agent loop. Ctrl-C cancels the active run without leaving the
conversation; Ctrl-C at the prompt, or Ctrl-D, exits.

Lines starting with / are commands: /compact shrinks the conversation
immediately, /quit and /exit end it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	chatCmd.Flags().StringVar(&flagChatResume, "resume", "", "resume the session with this ID")
	chatCmd.Flags().BoolVar(&flagChatStateless, "stateless", false, "replay the full conversation every turn")
}

func runChat() error {
	printer := newPrinter(os.Stdout, false)
	a, err := newApp(appOptions{
		resumeID:  flagChatResume,
		stateless: flagChatStateless,
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

	if a.sess != nil {
		fmt.Fprintf(os.Stderr, "session %s (resume later with --resume %s)\n", a.sess.ID(), a.sess.ID())
	}

	// An interrupt during a run cancels that run; at the prompt it ends
	// the conversation.
	var active atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigCh:
				if active.Load() {
					a.runner.Cancel()
					fmt.Fprintln(os.Stderr, "\n(cancelled)")
				} else {
					fmt.Fprintln(os.Stderr)
					os.Exit(0)
				}
			case <-done:
				return
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if line == "/compact" {
			if err := a.forceCompact(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			continue
		}

		active.Store(true)
		_, err := a.runner.Run(context.Background(), []llm.Item{llm.UserMessage(line)})
		active.Store(false)
		printer.finish()
		if err != nil {
			fmt.Fprintln(os.Stderr, explainRunError(err))
			if llm.IsInvalidRequest(err) {
				return fmt.Errorf("conversation ended: %w", err)
			}
			// Rate limits and transient exhaustion leave the conversation
			// usable; the user can simply try again.
		}
	}
	return scanner.Err()
}
