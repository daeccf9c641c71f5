package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/quilldev/quill/pkg/llm"
)

const aggressivePrompt = `Summarize the conversation below in at most 5 sentences. Keep only decisions made, the current task state, and file paths still in play. Be extremely concise.`

const thoroughPrompt = `Provide a thorough but concise summary of the conversation below. Cover: key topics discussed, important decisions made, files or code modified, unresolved questions, and next steps.`

// LLMSummarizer implements Summarizer over the completion service with a
// single non-streaming turn.
type LLMSummarizer struct {
	client       *llm.Client
	instructions string
}

// NewLLMSummarizer creates a summarizer. instructions may be empty.
func NewLLMSummarizer(client *llm.Client, instructions string) *LLMSummarizer {
	return &LLMSummarizer{client: client, instructions: instructions}
}

// Summarize renders the items as a plain conversation script and asks the
// model for one summary. Errors propagate to the engine, which degrades
// to truncation rather than failing the run.
func (s *LLMSummarizer) Summarize(ctx context.Context, items []llm.Item, aggressive bool) (string, error) {
	script := RenderScript(items)
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("no summarizable content")
	}

	prompt := thoroughPrompt
	if aggressive {
		prompt = aggressivePrompt
	}

	text, _, err := s.client.Complete(ctx, llm.Request{
		Instructions: s.instructions,
		Items: []llm.Item{
			llm.UserMessage(prompt + "\n\n" + script),
		},
		Store: false,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty summary generated")
	}
	return text, nil
}

// RenderScript flattens items into a readable conversation script for the
// summarization prompt. Tool traffic is folded to one line per item; the
// summary cares about what happened, not raw output.
func RenderScript(items []llm.Item) string {
	var b strings.Builder
	for _, it := range items {
		switch it.Kind {
		case llm.ItemMessage:
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(it.Role), it.Content)
		case llm.ItemToolCall:
			fmt.Fprintf(&b, "Tool call: %s(%s)\n", it.Name, it.Arguments)
		case llm.ItemToolResult:
			status := "ok"
			if !it.OK {
				status = "failed"
			}
			fmt.Fprintf(&b, "Tool result (%s): %s\n", status, firstLine(it.Output))
		}
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case llm.RoleUser:
		return "User"
	case llm.RoleAssistant:
		return "Assistant"
	case llm.RoleSystem:
		return "System"
	}
	return role
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
