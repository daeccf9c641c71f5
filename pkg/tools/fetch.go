package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxFetchBytes bounds how much of a response body is read. The
// dispatcher applies the fetch family cap on top of this.
const maxFetchBytes = 1024 * 1024

// FetchTool performs HTTP GET requests.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool creates a fetch tool. A nil client gets a default with a
// 30 second timeout.
func NewFetchTool(client *http.Client) *FetchTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FetchTool{client: client}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a URL over HTTP GET and return the response body as text."
}

func (t *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "http or https URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchTool) Example() string { return `{"url": "https://example.com/readme"}` }

func (t *FetchTool) Family() Family { return FamilyFetch }

func (t *FetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	url, err := stringArg(args, "url")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "quill/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read response from %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	out := string(body)
	if len(body) > maxFetchBytes {
		out = out[:maxFetchBytes] + "\n... (response truncated at 1 MB)"
	}
	return out, nil
}
