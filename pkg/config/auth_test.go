package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveAPIKeyQuillOverride(t *testing.T) {
	t.Setenv("QUILL_API_KEY", "sk-quill")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	key, err := ResolveAPIKey("openai")
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if key != "sk-quill" {
		t.Errorf("key = %q, want QUILL_API_KEY to win", key)
	}
}

func TestResolveAPIKeyProviderEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUILL_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	key, err := ResolveAPIKey("openai")
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if key != "sk-openai" {
		t.Errorf("key = %q", key)
	}
}

func TestResolveAPIKeyMapsProviderNames(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUILL_API_KEY", "")
	t.Setenv("MY_PROXY_API_KEY", "sk-proxy")

	key, err := ResolveAPIKey("my-proxy")
	if err != nil {
		t.Fatalf("ResolveAPIKey: %v", err)
	}
	if key != "sk-proxy" {
		t.Errorf("key = %q", key)
	}
}

func TestResolveAPIKeyAuthFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("QUILL_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")

	authPath := filepath.Join(home, ".quill", "auth.json")
	if err := os.MkdirAll(filepath.Dir(authPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{
  // string entries and object entries both work
  "anthropic": "sk-ant",
  "zai": { "apiKey": "sk-zai" },
}`
	if err := os.WriteFile(authPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	for provider, want := range map[string]string{"anthropic": "sk-ant", "zai": "sk-zai"} {
		key, err := ResolveAPIKey(provider)
		if err != nil {
			t.Fatalf("ResolveAPIKey(%s): %v", provider, err)
		}
		if key != want {
			t.Errorf("ResolveAPIKey(%s) = %q, want %q", provider, key, want)
		}
	}
}

func TestResolveAPIKeyMissingNamesTheVariable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUILL_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := ResolveAPIKey("openai")
	if err == nil {
		t.Fatal("expected error with no key anywhere")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should name the variable to set: %v", err)
	}
}
