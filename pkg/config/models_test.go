package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistryEmbeddedDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	reg, err := LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	spec, ok := reg.Lookup("gpt-5.2-codex")
	if !ok {
		t.Fatal("default registry missing gpt-5.2-codex")
	}
	if spec.Provider != "openai" {
		t.Errorf("provider = %q, want openai", spec.Provider)
	}
	if spec.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("baseUrl = %q", spec.BaseURL)
	}
	if spec.ContextWindow != 272000 || spec.MaxTokens != 128000 {
		t.Errorf("unexpected limits %+v", spec)
	}
	if !spec.Reasoning {
		t.Error("expected a reasoning model")
	}

	if _, ok := reg.Lookup("glm-4.6"); !ok {
		t.Error("default registry missing glm-4.6")
	}
	if len(reg.Specs()) < 3 {
		t.Errorf("expected several default specs, got %d", len(reg.Specs()))
	}
}

func TestLoadRegistryUserFileOverridesAndExtends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	content := `{
  // local overrides
  "providers": {
    "openai": {
      "models": [
        { "id": "gpt-5.2-codex", "baseUrl": "https://proxy.internal/v1", "contextWindow": 300000 },
      ],
    },
    "local": {
      "baseUrl": "http://localhost:8080/v1",
      "models": [
        { "id": "llama-local", "name": "Local Llama" },
      ],
    },
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("QUILL_MODELS_PATH", path)

	reg, err := LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	spec, ok := reg.Lookup("gpt-5.2-codex")
	if !ok {
		t.Fatal("gpt-5.2-codex missing after override")
	}
	if spec.ContextWindow != 300000 {
		t.Errorf("contextWindow = %d, want user override", spec.ContextWindow)
	}
	if spec.BaseURL != "https://proxy.internal/v1" {
		t.Errorf("baseUrl = %q, want model-level override", spec.BaseURL)
	}

	added, ok := reg.Lookup("llama-local")
	if !ok {
		t.Fatal("llama-local missing")
	}
	if added.Provider != "local" {
		t.Errorf("provider = %q, want local", added.Provider)
	}
	if added.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("baseUrl = %q, want inherited from provider", added.BaseURL)
	}
}

func TestLoadRegistryExplicitMissingFileErrors(t *testing.T) {
	t.Setenv("QUILL_MODELS_PATH", filepath.Join(t.TempDir(), "absent.json"))
	if _, err := LoadRegistry(); err == nil {
		t.Fatal("expected error for explicit missing models file")
	}
}

func TestModelSpecLLMModel(t *testing.T) {
	spec := ModelSpec{ID: "glm-4.6", Provider: "zai", BaseURL: "https://api.z.ai/api/coding/paas/v4", ContextWindow: 200000}
	model := spec.LLMModel()
	if model.ID != spec.ID || model.Provider != spec.Provider || model.BaseURL != spec.BaseURL {
		t.Errorf("unexpected model %+v", model)
	}
}
