package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/quilldev/quill/pkg/llm"
)

// ModelSpec is one resolved entry of the model registry.
type ModelSpec struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
	BaseURL       string `json:"baseUrl,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	MaxTokens     int    `json:"maxTokens,omitempty"`
	Reasoning     bool   `json:"reasoning,omitempty"`
}

// LLMModel converts the spec to the client's model descriptor.
func (s ModelSpec) LLMModel() llm.Model {
	return llm.Model{ID: s.ID, Provider: s.Provider, BaseURL: s.BaseURL}
}

//go:embed models.json
var defaultModels []byte

type modelsFile struct {
	Providers map[string]providerEntry `json:"providers"`
}

// providerEntry groups models under one provider; models inherit the
// provider's baseUrl unless they set their own.
type providerEntry struct {
	BaseURL string      `json:"baseUrl,omitempty"`
	Models  []ModelSpec `json:"models,omitempty"`
}

// Registry maps model IDs to their specs.
type Registry struct {
	order []string
	byID  map[string]ModelSpec
}

// LoadRegistry builds the registry from the embedded defaults overlaid
// with the user's models file when one exists. Setting QUILL_MODELS_PATH
// names the user file explicitly; a missing explicit file is an error,
// a missing default one is not.
func LoadRegistry() (*Registry, error) {
	r := &Registry{byID: make(map[string]ModelSpec)}
	if err := r.merge(defaultModels); err != nil {
		return nil, fmt.Errorf("embedded models registry: %w", err)
	}

	path := strings.TrimSpace(os.Getenv("QUILL_MODELS_PATH"))
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return r, nil
		}
		path = filepath.Join(home, ".quill", "models.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read models file: %w", err)
	}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	return r, nil
}

// merge folds one models file in. Specs with an already known ID replace
// the earlier entry but keep its position.
func (r *Registry) merge(data []byte) error {
	var file modelsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return err
	}

	providers := make([]string, 0, len(file.Providers))
	for name := range file.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	for _, name := range providers {
		entry := file.Providers[name]
		provider := strings.TrimSpace(name)
		if provider == "" {
			continue
		}
		for _, spec := range entry.Models {
			spec.ID = strings.TrimSpace(spec.ID)
			if spec.ID == "" {
				continue
			}
			spec.Provider = provider
			if strings.TrimSpace(spec.BaseURL) == "" {
				spec.BaseURL = strings.TrimSpace(entry.BaseURL)
			}
			if _, seen := r.byID[spec.ID]; !seen {
				r.order = append(r.order, spec.ID)
			}
			r.byID[spec.ID] = spec
		}
	}
	return nil
}

// Lookup returns the spec for a model ID.
func (r *Registry) Lookup(id string) (ModelSpec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// Specs returns every registered spec, embedded defaults first.
func (r *Registry) Specs() []ModelSpec {
	out := make([]ModelSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
