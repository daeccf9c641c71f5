package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// AuthEntry holds credentials for one provider in the auth file. An
// entry may also be a bare string key.
type AuthEntry struct {
	Type   string `json:"type,omitempty"`
	Key    string `json:"key,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`
}

// AuthPath returns the auth file path, ~/.quill/auth.json.
func AuthPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quill", "auth.json"), nil
}

// ResolveAPIKey returns the API key for a provider. QUILL_API_KEY beats
// everything; then the provider's own variable (OPENAI_API_KEY for
// "openai", and so on); then the provider's entry in the auth file.
func ResolveAPIKey(provider string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("QUILL_API_KEY")); key != "" {
		return key, nil
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("no provider to resolve an API key for")
	}

	envVar := providerEnvVar(provider)
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}

	authPath, err := AuthPath()
	if err != nil {
		return "", err
	}
	key, err := authFileKey(authPath, provider)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no API key for %q: set %s or QUILL_API_KEY, or add an entry to %s", provider, envVar, authPath)
		}
		return "", err
	}
	return key, nil
}

// providerEnvVar maps a provider name to its conventional key variable,
// e.g. "my-proxy" to MY_PROXY_API_KEY.
func providerEnvVar(provider string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_API_KEY")
	return b.String()
}

func authFileKey(path, provider string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return "", fmt.Errorf("parse auth file %s: %w", path, err)
	}

	entryRaw, ok := raw[provider]
	if !ok {
		for name, value := range raw {
			if strings.EqualFold(name, provider) {
				entryRaw = value
				ok = true
				break
			}
		}
	}
	if !ok {
		return "", fmt.Errorf("no credentials for %q in %s", provider, path)
	}

	var key string
	if err := json.Unmarshal(entryRaw, &key); err == nil {
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}

	var entry AuthEntry
	if err := json.Unmarshal(entryRaw, &entry); err != nil {
		return "", fmt.Errorf("invalid auth entry for %q in %s", provider, path)
	}
	for _, candidate := range []string{entry.APIKey, entry.Key, entry.Token} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("empty credentials for %q in %s", provider, path)
}
