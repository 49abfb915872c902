package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModelConfig describes a single model exposed by a provider host.
type ModelConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider describes one configured OpenAI-compatible back-end.
type Provider struct {
	Host      string        `json:"host"`
	BaseURL   string        `json:"base_url"`
	APIKeyEnv string        `json:"api_key_env"`
	Models    []ModelConfig `json:"models"`
}

// ModelInfo is the public listing entry for a model.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
}

// Registry indexes the configured providers by model id. It is built once at
// startup and rejects duplicate hosts and model ids up front.
type Registry struct {
	providers  []Provider
	modelIndex map[string]Provider
}

// NewRegistry parses the PROVIDERS JSON array and validates it.
func NewRegistry(raw string) (*Registry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("PROVIDERS is missing in environment or .env")
	}
	var providers []Provider
	if err := json.Unmarshal([]byte(raw), &providers); err != nil {
		return nil, fmt.Errorf("PROVIDERS must be a valid JSON array: %w", err)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("PROVIDERS must include at least one provider")
	}

	index := make(map[string]Provider)
	seenHosts := make(map[string]bool)
	for i := range providers {
		p := &providers[i]
		p.Host = strings.TrimSpace(p.Host)
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.APIKeyEnv = strings.TrimSpace(p.APIKeyEnv)
		if p.Host == "" {
			return nil, fmt.Errorf("PROVIDERS contains an empty host value")
		}
		if seenHosts[p.Host] {
			return nil, fmt.Errorf("duplicate provider host: %s", p.Host)
		}
		seenHosts[p.Host] = true
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %s is missing base_url", p.Host)
		}
		if p.APIKeyEnv == "" {
			return nil, fmt.Errorf("provider %s is missing api_key_env", p.Host)
		}
		if len(p.Models) == 0 {
			return nil, fmt.Errorf("provider %s has no models", p.Host)
		}
		for j := range p.Models {
			m := &p.Models[j]
			m.ID = strings.TrimSpace(m.ID)
			if m.ID == "" {
				return nil, fmt.Errorf("provider %s contains an empty model id", p.Host)
			}
			if _, dup := index[m.ID]; dup {
				return nil, fmt.Errorf("duplicate model id: %s", m.ID)
			}
			index[m.ID] = *p
		}
	}

	return &Registry{providers: providers, modelIndex: index}, nil
}

// ListModels returns all configured models across providers.
func (r *Registry) ListModels() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.modelIndex))
	for _, p := range r.providers {
		for _, m := range p.Models {
			out = append(out, ModelInfo{ID: m.ID, Name: m.Name, Host: p.Host})
		}
	}
	return out
}

// HasModel reports whether the model id is configured.
func (r *Registry) HasModel(modelID string) bool {
	_, ok := r.modelIndex[modelID]
	return ok
}

// ForModel returns the provider that serves the given model id.
func (r *Registry) ForModel(modelID string) (Provider, error) {
	p, ok := r.modelIndex[modelID]
	if !ok {
		return Provider{}, fmt.Errorf("model not available: %s", modelID)
	}
	return p, nil
}
