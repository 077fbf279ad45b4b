package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ModelOption is one selectable chat model with its capability tags.
type ModelOption struct {
	Provider     string   `json:"provider"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Recommended  bool     `json:"recommended,omitempty"`
}

var defaultModelCatalog = []ModelOption{
	{
		Provider:     "openai",
		Name:         "gpt-4o-mini",
		DisplayName:  "GPT-4o mini",
		Description:  "Fast, low-cost default for widget conversations.",
		Capabilities: []string{"chat"},
		Recommended:  true,
	},
	{
		Provider:     "openai",
		Name:         "gpt-4o",
		DisplayName:  "GPT-4o",
		Description:  "Higher quality answers for complex knowledge bases.",
		Capabilities: []string{"chat", "reasoning"},
	},
	{
		Provider:     "openai",
		Name:         "gpt-4.1-mini",
		DisplayName:  "GPT-4.1 mini",
		Description:  "Balanced model with a long context window.",
		Capabilities: []string{"chat", "long-context"},
	},
	{
		Provider:     "openai",
		Name:         "gpt-3.5-turbo",
		DisplayName:  "GPT-3.5 Turbo",
		Description:  "Legacy model kept for existing projects.",
		Capabilities: []string{"chat"},
	},
}

// Catalog is the set of models a project may select.
type Catalog struct {
	options []ModelOption
	names   map[string]struct{}
}

// LoadCatalog reads the catalog file when path is set, otherwise the built-in list.
// The configured default model is always selectable.
func LoadCatalog(path, defaultModel string) (*Catalog, error) {
	options := append([]ModelOption(nil), defaultModelCatalog...)

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("llm: read model catalog: %w", err)
		}
		parsed := parseModelCatalogJSON(string(data))
		if len(parsed) == 0 {
			return nil, fmt.Errorf("llm: model catalog %s contains no models", path)
		}
		options = parsed
	}

	catalog := NewCatalog(options)
	if model := strings.TrimSpace(defaultModel); model != "" && !catalog.Allows(model) {
		log.Info("llm: adding configured default model to catalog", "model", model)
		catalog = NewCatalog(append(options, ModelOption{Provider: "default", Name: model, Recommended: true}))
	}
	return catalog, nil
}

// NewCatalog normalizes and indexes the given options.
func NewCatalog(options []ModelOption) *Catalog {
	normalized := normalizeModelCatalog(options)
	names := make(map[string]struct{}, len(normalized))
	for _, option := range normalized {
		names[strings.ToLower(option.Name)] = struct{}{}
	}
	return &Catalog{options: normalized, names: names}
}

// Options returns a copy of the catalog entries.
func (c *Catalog) Options() []ModelOption {
	if c == nil {
		return nil
	}
	return append([]ModelOption(nil), c.options...)
}

// Allows reports whether name may be stored in a project's settings.
// An empty name selects the server default and is always allowed.
func (c *Catalog) Allows(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || c == nil {
		return true
	}
	_, ok := c.names[strings.ToLower(name)]
	return ok
}

func parseModelCatalogJSON(raw string) []ModelOption {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var wrapped struct {
		Models []ModelOption `json:"models"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && len(wrapped.Models) > 0 {
		return normalizeModelCatalog(wrapped.Models)
	}

	var list []ModelOption
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil && len(list) > 0 {
		return normalizeModelCatalog(list)
	}

	return nil
}

func normalizeModelCatalog(list []ModelOption) []ModelOption {
	if len(list) == 0 {
		return nil
	}

	result := make([]ModelOption, 0, len(list))
	seen := make(map[string]struct{}, len(list))

	for _, item := range list {
		provider := strings.TrimSpace(item.Provider)
		name := strings.TrimSpace(item.Name)
		if provider == "" || name == "" {
			continue
		}

		key := strings.ToLower(name)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		option := ModelOption{
			Provider:     provider,
			Name:         name,
			DisplayName:  strings.TrimSpace(item.DisplayName),
			Description:  strings.TrimSpace(item.Description),
			Capabilities: normalizeStringSlice(item.Capabilities),
			Recommended:  item.Recommended,
		}
		if option.DisplayName == "" {
			option.DisplayName = name
		}

		result = append(result, option)
	}

	return result
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if _, exists := seen[lowered]; exists {
			continue
		}
		seen[lowered] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
