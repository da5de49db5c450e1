package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Model describes one catalog entry from models.json.
type Model struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	Reasoning bool   `json:"reasoning"`
	Vision    bool   `json:"vision"`
}

// Catalog is the model list keyed by model id. A missing id resolves to a
// zero Model, which disables reasoning and vision handling.
type Catalog map[string]Model

func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, nil
		}
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("decode model catalog: %w", err)
	}
	catalog := make(Catalog, len(models))
	for _, model := range models {
		value := strings.TrimSpace(model.Value)
		if value == "" {
			continue
		}
		catalog[value] = model
	}
	return catalog, nil
}

func (c Catalog) Lookup(modelID string) Model {
	if c == nil {
		return Model{}
	}
	return c[strings.TrimSpace(modelID)]
}

func (c Catalog) SupportsVision(modelID string) bool {
	return c.Lookup(modelID).Vision
}

func (c Catalog) SupportsReasoning(modelID string) bool {
	return c.Lookup(modelID).Reasoning
}
