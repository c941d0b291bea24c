package router

// Default model identifiers per tier.
const (
	DefaultChatModel     = "google/gemini-3-flash-preview"
	DefaultToolModel     = "anthropic/claude-opus-4.5"
	DefaultFallbackModel = "openai/gpt-4.1"
)

// CostTier is a coarse price class.
type CostTier string

const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// ModelInfo describes one model the gateway can route to.
type ModelInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	SupportsVision bool     `json:"supportsVision"`
	SupportsTools  bool     `json:"supportsTools"`
	CostTier       CostTier `json:"costTier"`
	UseCase        string   `json:"useCase"`
}

// Catalog is a lookup table of known models.
type Catalog struct {
	models map[string]ModelInfo
	order  []string
}

// NewCatalog builds a catalog. Later entries with the same ID replace earlier ones.
func NewCatalog(models ...ModelInfo) *Catalog {
	c := &Catalog{models: make(map[string]ModelInfo, len(models))}
	for _, m := range models {
		if _, ok := c.models[m.ID]; !ok {
			c.order = append(c.order, m.ID)
		}
		c.models[m.ID] = m
	}
	return c
}

// DefaultCatalog returns the built-in model list including legacy models
// still accepted as overrides.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ModelInfo{ID: DefaultChatModel, Name: "Gemini 3 Flash", SupportsVision: true, SupportsTools: false, CostTier: CostLow, UseCase: "chat and vision"},
		ModelInfo{ID: DefaultToolModel, Name: "Claude Opus 4.5", SupportsVision: true, SupportsTools: true, CostTier: CostHigh, UseCase: "tool calling"},
		ModelInfo{ID: DefaultFallbackModel, Name: "GPT-4.1", SupportsVision: true, SupportsTools: true, CostTier: CostMedium, UseCase: "fallback"},
		ModelInfo{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", SupportsVision: true, SupportsTools: true, CostTier: CostLow, UseCase: "legacy"},
		ModelInfo{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", SupportsVision: true, SupportsTools: true, CostTier: CostLow, UseCase: "legacy"},
		ModelInfo{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", SupportsVision: true, SupportsTools: true, CostTier: CostMedium, UseCase: "legacy"},
		ModelInfo{ID: "openai/gpt-4o", Name: "GPT-4o", SupportsVision: true, SupportsTools: true, CostTier: CostMedium, UseCase: "legacy"},
	)
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (ModelInfo, bool) {
	m, ok := c.models[id]
	return m, ok
}

// SupportsTools reports whether a model can call tools. Unknown models are
// assumed to support them.
func (c *Catalog) SupportsTools(id string) bool {
	m, ok := c.models[id]
	if !ok {
		return true
	}
	return m.SupportsTools
}

// List returns all models in registration order.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}
