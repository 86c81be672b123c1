package contracts

// ModelRole represents the intended use case for a model.
type ModelRole string

const (
	// RoleFlagship - maximum quality, for critical tasks.
	RoleFlagship ModelRole = "flagship"
	// RoleBalanced - good quality/cost ratio, the default.
	RoleBalanced ModelRole = "balanced"
	// RoleFast - cheap and fast, for auxiliary tasks.
	RoleFast ModelRole = "fast"
)

// ModelInfo contains pricing and capability metadata for one model an
// agent can execute with. Costs are USD per 1M tokens.
type ModelInfo struct {
	ID              ModelID   `json:"id"`
	Provider        string    `json:"provider"`
	Agent           AgentID   `json:"agent"` // the adapter that drives this model
	MaxContext      int       `json:"max_context"`
	InputCostPer1M  float64   `json:"input_cost_per_1m"`
	OutputCostPer1M float64   `json:"output_cost_per_1m"`
	DefaultRole     ModelRole `json:"default_role"`
	SupportsTools   bool      `json:"supports_tools"`
}

// AverageCostPer1M returns the average cost per 1M tokens, used when a
// token count has no input/output split.
func (m ModelInfo) AverageCostPer1M() float64 {
	return (m.InputCostPer1M + m.OutputCostPer1M) / 2
}

// ModelCatalog provides model information and role-based selection.
type ModelCatalog interface {
	// Get returns model info by ID.
	Get(id ModelID) (ModelInfo, bool)

	// GetByRole returns the default model for a given role.
	GetByRole(role ModelRole) (ModelInfo, bool)

	// DefaultForAgent returns the default model dispatched through the
	// given agent adapter.
	DefaultForAgent(agent AgentID) (ModelInfo, bool)

	// List returns all available models.
	List() []ModelInfo

	// SetRoleMapping sets which model ID to use for a role.
	SetRoleMapping(role ModelRole, modelID ModelID) error
}
