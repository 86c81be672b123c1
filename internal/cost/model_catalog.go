package cost

import (
	"fmt"
	"sync"

	"github.com/substratehq/substrate/contracts"
)

// DefaultModels is the built-in pricing catalog covering the models the
// three stock agents dispatch to. Prices are USD per 1M tokens. A
// different catalog can be supplied through NewModelCatalogWithModels;
// the config file has no pricing keys.
var DefaultModels = []contracts.ModelInfo{
	{
		ID:              "claude-opus-4-5-20251101",
		Provider:        "anthropic",
		Agent:           "claude-code",
		MaxContext:      200000,
		InputCostPer1M:  15.0,
		OutputCostPer1M: 75.0,
		DefaultRole:     contracts.RoleFlagship,
		SupportsTools:   true,
	},
	{
		ID:              "claude-sonnet-4-5-20250929",
		Provider:        "anthropic",
		Agent:           "claude-code",
		MaxContext:      200000,
		InputCostPer1M:  3.0,
		OutputCostPer1M: 15.0,
		DefaultRole:     contracts.RoleBalanced,
		SupportsTools:   true,
	},
	{
		ID:              "claude-3-haiku-20240307",
		Provider:        "anthropic",
		Agent:           "claude-code",
		MaxContext:      200000,
		InputCostPer1M:  0.25,
		OutputCostPer1M: 1.25,
		DefaultRole:     contracts.RoleFast,
		SupportsTools:   true,
	},
	{
		ID:              "gpt-5.1-codex",
		Provider:        "openai",
		Agent:           "codex",
		MaxContext:      400000,
		InputCostPer1M:  1.25,
		OutputCostPer1M: 10.0,
		DefaultRole:     contracts.RoleBalanced,
		SupportsTools:   true,
	},
	{
		ID:              "gpt-5.1-codex-mini",
		Provider:        "openai",
		Agent:           "codex",
		MaxContext:      400000,
		InputCostPer1M:  0.25,
		OutputCostPer1M: 2.0,
		DefaultRole:     contracts.RoleFast,
		SupportsTools:   true,
	},
	{
		ID:              "gemini-2.5-pro",
		Provider:        "google",
		Agent:           "gemini",
		MaxContext:      1048576,
		InputCostPer1M:  1.25,
		OutputCostPer1M: 10.0,
		DefaultRole:     contracts.RoleBalanced,
		SupportsTools:   true,
	},
	{
		ID:              "gemini-2.5-flash",
		Provider:        "google",
		Agent:           "gemini",
		MaxContext:      1048576,
		InputCostPer1M:  0.30,
		OutputCostPer1M: 2.50,
		DefaultRole:     contracts.RoleFast,
		SupportsTools:   true,
	},
}

// DefaultRoleMappings maps roles to default model IDs.
var DefaultRoleMappings = map[contracts.ModelRole]contracts.ModelID{
	contracts.RoleFlagship: "claude-opus-4-5-20251101",
	contracts.RoleBalanced: "claude-sonnet-4-5-20250929",
	contracts.RoleFast:     "claude-3-haiku-20240307",
}

// DefaultAgentModels maps each agent adapter to the model it dispatches
// with when a task names the agent but not a model.
var DefaultAgentModels = map[contracts.AgentID]contracts.ModelID{
	"claude-code": "claude-sonnet-4-5-20250929",
	"codex":       "gpt-5.1-codex",
	"gemini":      "gemini-2.5-pro",
}

// modelCatalog implements contracts.ModelCatalog.
type modelCatalog struct {
	mu           sync.RWMutex
	models       map[contracts.ModelID]contracts.ModelInfo
	roleMappings map[contracts.ModelRole]contracts.ModelID
	agentModels  map[contracts.AgentID]contracts.ModelID
}

// NewModelCatalog creates a ModelCatalog with the built-in models.
func NewModelCatalog() contracts.ModelCatalog {
	return NewModelCatalogWithModels(DefaultModels, DefaultRoleMappings, DefaultAgentModels)
}

// NewModelCatalogWithModels creates a ModelCatalog with custom models.
func NewModelCatalogWithModels(models []contracts.ModelInfo, roleMappings map[contracts.ModelRole]contracts.ModelID, agentModels map[contracts.AgentID]contracts.ModelID) contracts.ModelCatalog {
	c := &modelCatalog{
		models:       make(map[contracts.ModelID]contracts.ModelInfo),
		roleMappings: make(map[contracts.ModelRole]contracts.ModelID),
		agentModels:  make(map[contracts.AgentID]contracts.ModelID),
	}
	for _, m := range models {
		c.models[m.ID] = m
	}
	for role, id := range roleMappings {
		c.roleMappings[role] = id
	}
	for agent, id := range agentModels {
		c.agentModels[agent] = id
	}
	return c
}

// Get returns model info by ID.
func (c *modelCatalog) Get(id contracts.ModelID) (contracts.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.models[id]
	return info, ok
}

// GetByRole returns the default model for a given role.
func (c *modelCatalog) GetByRole(role contracts.ModelRole) (contracts.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.roleMappings[role]
	if !ok {
		return contracts.ModelInfo{}, false
	}
	info, ok := c.models[id]
	return info, ok
}

// DefaultForAgent returns the model dispatched through the given agent
// when the task does not pin one.
func (c *modelCatalog) DefaultForAgent(agent contracts.AgentID) (contracts.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.agentModels[agent]
	if !ok {
		return contracts.ModelInfo{}, false
	}
	info, ok := c.models[id]
	return info, ok
}

// List returns all available models.
func (c *modelCatalog) List() []contracts.ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]contracts.ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		result = append(result, m)
	}
	return result
}

// SetRoleMapping sets which model ID to use for a role.
func (c *modelCatalog) SetRoleMapping(role contracts.ModelRole, modelID contracts.ModelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.models[modelID]; !ok {
		return fmt.Errorf("model %s not found: %w", modelID, contracts.ErrModelUnknown)
	}
	c.roleMappings[role] = modelID
	return nil
}
