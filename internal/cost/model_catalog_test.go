package cost

import (
	"errors"
	"testing"

	"github.com/substratehq/substrate/contracts"
)

func TestModelCatalog_Get(t *testing.T) {
	c := NewModelCatalog()

	info, ok := c.Get("claude-sonnet-4-5-20250929")
	if !ok {
		t.Fatal("expected sonnet in default catalog")
	}
	if info.Provider != "anthropic" || info.Agent != "claude-code" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, ok := c.Get("nope"); ok {
		t.Fatal("Get of unknown model should report !ok")
	}
}

func TestModelCatalog_GetByRole(t *testing.T) {
	c := NewModelCatalog()
	for _, role := range []contracts.ModelRole{contracts.RoleFlagship, contracts.RoleBalanced, contracts.RoleFast} {
		info, ok := c.GetByRole(role)
		if !ok {
			t.Fatalf("no default model for role %s", role)
		}
		if info.DefaultRole != role {
			t.Fatalf("role %s mapped to model with default role %s", role, info.DefaultRole)
		}
	}
}

func TestModelCatalog_DefaultForAgent(t *testing.T) {
	c := NewModelCatalog()
	for _, agent := range []contracts.AgentID{"claude-code", "codex", "gemini"} {
		info, ok := c.DefaultForAgent(agent)
		if !ok {
			t.Fatalf("no default model for agent %s", agent)
		}
		if info.Agent != agent {
			t.Fatalf("agent %s mapped to model driven by %s", agent, info.Agent)
		}
	}
	if _, ok := c.DefaultForAgent("unknown-agent"); ok {
		t.Fatal("unknown agent should report !ok")
	}
}

func TestModelCatalog_SetRoleMapping(t *testing.T) {
	c := NewModelCatalog()

	if err := c.SetRoleMapping(contracts.RoleFast, "gemini-2.5-flash"); err != nil {
		t.Fatalf("SetRoleMapping: %v", err)
	}
	info, ok := c.GetByRole(contracts.RoleFast)
	if !ok || info.ID != "gemini-2.5-flash" {
		t.Fatalf("GetByRole after remap = %+v, %v", info, ok)
	}

	err := c.SetRoleMapping(contracts.RoleFast, "no-such-model")
	if !errors.Is(err, contracts.ErrModelUnknown) {
		t.Fatalf("SetRoleMapping unknown model = %v, want ErrModelUnknown", err)
	}
}

func TestModelCatalog_ListCoversAllProviders(t *testing.T) {
	c := NewModelCatalog()
	providers := map[string]bool{}
	for _, m := range c.List() {
		providers[m.Provider] = true
	}
	for _, p := range []string{"anthropic", "openai", "google"} {
		if !providers[p] {
			t.Fatalf("default catalog missing provider %s", p)
		}
	}
}
