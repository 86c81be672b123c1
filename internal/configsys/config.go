// Package configsys implements the layered Config System: built-in
// defaults, global user config, project config, environment variables,
// and CLI overrides merged in that order, with format-version
// migration and fsnotify-driven hot reload. It is distinct from the
// pack package, which loads methodology pack bundles.
package configsys

// CurrentFormatVersion is the format version this build writes and
// reads without migration.
const CurrentFormatVersion = "2"

// SupportedFormatVersions are the config_format_version values Load
// accepts without invoking the migrator.
var SupportedFormatVersions = map[string]bool{
	CurrentFormatVersion: true,
}

// Config is the root document shape: global runtime
// settings, per-provider adapter configuration, the routing policy, and
// budget defaults.
type Config struct {
	ConfigFormatVersion string                    `yaml:"config_format_version"`
	Global              GlobalConfig              `yaml:"global"`
	Providers           map[string]ProviderConfig `yaml:"providers"`
	RoutingPolicy       RoutingPolicyConfig       `yaml:"routing_policy"`
	Budget              BudgetConfig              `yaml:"budget"`
}

// GlobalConfig holds process-wide runtime settings.
type GlobalConfig struct {
	LogLevel           string  `yaml:"log_level"`
	MaxConcurrentTasks int     `yaml:"max_concurrent_tasks"`
	BudgetCapTokens    int64   `yaml:"budget_cap_tokens"`
	BudgetCapUSD       float64 `yaml:"budget_cap_usd"`
	WorkspaceDir       string  `yaml:"workspace_dir"`
}

// RateLimitConfig bounds a provider's request rate.
type RateLimitConfig struct {
	Tokens        int `yaml:"tokens"`
	WindowSeconds int `yaml:"window_seconds"`
}

// SubscriptionRouting selects how a provider bills a dispatch.
type SubscriptionRouting string

const (
	SubscriptionAuto     SubscriptionRouting = "auto"
	SubscriptionOnly     SubscriptionRouting = "subscription"
	SubscriptionAPI      SubscriptionRouting = "api"
	SubscriptionDisabled SubscriptionRouting = "disabled"
)

// ProviderConfig configures one agent adapter. Enabled is a pointer so a
// layer that doesn't mention a provider at all can be told apart from
// one that explicitly turns it off, letting mergeProviders override only
// the fields a layer actually specifies instead of
// replacing the whole provider block.
type ProviderConfig struct {
	Enabled             *bool               `yaml:"enabled,omitempty"`
	SubscriptionRouting SubscriptionRouting `yaml:"subscription_routing,omitempty"`
	MaxConcurrent       int                 `yaml:"max_concurrent,omitempty"`
	CLIPath             string              `yaml:"cli_path,omitempty"`
	APIKeyEnv           string              `yaml:"api_key_env,omitempty"`
	RateLimit           *RateLimitConfig    `yaml:"rate_limit,omitempty"`
}

// IsEnabled reports whether the provider is enabled, defaulting to true
// when unset.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func boolPtr(b bool) *bool { return &b }

// RoutingRuleConfig is one policy entry for a task type.
type RoutingRuleConfig struct {
	TaskType          string   `yaml:"task_type"`
	PreferredProvider string   `yaml:"preferred_provider"`
	FallbackProviders []string `yaml:"fallback_providers,omitempty"`
}

// RoutingPolicyConfig is the declarative routing policy loaded from disk.
type RoutingPolicyConfig struct {
	DefaultProvider string              `yaml:"default_provider,omitempty"`
	Rules           []RoutingRuleConfig `yaml:"rules,omitempty"`
}

// BudgetConfig holds the default budget caps and warning threshold
//. MaxAmendmentDepth is kept configurable rather than hardcoded.
type BudgetConfig struct {
	DefaultTaskBudgetUSD            float64 `yaml:"default_task_budget_usd"`
	DefaultSessionBudgetUSD         float64 `yaml:"default_session_budget_usd"`
	PlanningCostsCountAgainstBudget bool    `yaml:"planning_costs_count_against_budget"`
	WarningThresholdPercent         float64 `yaml:"warning_threshold_percent"`
	MaxAmendmentDepth               int     `yaml:"max_amendment_depth,omitempty"`
}

// Defaults returns the built-in default configuration, the lowest layer
// of the merge order.
func Defaults() *Config {
	return &Config{
		ConfigFormatVersion: CurrentFormatVersion,
		Global: GlobalConfig{
			LogLevel:           "info",
			MaxConcurrentTasks: 4,
			WorkspaceDir:       ".",
		},
		Providers: map[string]ProviderConfig{
			"claude-code": {Enabled: boolPtr(true), SubscriptionRouting: SubscriptionAuto, MaxConcurrent: 4},
			"codex":       {Enabled: boolPtr(true), SubscriptionRouting: SubscriptionAuto, MaxConcurrent: 4},
			"gemini":      {Enabled: boolPtr(true), SubscriptionRouting: SubscriptionAuto, MaxConcurrent: 4},
		},
		RoutingPolicy: RoutingPolicyConfig{},
		Budget: BudgetConfig{
			DefaultTaskBudgetUSD:    1.0,
			DefaultSessionBudgetUSD: 20.0,
			WarningThresholdPercent: 80,
			MaxAmendmentDepth:       10,
		},
	}
}

// clone returns a deep copy of c so merge steps never mutate a shared layer.
func (c *Config) clone() *Config {
	if c == nil {
		return Defaults()
	}
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for id, p := range c.Providers {
		pc := p
		if p.Enabled != nil {
			pc.Enabled = boolPtr(*p.Enabled)
		}
		if p.RateLimit != nil {
			rl := *p.RateLimit
			pc.RateLimit = &rl
		}
		out.Providers[id] = pc
	}
	out.RoutingPolicy.Rules = append([]RoutingRuleConfig{}, c.RoutingPolicy.Rules...)
	return &out
}
