package configsys

// Merge combines base and override: later layers only override keys
// they specify, nested objects are preserved field by field, and
// slices are replaced wholesale. This is written as one explicit merge
// per nested shape rather than a generic deep-merge over reflection,
// so each merge stays total and typo-proof.
func Merge(base, override *Config) *Config {
	out := base.clone()
	if override == nil {
		return out
	}

	if override.ConfigFormatVersion != "" {
		out.ConfigFormatVersion = override.ConfigFormatVersion
	}
	mergeGlobal(&out.Global, override.Global)
	mergeProviders(out, override.Providers)
	mergeRoutingPolicy(&out.RoutingPolicy, override.RoutingPolicy)
	mergeBudget(&out.Budget, override.Budget)
	return out
}

func mergeGlobal(base *GlobalConfig, override GlobalConfig) {
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.MaxConcurrentTasks != 0 {
		base.MaxConcurrentTasks = override.MaxConcurrentTasks
	}
	if override.BudgetCapTokens != 0 {
		base.BudgetCapTokens = override.BudgetCapTokens
	}
	if override.BudgetCapUSD != 0 {
		base.BudgetCapUSD = override.BudgetCapUSD
	}
	if override.WorkspaceDir != "" {
		base.WorkspaceDir = override.WorkspaceDir
	}
}

// mergeProviders overrides or adds one entry per provider id named in
// override; a provider present in base but absent from override is left
// untouched. Each named provider's fields are merged individually so an
// env-layer override that sets only Enabled doesn't erase the rest of
// the provider block a lower layer already configured.
func mergeProviders(out *Config, override map[string]ProviderConfig) {
	for id, p := range override {
		base := out.Providers[id]
		if p.Enabled != nil {
			base.Enabled = p.Enabled
		}
		if p.SubscriptionRouting != "" {
			base.SubscriptionRouting = p.SubscriptionRouting
		}
		if p.MaxConcurrent != 0 {
			base.MaxConcurrent = p.MaxConcurrent
		}
		if p.CLIPath != "" {
			base.CLIPath = p.CLIPath
		}
		if p.APIKeyEnv != "" {
			base.APIKeyEnv = p.APIKeyEnv
		}
		if p.RateLimit != nil {
			base.RateLimit = p.RateLimit
		}
		out.Providers[id] = base
	}
}

func mergeRoutingPolicy(base *RoutingPolicyConfig, override RoutingPolicyConfig) {
	if override.DefaultProvider != "" {
		base.DefaultProvider = override.DefaultProvider
	}
	if len(override.Rules) > 0 {
		base.Rules = append([]RoutingRuleConfig{}, override.Rules...)
	}
}

func mergeBudget(base *BudgetConfig, override BudgetConfig) {
	if override.DefaultTaskBudgetUSD != 0 {
		base.DefaultTaskBudgetUSD = override.DefaultTaskBudgetUSD
	}
	if override.DefaultSessionBudgetUSD != 0 {
		base.DefaultSessionBudgetUSD = override.DefaultSessionBudgetUSD
	}
	if override.PlanningCostsCountAgainstBudget {
		base.PlanningCostsCountAgainstBudget = true
	}
	if override.WarningThresholdPercent != 0 {
		base.WarningThresholdPercent = override.WarningThresholdPercent
	}
	if override.MaxAmendmentDepth != 0 {
		base.MaxAmendmentDepth = override.MaxAmendmentDepth
	}
}
