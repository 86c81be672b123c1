// Package routing implements the Routing Engine:
// selecting which adapter handles a task, with an explicit-agent
// override, a policy-rule lookup with fallback walk, an
// alphabetical-healthy-adapter fallback, and an advisory-only monitor
// recommendation that never overrides policy. Agent/model selection is
// a pure lookup-table decision, the same shape as
// contracts.ModelCatalog's role-based selection.
package routing

import (
	"context"
	"fmt"

	"github.com/substratehq/substrate/internal/adapter"
	"github.com/substratehq/substrate/internal/logging"
	"github.com/substratehq/substrate/internal/taskgraph"
)

// BillingMode is the adapter's charge model for a dispatched task.
type BillingMode string

const (
	BillingSubscription BillingMode = "subscription"
	BillingAPI          BillingMode = "api"
	BillingUnavailable  BillingMode = "unavailable"
)

// Confidence is how sure a MonitorAgent is about its recommendation.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Recommendation is a MonitorAgent's advisory suggestion for a task type.
type Recommendation struct {
	Agent      string
	Confidence Confidence
}

// MonitorAgent supplies advisory routing recommendations. Errors must
// never disrupt routing: the engine treats any error
// as "no recommendation" and proceeds.
type MonitorAgent interface {
	GetRecommendation(taskType string) (Recommendation, error)
}

// RoutingRule is one policy entry for a task type.
type RoutingRule struct {
	PreferredProvider string
	FallbackProviders []string
}

// Policy is the loaded routing policy.
type Policy struct {
	UseMonitorRecommendations bool
	Rules                     map[string]RoutingRule // keyed by task type
}

// Decision is the outcome of one routing call.
type Decision struct {
	Agent              string
	BillingMode        BillingMode
	Rationale          string
	MonitorInfluenced  bool
	MonitorRecommended *Recommendation
}

// Engine selects an adapter for a task against the registered adapters,
// an optional policy, and an optional monitor.
type Engine struct {
	registry *adapter.Registry
	monitor  MonitorAgent
}

// NewEngine constructs a routing Engine. monitor may be nil.
func NewEngine(registry *adapter.Registry, monitor MonitorAgent) *Engine {
	return &Engine{registry: registry, monitor: monitor}
}

func normalizeAgent(id string) string {
	if normalized, ok := taskgraph.AgentAliases[id]; ok {
		return normalized
	}
	return id
}

// Route picks an adapter for a task of the given taskType, honoring an
// explicit agentId override before consulting policy.
func (e *Engine) Route(ctx context.Context, agentID, taskType string, policy *Policy) Decision {
	agentID = normalizeAgent(agentID)

	if agentID != "" {
		if e.registry.Available(agentID) && e.registry.Healthy(ctx, agentID) {
			return e.resolved(agentID, fmt.Sprintf("explicit agentId %q is registered and healthy", agentID))
		}
		logging.Warnf("event=routing_explicit_agent_unavailable agent=%s task_type=%s", agentID, taskType)
	}

	if policy != nil {
		if rule, ok := policy.Rules[taskType]; ok {
			if dec, ok := e.tryPolicyRule(ctx, rule, taskType); ok {
				return e.withMonitorAdvisory(ctx, dec, taskType, policy)
			}
		}
	}

	for _, candidate := range e.registry.HealthyAdaptersForType(ctx, taskType) {
		dec := e.resolved(candidate, fmt.Sprintf("alphabetical healthy adapter for task type %q", taskType))
		return e.withMonitorAdvisory(ctx, dec, taskType, policy)
	}

	return Decision{
		Agent:       "",
		BillingMode: BillingUnavailable,
		Rationale:   fmt.Sprintf("no registered, healthy adapter supports task type %q", taskType),
	}
}

func (e *Engine) tryPolicyRule(ctx context.Context, rule RoutingRule, taskType string) (Decision, bool) {
	preferred := normalizeAgent(rule.PreferredProvider)
	if preferred != "" && e.registry.Available(preferred) && e.registry.Healthy(ctx, preferred) {
		return e.resolved(preferred, fmt.Sprintf("policy preferred_provider %q for task type %q", preferred, taskType)), true
	}
	for _, fallback := range rule.FallbackProviders {
		fallback = normalizeAgent(fallback)
		if e.registry.Available(fallback) && e.registry.Healthy(ctx, fallback) {
			return e.resolved(fallback, fmt.Sprintf("policy fallback_provider %q for task type %q (preferred %q unavailable)", fallback, taskType, preferred)), true
		}
	}
	return Decision{}, false
}

func (e *Engine) resolved(agentID, rationale string) Decision {
	mode, ok := e.registry.BillingMode(agentID)
	if !ok || mode == "" {
		mode = string(BillingAPI)
	}
	return Decision{Agent: agentID, BillingMode: BillingMode(mode), Rationale: rationale}
}

// withMonitorAdvisory attaches a medium/high-confidence monitor
// recommendation to dec without ever changing the selected agent: the
// policy decision always wins.
func (e *Engine) withMonitorAdvisory(ctx context.Context, dec Decision, taskType string, policy *Policy) Decision {
	if e.monitor == nil || policy == nil || !policy.UseMonitorRecommendations {
		return dec
	}

	rec, err := e.monitor.GetRecommendation(taskType)
	if err != nil {
		logging.WithFields(map[string]any{"task_type": taskType, "err": err.Error()}).Warn("routing: monitor recommendation failed, proceeding without it")
		return dec
	}
	if rec.Confidence != ConfidenceMedium && rec.Confidence != ConfidenceHigh {
		return dec
	}

	dec.MonitorInfluenced = true
	recCopy := rec
	dec.MonitorRecommended = &recCopy

	if rec.Agent != "" && rec.Agent != dec.Agent {
		logging.WithFields(map[string]any{
			"task_type":         taskType,
			"policy_agent":      dec.Agent,
			"recommended_agent": rec.Agent,
			"confidence":        string(rec.Confidence),
		}).Debug("routing: policy overrides monitor recommendation")
	}

	return dec
}
