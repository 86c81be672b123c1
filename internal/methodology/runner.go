package methodology

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/substratehq/substrate/internal/decisionstore"
	"github.com/substratehq/substrate/internal/dispatch"
)

// TokensPerDecision is the per-decision prompt-budget bump:
// budget = min(base + count*100, absoluteMax).
const TokensPerDecision = 100

// DefaultAbsoluteMaxPromptTokens is the tunable cap on a step's prompt,
// standing in for a per-agent context-window ceiling.
const DefaultAbsoluteMaxPromptTokens = 8000

// CategoryPriority orders decision categories from highest to lowest
// priority when summarizing a prompt that exceeds budget.
var CategoryPriority = []string{"data", "auth", "api", "runtime", "storage", "observability", "ci", "other"}

func categoryRank(category string) int {
	for i, c := range CategoryPriority {
		if c == category {
			return i
		}
	}
	return len(CategoryPriority)
}

// TemplateLoader loads a prompt template by taskType.
type TemplateLoader interface {
	Load(taskType string) (string, error)
}

// DispatchFunc sends a resolved prompt to the routed agent and returns
// its DispatchResult. The Step Runner does not choose the agent or
// manage the subprocess; that is the Routing Engine's and the
// Dispatcher's job.
type DispatchFunc func(taskType, prompt string) (*dispatch.DispatchResult, error)

// Runner executes ordered StepDefinitions against one pipeline run.
type Runner struct {
	store                  *decisionstore.Store
	templates              TemplateLoader
	dispatchFn             DispatchFunc
	absoluteMaxPromptTokens int
}

// NewRunner constructs a Runner. absoluteMaxPromptTokens <= 0 uses
// DefaultAbsoluteMaxPromptTokens.
func NewRunner(store *decisionstore.Store, templates TemplateLoader, dispatchFn DispatchFunc, absoluteMaxPromptTokens int) *Runner {
	if absoluteMaxPromptTokens <= 0 {
		absoluteMaxPromptTokens = DefaultAbsoluteMaxPromptTokens
	}
	return &Runner{store: store, templates: templates, dispatchFn: dispatchFn, absoluteMaxPromptTokens: absoluteMaxPromptTokens}
}

// stepOutputs remembers each completed step's parsed output (minus
// "result"), keyed by step name, to satisfy "step:<priorStepName>"
// context references.
type stepOutputs map[string]map[string]any

// RunPhase executes steps sequentially for pipelineRunID/phase,
// halting at the first failure.
func (r *Runner) RunPhase(pipelineRunID, phase string, steps []StepDefinition, params map[string]string) PhaseResult {
	result := PhaseResult{Success: true}
	outputs := stepOutputs{}

	for _, step := range steps {
		sr, parsed, err := r.runStep(pipelineRunID, phase, step, params, outputs)
		result.Steps = append(result.Steps, sr)
		result.TokenUsage.Input += sr.TokenEstimate.Input
		result.TokenUsage.Output += sr.TokenEstimate.Output

		if err != nil {
			result.Success = false
			result.Error = err.Error()
			return result
		}
		if !sr.Success {
			result.Success = false
			result.Error = sr.Error
			return result
		}
		outputs[step.Name] = parsed
	}

	return result
}

func (r *Runner) runStep(pipelineRunID, phase string, step StepDefinition, params map[string]string, outputs stepOutputs) (sr StepResult, parsed map[string]any, stepErr error) {
	sr.Name = step.Name

	defer func() {
		if rec := recover(); rec != nil {
			sr.Success = false
			sr.Error = fmt.Sprintf("unexpected error: %v", rec)
			stepErr = nil
		}
	}()

	vars, err := r.resolveContext(pipelineRunID, phase, step.Context, params, outputs)
	if err != nil {
		sr.Success = false
		sr.Error = fmt.Sprintf("unexpected error: %v", err)
		return sr, nil, nil
	}

	template, err := r.templates.Load(step.TaskType)
	if err != nil {
		sr.Success = false
		sr.Error = fmt.Sprintf("unexpected error: %v", err)
		return sr, nil, nil
	}

	decisionCount := countDecisions(vars)
	budget := step.BaseBudget + decisionCount*TokensPerDecision
	if budget > r.absoluteMaxPromptTokens || budget <= 0 {
		budget = r.absoluteMaxPromptTokens
	}

	prompt := interpolate(template, vars)
	if estimateTokens(prompt) > budget {
		prompt = summarize(template, vars, budget)
		if estimateTokens(prompt) > budget {
			sr.Success = false
			sr.Error = "prompt exceeds budget after summarization"
			return sr, nil, nil
		}
	}

	dres, err := r.dispatchFn(step.TaskType, prompt)
	if err != nil {
		sr.Success = false
		sr.Error = fmt.Sprintf("dispatch failed: %v", err)
		return sr, nil, nil
	}
	if dres == nil {
		sr.Success = false
		sr.Error = "dispatch failed"
		return sr, nil, nil
	}

	sr.TokenEstimate = dres.TokenEstimate

	switch dres.Status {
	case dispatch.StatusCompleted:
		// fall through
	case dispatch.StatusTimeout:
		sr.Success = false
		sr.Error = "timed out"
		return sr, nil, nil
	case dispatch.StatusCancelled:
		sr.Success = false
		sr.Error = "cancelled"
		return sr, nil, nil
	default:
		sr.Success = false
		sr.Error = "dispatch failed"
		return sr, nil, nil
	}

	parsedMap, ok := dres.Parsed.(map[string]any)
	if !ok || dres.Parsed == nil {
		sr.Success = false
		sr.Error = "schema validation failed"
		if dres.ParseError != nil {
			sr.ParseError = dres.ParseError.Error()
		}
		return sr, nil, nil
	}

	if resultVal, ok := parsedMap["result"].(string); ok && resultVal == "failed" {
		sr.Success = false
		sr.Error = "agent reported failure"
		return sr, nil, nil
	}

	if err := r.persist(pipelineRunID, phase, step, parsedMap); err != nil {
		sr.Success = false
		sr.Error = fmt.Sprintf("unexpected error: %v", err)
		return sr, nil, nil
	}

	if step.RegisterArtifact != nil {
		summary := ""
		if step.RegisterArtifact.Summarize != nil {
			summary = step.RegisterArtifact.Summarize(parsedMap)
		}
		if _, err := r.store.CreateArtifact(pipelineRunID, phase, step.RegisterArtifact.Type, step.RegisterArtifact.Path, "", summary); err != nil {
			sr.Success = false
			sr.Error = fmt.Sprintf("unexpected error: %v", err)
			return sr, nil, nil
		}
	}

	sr.Success = true
	return sr, withoutResult(parsedMap), nil
}

func withoutResult(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "result" {
			continue
		}
		out[k] = v
	}
	return out
}

// persist applies each PersistRule against the step's parsed output.
func (r *Runner) persist(pipelineRunID, phase string, step StepDefinition, parsed map[string]any) error {
	for _, rule := range step.Persist {
		val, ok := parsed[rule.Field]
		if !ok {
			continue
		}

		if rule.Key != ArrayKey {
			if _, err := r.store.UpsertDecision(pipelineRunID, phase, rule.Category, rule.Key, toString(val), ""); err != nil {
				return err
			}
			continue
		}

		items, ok := val.([]any)
		if !ok {
			continue
		}
		for i, item := range items {
			key := fmt.Sprintf("%s-%d", step.Name, i)
			if _, err := r.store.UpsertDecision(pipelineRunID, phase, rule.Category, key, toString(item), ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func countDecisions(vars map[string]string) int {
	total := 0
	for _, v := range vars {
		total += strings.Count(v, "\n- ")
	}
	return total
}

func interpolate(template string, vars map[string]string) string {
	out := template
	for placeholder, value := range vars {
		out = strings.ReplaceAll(out, "{{"+placeholder+"}}", value)
	}
	return out
}

func estimateTokens(s string) int {
	return len(s) / 4
}

// resolveContext resolves every ContextRef to its rendered string
// value.
func (r *Runner) resolveContext(pipelineRunID, phase string, refs []ContextRef, params map[string]string, outputs stepOutputs) (map[string]string, error) {
	vars := make(map[string]string, len(refs))
	for _, ref := range refs {
		val, err := r.resolveOne(pipelineRunID, ref.Source, params, outputs)
		if err != nil {
			return nil, err
		}
		vars[ref.Placeholder] = val
	}
	return vars, nil
}

func (r *Runner) resolveOne(pipelineRunID, source string, params map[string]string, outputs stepOutputs) (string, error) {
	switch {
	case strings.HasPrefix(source, "param:"):
		return params[strings.TrimPrefix(source, "param:")], nil

	case strings.HasPrefix(source, "decision:"):
		rest := strings.TrimPrefix(source, "decision:")
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("malformed decision context ref %q", source)
		}
		sourcePhase, category := parts[0], parts[1]
		decisions, err := r.store.GetDecisionsByPhaseForRun(pipelineRunID, sourcePhase)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", source, err)
		}
		var filtered []decisionstore.Decision
		for _, d := range decisions {
			if d.Category == category && d.Active() {
				filtered = append(filtered, d)
			}
		}
		return renderDecisionsMarkdown(category, filtered), nil

	case strings.HasPrefix(source, "step:"):
		stepName := strings.TrimPrefix(source, "step:")
		priorOutput, ok := outputs[stepName]
		if !ok {
			return "", nil
		}
		return renderStepOutput(priorOutput), nil

	default:
		return "", fmt.Errorf("unknown context source %q", source)
	}
}

// renderDecisionsMarkdown renders a category's decisions as a markdown
// section: header, bulleted "key: value (rationale)" entries, with
// array values (JSON-encoded) rendered as sub-bullets.
func renderDecisionsMarkdown(category string, decisions []decisionstore.Decision) string {
	if len(decisions) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", category)
	for _, d := range decisions {
		var arr []any
		if json.Unmarshal([]byte(d.Value), &arr) == nil && strings.HasPrefix(strings.TrimSpace(d.Value), "[") {
			fmt.Fprintf(&b, "- %s: (%s)\n", d.Key, d.Rationale)
			for _, item := range arr {
				fmt.Fprintf(&b, "  - %v\n", item)
			}
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", d.Key, d.Value, d.Rationale)
	}
	return b.String()
}

func renderStepOutput(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, toString(fields[k]))
	}
	return b.String()
}

// summarize replaces decision dumps with a compact, category-priority
// sorted list, trimming lowest-priority entries until the prompt fits
// budget.
func summarize(template string, vars map[string]string, budget int) string {
	type entry struct {
		category string
		line     string
	}

	compactVars := make(map[string]string, len(vars))
	for placeholder, value := range vars {
		lines := strings.Split(value, "\n")
		var entries []entry
		category := "other"
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "## ") {
				category = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
				continue
			}
			if strings.HasPrefix(trimmed, "- ") {
				compact := trimmed
				if idx := strings.Index(compact, ":"); idx >= 0 {
					compact = truncate(compact, 120)
				}
				entries = append(entries, entry{category: category, line: compact})
			}
		}

		sort.SliceStable(entries, func(i, j int) bool {
			return categoryRank(entries[i].category) < categoryRank(entries[j].category)
		})

		for len(entries) > 0 {
			var b strings.Builder
			for _, e := range entries {
				b.WriteString(e.line)
				b.WriteString("\n")
			}
			compactVars[placeholder] = b.String()
			candidate := interpolate(template, withOverride(vars, placeholder, compactVars[placeholder]))
			if estimateTokens(candidate) <= budget {
				break
			}
			entries = entries[:len(entries)-1]
		}
		if _, ok := compactVars[placeholder]; !ok {
			compactVars[placeholder] = ""
		}
	}

	return interpolate(template, compactVars)
}

func withOverride(vars map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	out[key] = value
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
