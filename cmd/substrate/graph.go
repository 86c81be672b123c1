package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/substratehq/substrate/contracts"
	"github.com/substratehq/substrate/internal/cliout"
	"github.com/substratehq/substrate/internal/taskgraph"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect and validate task-graph documents",
	}
	cmd.AddCommand(newGraphValidateCmd())
	cmd.AddCommand(newGraphShowCmd())
	return cmd
}

// loadGraphDocument parses a task-graph file (YAML or JSON by extension
// or leading byte).
func loadGraphDocument(path string) (*taskgraph.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := taskgraph.ParseDocument(data, path)
	if err != nil {
		return nil, usageError{fmt.Errorf("parsing %s: %w", path, err)}
	}
	return doc, nil
}

// validationReport is the JSON shape `graph validate --json` emits.
type validationReport struct {
	Valid     bool                `json:"valid"`
	Errors    []issueReport       `json:"errors,omitempty"`
	Warnings  []issueReport       `json:"warnings,omitempty"`
	AutoFixed []taskgraph.AliasFix `json:"auto_fixed,omitempty"`
	Summary   string              `json:"summary,omitempty"`
}

type issueReport struct {
	Category   string `json:"category"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func toIssueReports(issues []taskgraph.Issue) []issueReport {
	out := make([]issueReport, 0, len(issues))
	for _, i := range issues {
		out = append(out, issueReport{
			Category:   string(i.Category),
			Field:      i.Field,
			Message:    i.Message,
			Suggestion: i.Suggestion,
		})
	}
	return out
}

func newGraphValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a task-graph document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadGraphDocument(args[0])
			if err != nil {
				return err
			}

			graph, res := taskgraph.Validate(doc, nil)

			report := validationReport{
				Valid:     res.Valid,
				Errors:    toIssueReports(res.Errors),
				Warnings:  toIssueReports(res.Warnings),
				AutoFixed: res.AutoFixed,
			}
			if res.Valid && graph != nil {
				adj := graph.BuildAdjacencyList()
				report.Summary = adj.Summary(len(graph.Tasks))
			}

			if flagJSON {
				enc := cliout.NewEncoder(cmd.OutOrStdout(), "graph validate")
				if !res.Valid {
					_ = enc.Emit(report)
					return usageError{fmt.Errorf("graph is invalid: %w", contracts.ErrValidation)}
				}
				return enc.Emit(report)
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s: %s\n", w.Category, w.Message)
			}
			for _, fix := range res.AutoFixed {
				fmt.Fprintf(cmd.OutOrStdout(), "normalized: task %s agent %s -> %s\n", fix.TaskID, fix.From, fix.To)
			}
			if !res.Valid {
				for _, e := range res.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "error: %s: %s\n", e.Category, e.Message)
				}
				return usageError{fmt.Errorf("graph is invalid: %w", contracts.ErrValidation)}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", report.Summary)
			return nil
		},
	}
}

func newGraphShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <graph-file>",
		Short: "Show a graph's adjacency and execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadGraphDocument(args[0])
			if err != nil {
				return err
			}
			graph, res := taskgraph.Validate(doc, nil)
			if !res.Valid {
				return usageError{fmt.Errorf("graph is invalid, run `substrate graph validate`: %w", contracts.ErrValidation)}
			}

			adj := graph.BuildAdjacencyList()
			order := graph.TopoSort()

			if flagJSON {
				return cliout.NewEncoder(cmd.OutOrStdout(), "graph show").Emit(map[string]any{
					"summary":    adj.Summary(len(graph.Tasks)),
					"roots":      adj.RootTasks,
					"leaves":     adj.LeafTasks,
					"max_depth":  adj.MaxDepth,
					"topo_order": order,
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), adj.Summary(len(graph.Tasks)))
			fmt.Fprintf(cmd.OutOrStdout(), "roots:  %v\n", adj.RootTasks)
			fmt.Fprintf(cmd.OutOrStdout(), "leaves: %v\n", adj.LeafTasks)
			fmt.Fprintf(cmd.OutOrStdout(), "order:  %v\n", order)
			return nil
		},
	}
}
