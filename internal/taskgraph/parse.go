package taskgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDocument parses a task-graph document from raw bytes. JSON is
// used when path ends in ".json" or the first non-whitespace byte is
// '{'; otherwise YAML is assumed. The order tasks
// first appear in the source is preserved in Document.TaskOrder.
func ParseDocument(data []byte, path string) (*Document, error) {
	var doc Document
	if looksLikeJSON(data, path) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("taskgraph: parse JSON: %w", err)
		}
		doc.TaskOrder = jsonTaskOrder(data)
		return &doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("taskgraph: parse YAML: %w", err)
	}
	doc.TaskOrder = yamlTaskOrder(data)
	return &doc, nil
}

func looksLikeJSON(data []byte, path string) bool {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return true
	}
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

// yamlTaskOrder walks the raw document tree to recover the order keys
// appear under the top-level "tasks" mapping.
func yamlTaskOrder(data []byte) []string {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil || len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "tasks" && doc.Content[i+1].Kind == yaml.MappingNode {
			tasksNode := doc.Content[i+1]
			order := make([]string, 0, len(tasksNode.Content)/2)
			for j := 0; j+1 < len(tasksNode.Content); j += 2 {
				order = append(order, tasksNode.Content[j].Value)
			}
			return order
		}
	}
	return nil
}

// jsonTaskOrder walks the raw JSON token stream to recover key order
// under the top-level "tasks" object.
func jsonTaskOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	inTasks := false
	tasksDepth := -1
	var order []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case json.Delim:
			if t == '{' || t == '[' {
				depth++
			} else {
				depth--
				if inTasks && depth < tasksDepth {
					inTasks = false
				}
			}
		case string:
			if !inTasks && depth == 1 && t == "tasks" {
				inTasks = true
				tasksDepth = depth + 1
				continue
			}
			if inTasks && depth == tasksDepth {
				order = append(order, t)
			}
		}
	}
	return order
}

// RenderYAML re-serializes a Document to YAML, used for round-trip
// tests and for persisting a PlanVersion's task_graph_yaml.
func RenderYAML(doc *Document) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("taskgraph: render YAML: %w", err)
	}
	return out, nil
}
