package workflow

import (
	"fmt"

	"github.com/commflow/commflow/model"
)

// Validate checks a workflow graph at activation time. A workflow failing
// structural validation never runs.
func Validate(wf *model.Workflow) error {
	if len(wf.Nodes) == 0 {
		return model.StructuralValidationError{Message: "workflow has no nodes"}
	}
	seen := make(map[string]bool, len(wf.Nodes))
	for _, node := range wf.Nodes {
		if node.Id == "" {
			return model.StructuralValidationError{Message: "node with empty id"}
		}
		if seen[node.Id] {
			return model.StructuralValidationError{Message: fmt.Sprintf("duplicate node id %s", node.Id)}
		}
		seen[node.Id] = true
	}
	g := newGraph(wf)
	for _, conn := range wf.Connections {
		if !seen[conn.SourceId] {
			return model.StructuralValidationError{Message: fmt.Sprintf("connection references unknown source %s", conn.SourceId)}
		}
		if !seen[conn.TargetId] {
			return model.StructuralValidationError{Message: fmt.Sprintf("connection references unknown target %s", conn.TargetId)}
		}
	}
	if g.entry() == "" {
		return model.StructuralValidationError{Message: "workflow must have exactly one entry node"}
	}
	if g.hasCycle() {
		return model.StructuralValidationError{Message: "workflow graph contains a cycle"}
	}
	for _, node := range wf.Nodes {
		if node.Type != model.NODE_CONDITION {
			continue
		}
		handles := map[string]bool{}
		for _, conn := range g.outgoing[node.Id] {
			handles[conn.SourceHandle] = true
		}
		if !handles[model.HANDLE_TRUE] || !handles[model.HANDLE_FALSE] {
			return model.StructuralValidationError{
				Message: fmt.Sprintf("condition node %s must have true and false branches", node.Id),
			}
		}
	}
	return nil
}
