package chatbot

import (
	"fmt"

	"github.com/commflow/commflow/model"
)

// ValidateFlow checks a chatbot graph at activation time. Menu nodes may loop
// back on re-prompt but the stored graph itself must be acyclic with one entry.
func ValidateFlow(flow *model.ChatbotFlow) error {
	if len(flow.Nodes) == 0 {
		return model.StructuralValidationError{Message: "chatbot flow has no nodes"}
	}
	seen := make(map[string]bool, len(flow.Nodes))
	for _, node := range flow.Nodes {
		if node.Id == "" {
			return model.StructuralValidationError{Message: "node with empty id"}
		}
		if seen[node.Id] {
			return model.StructuralValidationError{Message: fmt.Sprintf("duplicate node id %s", node.Id)}
		}
		seen[node.Id] = true
	}
	for _, conn := range flow.Connections {
		if !seen[conn.SourceId] || !seen[conn.TargetId] {
			return model.StructuralValidationError{
				Message: fmt.Sprintf("connection %s -> %s references unknown node", conn.SourceId, conn.TargetId),
			}
		}
	}
	g := newFlowGraph(flow)
	if g.entry() == "" {
		return model.StructuralValidationError{Message: "chatbot flow must have exactly one entry node"}
	}
	if g.hasCycle() {
		return model.StructuralValidationError{Message: "chatbot flow contains a cycle"}
	}
	for _, node := range flow.Nodes {
		if node.Type == model.NODE_CONDITION {
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
		if node.Type == model.NODE_MENU && len(optionLabels(node)) == 0 {
			return model.StructuralValidationError{
				Message: fmt.Sprintf("menu node %s has no options", node.Id),
			}
		}
	}
	return nil
}
