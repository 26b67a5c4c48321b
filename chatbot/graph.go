package chatbot

import "github.com/commflow/commflow/model"

type flowGraph struct {
	nodes    map[string]model.Node
	outgoing map[string][]model.Connection
	incoming map[string]int
}

func newFlowGraph(flow *model.ChatbotFlow) *flowGraph {
	g := &flowGraph{
		nodes:    make(map[string]model.Node, len(flow.Nodes)),
		outgoing: make(map[string][]model.Connection),
		incoming: make(map[string]int),
	}
	for _, node := range flow.Nodes {
		g.nodes[node.Id] = node
	}
	for _, conn := range flow.Connections {
		g.outgoing[conn.SourceId] = append(g.outgoing[conn.SourceId], conn)
		g.incoming[conn.TargetId]++
	}
	return g
}

func (g *flowGraph) entry() string {
	entry := ""
	for id := range g.nodes {
		if g.incoming[id] == 0 {
			if entry != "" {
				return ""
			}
			entry = id
		}
	}
	return entry
}

func (g *flowGraph) next(nodeId string, handle string) (string, bool) {
	for _, conn := range g.outgoing[nodeId] {
		if conn.SourceHandle == handle {
			return conn.TargetId, true
		}
	}
	// a labelled reply falls through to an unlabelled default edge if one exists
	if handle != "" {
		for _, conn := range g.outgoing[nodeId] {
			if conn.SourceHandle == "" {
				return conn.TargetId, true
			}
		}
	}
	return "", false
}

func (g *flowGraph) hasCycle() bool {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, conn := range g.outgoing[id] {
			if visit(conn.TargetId) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for id := range g.nodes {
		if visit(id) {
			return true
		}
	}
	return false
}
