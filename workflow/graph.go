package workflow

import (
	"github.com/commflow/commflow/model"
)

// graph is an indexed view of a workflow's nodes and connections.
type graph struct {
	nodes    map[string]model.Node
	outgoing map[string][]model.Connection
	incoming map[string]int
}

func newGraph(wf *model.Workflow) *graph {
	g := &graph{
		nodes:    make(map[string]model.Node, len(wf.Nodes)),
		outgoing: make(map[string][]model.Connection),
		incoming: make(map[string]int),
	}
	for _, node := range wf.Nodes {
		g.nodes[node.Id] = node
	}
	for _, conn := range wf.Connections {
		g.outgoing[conn.SourceId] = append(g.outgoing[conn.SourceId], conn)
		g.incoming[conn.TargetId]++
	}
	return g
}

// entry returns the single node with no incoming connection, or "" if there is
// not exactly one.
func (g *graph) entry() string {
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

// next returns the target of the outgoing connection with the given handle.
// An empty handle matches the first unlabelled connection.
func (g *graph) next(nodeId string, handle string) (string, bool) {
	for _, conn := range g.outgoing[nodeId] {
		if conn.SourceHandle == handle {
			return conn.TargetId, true
		}
	}
	return "", false
}

func (g *graph) hasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
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
