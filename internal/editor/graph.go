package editor

import (
	"encoding/json"
)

// Node is one box on the canvas
type Node struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Edge connects two nodes by id
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the node/edge collection persisted as a diagram's payload
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ParseGraph decodes a stored payload; an empty payload is a blank graph
func ParseGraph(raw json.RawMessage) (Graph, error) {
	var g Graph
	if len(raw) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return Graph{}, err
	}
	return g, nil
}

// Marshal encodes the graph for storage, keeping the collections as
// arrays rather than null so clients never special-case an empty graph
func (g Graph) Marshal() (json.RawMessage, error) {
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	return json.Marshal(g)
}

// EmptyGraphJSON is the payload new diagrams start with
func EmptyGraphJSON() json.RawMessage {
	return json.RawMessage(`{"nodes":[],"edges":[]}`)
}

// RemoveNodeAndConnectedEdges drops the node and every edge whose source
// or target references it, as one transition, so no dangling edge survives
func RemoveNodeAndConnectedEdges(nodes []Node, edges []Edge, nodeID string) ([]Node, []Edge) {
	nextNodes := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != nodeID {
			nextNodes = append(nextNodes, n)
		}
	}

	nextEdges := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Source != nodeID && e.Target != nodeID {
			nextEdges = append(nextEdges, e)
		}
	}

	return nextNodes, nextEdges
}

// RemoveEdgeByID drops exactly the edge with the given id
func RemoveEdgeByID(edges []Edge, edgeID string) []Edge {
	next := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.ID != edgeID {
			next = append(next, e)
		}
	}
	return next
}
