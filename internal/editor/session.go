package editor

import (
	"collaborative-diagram-editor/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrReadOnly is returned by every mutating entry point of a viewer
// session; the session state is left untouched.
var ErrReadOnly = errors.New("diagram is read-only for this role")

// Saver persists a session's state back to the store
type Saver interface {
	Save(ctx context.Context, id string, name string, graph json.RawMessage) error
}

// Session is the per-open editing state of one diagram, gated by the
// effective role resolved when the diagram was opened. A role revoked
// mid-session does not downgrade an already-open session.
type Session struct {
	diagramID string
	role      domain.Role
	name      string
	graph     Graph
	saver     Saver
}

func NewSession(d *domain.Diagram, role domain.Role, saver Saver) (*Session, error) {
	graph, err := ParseGraph(d.Graph)
	if err != nil {
		return nil, fmt.Errorf("parse graph payload: %w", err)
	}

	return &Session{
		diagramID: d.ID,
		role:      role,
		name:      d.Name,
		graph:     graph,
		saver:     saver,
	}, nil
}

func (s *Session) Role() domain.Role {
	return s.role
}

func (s *Session) Name() string {
	return s.name
}

// Graph returns a copy of the current node/edge collections
func (s *Session) Graph() Graph {
	g := Graph{
		Nodes: make([]Node, len(s.graph.Nodes)),
		Edges: make([]Edge, len(s.graph.Edges)),
	}
	copy(g.Nodes, s.graph.Nodes)
	copy(g.Edges, s.graph.Edges)
	return g
}

func (s *Session) AddNode(label string, x, y float64) (*Node, error) {
	if s.role != domain.RoleEditor {
		return nil, ErrReadOnly
	}

	if label == "" {
		label = "New Node"
	}
	node := Node{
		ID:    uuid.NewString(),
		Label: label,
		X:     x,
		Y:     y,
	}
	s.graph.Nodes = append(s.graph.Nodes, node)
	return &node, nil
}

// RemoveNode drops the node and cascades to every edge touching it
func (s *Session) RemoveNode(nodeID string) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	if !s.hasNode(nodeID) {
		return fmt.Errorf("node %s not found", nodeID)
	}
	s.graph.Nodes, s.graph.Edges = RemoveNodeAndConnectedEdges(s.graph.Nodes, s.graph.Edges, nodeID)
	return nil
}

func (s *Session) AddEdge(source, target string) (*Edge, error) {
	if s.role != domain.RoleEditor {
		return nil, ErrReadOnly
	}

	if !s.hasNode(source) || !s.hasNode(target) {
		return nil, fmt.Errorf("edge endpoints %s -> %s not found", source, target)
	}
	edge := Edge{
		ID:     uuid.NewString(),
		Source: source,
		Target: target,
	}
	s.graph.Edges = append(s.graph.Edges, edge)
	return &edge, nil
}

func (s *Session) RemoveEdge(edgeID string) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	for _, e := range s.graph.Edges {
		if e.ID == edgeID {
			s.graph.Edges = RemoveEdgeByID(s.graph.Edges, edgeID)
			return nil
		}
	}
	return fmt.Errorf("edge %s not found", edgeID)
}

// RenameNode changes a node's label
func (s *Session) RenameNode(nodeID, label string) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	for i := range s.graph.Nodes {
		if s.graph.Nodes[i].ID == nodeID {
			s.graph.Nodes[i].Label = label
			return nil
		}
	}
	return fmt.Errorf("node %s not found", nodeID)
}

// Rename changes the diagram name
func (s *Session) Rename(name string) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	if name == "" {
		name = "Untitled diagram"
	}
	s.name = name
	return nil
}

// ReplaceGraph overwrites the whole node/edge collection, used when a
// client saves its full local state
func (s *Session) ReplaceGraph(g Graph) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	s.graph = g
	return nil
}

// Save writes the name and full node/edge collections back to the store.
// The outcome must reach the user; callers surface the error, never drop it.
func (s *Session) Save(ctx context.Context) error {
	if s.role != domain.RoleEditor {
		return ErrReadOnly
	}

	raw, err := s.graph.Marshal()
	if err != nil {
		return fmt.Errorf("encode graph payload: %w", err)
	}
	return s.saver.Save(ctx, s.diagramID, s.name, raw)
}

func (s *Session) hasNode(id string) bool {
	for _, n := range s.graph.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
