// Package flow implements the conversational flow execution engine: the
// immutable flow graph snapshot, the condition evaluator, the next-node
// resolver, the message renderer and the session engine orchestrating them.
package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/convoflow/convoflow/internal/models"
)

// FlowSnapshot is an immutable, indexed view of one flow version: its nodes,
// paths and the team's entity definitions, addressed by ID. Snapshots are
// safe for concurrent readers and serialize to JSON for caching; call Index
// after decoding to rebuild the lookup maps.
type FlowSnapshot struct {
	Flow     models.Flow     `json:"flow"`
	Nodes    []models.Node   `json:"nodes"`
	Paths    []models.Path   `json:"paths"`
	Entities []models.Entity `json:"entities"`

	nodeByID    map[int64]*models.Node
	pathByID    map[int64]*models.Path
	pathsByNode map[int64][]*models.Path
	entityByID  map[int64]*models.Entity
}

// NewFlowSnapshot builds an indexed snapshot from loaded records.
func NewFlowSnapshot(f models.Flow, nodes []models.Node, paths []models.Path, entities []models.Entity) *FlowSnapshot {
	s := &FlowSnapshot{Flow: f, Nodes: nodes, Paths: paths, Entities: entities}
	s.Index()
	return s
}

// Index rebuilds the internal lookup maps from the exported slices.
func (s *FlowSnapshot) Index() {
	s.nodeByID = make(map[int64]*models.Node, len(s.Nodes))
	for i := range s.Nodes {
		s.nodeByID[s.Nodes[i].ID] = &s.Nodes[i]
	}
	s.pathByID = make(map[int64]*models.Path, len(s.Paths))
	s.pathsByNode = make(map[int64][]*models.Path)
	for i := range s.Paths {
		p := &s.Paths[i]
		s.pathByID[p.ID] = p
		s.pathsByNode[p.NodeID] = append(s.pathsByNode[p.NodeID], p)
	}
	for _, paths := range s.pathsByNode {
		sort.SliceStable(paths, func(i, j int) bool {
			if paths[i].Order != paths[j].Order {
				return paths[i].Order < paths[j].Order
			}
			return paths[i].ID < paths[j].ID
		})
	}
	s.entityByID = make(map[int64]*models.Entity, len(s.Entities))
	for i := range s.Entities {
		s.entityByID[s.Entities[i].ID] = &s.Entities[i]
	}
}

// StartNode returns the flow's entry node: the first node of type START in
// definition order, or nil if the flow has none.
func (s *FlowSnapshot) StartNode() *models.Node {
	for i := range s.Nodes {
		if s.Nodes[i].Type == models.NodeTypeStart {
			return &s.Nodes[i]
		}
	}
	return nil
}

// Validate reports structural problems with the graph that execution
// tolerates but authors likely did not intend. It never blocks execution.
func (s *FlowSnapshot) Validate() error {
	starts := 0
	for i := range s.Nodes {
		if s.Nodes[i].Type == models.NodeTypeStart {
			starts++
		}
	}
	switch starts {
	case 0:
		return fmt.Errorf("flow %d has no START node", s.Flow.ID)
	case 1:
		return nil
	default:
		return fmt.Errorf("flow %d has %d START nodes, first in order wins", s.Flow.ID, starts)
	}
}

// Node returns the node with the given ID, or nil.
func (s *FlowSnapshot) Node(id int64) *models.Node {
	return s.nodeByID[id]
}

// Path returns the path with the given ID, or nil.
func (s *FlowSnapshot) Path(id int64) *models.Path {
	return s.pathByID[id]
}

// PathsFrom returns the paths leaving the given node, ordered ascending by
// sort order with ID as tie-break.
func (s *FlowSnapshot) PathsFrom(nodeID int64) []*models.Path {
	return s.pathsByNode[nodeID]
}

// Entity returns the entity definition with the given ID, or nil.
func (s *FlowSnapshot) Entity(id int64) *models.Entity {
	return s.entityByID[id]
}

// NodeByTitle returns the first node whose title matches case-insensitively
// after trimming, or nil.
func (s *FlowSnapshot) NodeByTitle(title string) *models.Node {
	want := strings.ToLower(strings.TrimSpace(title))
	for i := range s.Nodes {
		if strings.ToLower(strings.TrimSpace(s.Nodes[i].Title)) == want {
			return &s.Nodes[i]
		}
	}
	return nil
}
