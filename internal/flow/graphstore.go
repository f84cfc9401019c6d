package flow

import (
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/internal/models"
	"github.com/convoflow/convoflow/internal/store"
)

// SnapshotCache caches flow snapshots keyed by (flow, version). Implementations
// must degrade silently: a cache miss or fault simply forces a store reload.
type SnapshotCache interface {
	GetSnapshot(flowID int64, version int) (*FlowSnapshot, bool)
	SetSnapshot(snap *FlowSnapshot)
}

// GraphStore loads indexed flow snapshots from the backing store, with an
// optional cache in front. Flow definitions are read-only during execution
// so a snapshot stays valid for the lifetime of its version.
type GraphStore struct {
	store store.Store
	cache SnapshotCache
}

// NewGraphStore creates a GraphStore over the given store. The cache may be
// nil, in which case every snapshot is loaded fresh.
func NewGraphStore(s store.Store, cache SnapshotCache) *GraphStore {
	return &GraphStore{store: s, cache: cache}
}

// Snapshot returns the indexed snapshot of the given flow.
func (g *GraphStore) Snapshot(f *models.Flow) (*FlowSnapshot, error) {
	if g.cache != nil {
		if snap, ok := g.cache.GetSnapshot(f.ID, f.Version); ok {
			return snap, nil
		}
	}

	nodes, err := g.store.ListNodes(f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes for flow %d: %w", f.ID, err)
	}
	paths, err := g.store.ListFlowPaths(f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load paths for flow %d: %w", f.ID, err)
	}
	entities, err := g.store.ListEntities(f.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities for team %d: %w", f.TeamID, err)
	}

	snap := NewFlowSnapshot(*f, nodes, paths, entities)
	slog.Debug("GraphStore loaded flow snapshot",
		"flow_id", f.ID, "version", f.Version,
		"nodes", len(nodes), "paths", len(paths), "entities", len(entities))
	if err := snap.Validate(); err != nil {
		slog.Warn("GraphStore.Snapshot: flow graph issue", "flow_id", f.ID, "issue", err)
	}

	if g.cache != nil {
		g.cache.SetSnapshot(snap)
	}
	return snap, nil
}
