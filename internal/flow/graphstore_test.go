package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/models"
	"github.com/convoflow/convoflow/internal/store"
)

// memoryCache is a map-backed SnapshotCache for tests.
type memoryCache struct {
	snaps map[[2]int64]*FlowSnapshot
	hits  int
	sets  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{snaps: make(map[[2]int64]*FlowSnapshot)}
}

func (c *memoryCache) GetSnapshot(flowID int64, version int) (*FlowSnapshot, bool) {
	snap, ok := c.snaps[[2]int64{flowID, int64(version)}]
	if ok {
		c.hits++
	}
	return snap, ok
}

func (c *memoryCache) SetSnapshot(snap *FlowSnapshot) {
	c.sets++
	c.snaps[[2]int64{snap.Flow.ID, int64(snap.Flow.Version)}] = snap
}

func seedGraph(t *testing.T, st *store.InMemoryStore) (*models.Team, *models.Flow) {
	t.Helper()
	team := &models.Team{Name: "Acme", Slug: "acme"}
	require.NoError(t, st.CreateTeam(team))
	f := &models.Flow{TeamID: team.ID, Name: "F", Slug: "f", IsActive: true, Version: 1, CreatedAt: time.Now()}
	require.NoError(t, st.CreateFlow(f))

	start := &models.Node{FlowID: f.ID, Type: models.NodeTypeStart, Title: "Inicio"}
	require.NoError(t, st.CreateNode(start))
	end := &models.Node{FlowID: f.ID, Type: models.NodeTypeEnd, Title: "Fin"}
	require.NoError(t, st.CreateNode(end))
	require.NoError(t, st.CreatePath(&models.Path{NodeID: start.ID, Enabled: true, Order: 1, TargetNodeID: end.ID}))
	require.NoError(t, st.CreateEntity(&models.Entity{TeamID: team.ID, Name: "Nombre", Slug: "nombre", Type: models.EntityTypeText}))
	return team, f
}

func TestGraphStoreLoadsSnapshot(t *testing.T) {
	st := store.NewInMemoryStore()
	_, f := seedGraph(t, st)

	graphs := NewGraphStore(st, nil)
	snap, err := graphs.Snapshot(f)
	require.NoError(t, err)

	require.NotNil(t, snap.StartNode())
	assert.Equal(t, "Inicio", snap.StartNode().Title)
	assert.Len(t, snap.PathsFrom(snap.StartNode().ID), 1)
	assert.Len(t, snap.Entities, 1)
	assert.NotNil(t, snap.NodeByTitle("  FIN "))
}

func TestGraphStoreUsesCache(t *testing.T) {
	st := store.NewInMemoryStore()
	_, f := seedGraph(t, st)

	c := newMemoryCache()
	graphs := NewGraphStore(st, c)

	_, err := graphs.Snapshot(f)
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets)
	assert.Equal(t, 0, c.hits)

	_, err = graphs.Snapshot(f)
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets, "second load must come from the cache")
	assert.Equal(t, 1, c.hits)

	// A version bump misses and reloads.
	f.Version = 2
	_, err = graphs.Snapshot(f)
	require.NoError(t, err)
	assert.Equal(t, 2, c.sets)
}

func TestSnapshotValidate(t *testing.T) {
	valid := NewFlowSnapshot(models.Flow{ID: 1}, []models.Node{
		{ID: 1, Type: models.NodeTypeStart},
		{ID: 2, Type: models.NodeTypeEnd},
	}, nil, nil)
	assert.NoError(t, valid.Validate())

	noStart := NewFlowSnapshot(models.Flow{ID: 2}, []models.Node{
		{ID: 3, Type: models.NodeTypeQuestion},
	}, nil, nil)
	assert.ErrorContains(t, noStart.Validate(), "no START node")

	twoStarts := NewFlowSnapshot(models.Flow{ID: 3}, []models.Node{
		{ID: 4, Type: models.NodeTypeStart},
		{ID: 5, Type: models.NodeTypeStart},
	}, nil, nil)
	assert.ErrorContains(t, twoStarts.Validate(), "2 START nodes")
}
