package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/models"
)

func newTestCache(t *testing.T) *FlowCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewFlowCache(WithAddr(mr.Addr()), WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testSnapshot() *flow.FlowSnapshot {
	return flow.NewFlowSnapshot(
		models.Flow{ID: 7, TeamID: 1, Name: "F", Slug: "f", Version: 3},
		[]models.Node{
			{ID: 1, FlowID: 7, Type: models.NodeTypeStart, Title: "Inicio"},
			{ID: 2, FlowID: 7, Type: models.NodeTypeEnd, Title: "Fin"},
		},
		[]models.Path{{ID: 10, NodeID: 1, Enabled: true, Order: 1, TargetNodeID: 2}},
		[]models.Entity{{ID: 5, TeamID: 1, Slug: "nombre", Type: models.EntityTypeText}},
	)
}

func TestFlowCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)

	snap := testSnapshot()
	c.SetSnapshot(snap)

	loaded, ok := c.GetSnapshot(7, 3)
	require.True(t, ok)
	require.NotNil(t, loaded)

	// The decoded snapshot must be fully re-indexed.
	start := loaded.StartNode()
	require.NotNil(t, start)
	assert.Equal(t, int64(1), start.ID)
	assert.Equal(t, int64(2), loaded.PathsFrom(1)[0].TargetNodeID)
	require.NotNil(t, loaded.Entity(5))
	assert.Equal(t, "nombre", loaded.Entity(5).Slug)
}

func TestFlowCacheMissOnVersionBump(t *testing.T) {
	c := newTestCache(t)
	c.SetSnapshot(testSnapshot())

	_, ok := c.GetSnapshot(7, 4)
	assert.False(t, ok, "a new version must not hit the old entry")

	_, ok = c.GetSnapshot(8, 3)
	assert.False(t, ok)
}

func TestFlowCacheUnreachableRedis(t *testing.T) {
	_, err := NewFlowCache(WithAddr("127.0.0.1:1"))
	assert.Error(t, err)
}
