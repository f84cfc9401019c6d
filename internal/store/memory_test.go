package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/models"
)

func TestInMemoryLookupsReturnNilWhenMissing(t *testing.T) {
	st := NewInMemoryStore()

	team, err := st.GetTeamBySlug("nope")
	require.NoError(t, err)
	assert.Nil(t, team)

	f, err := st.GetFlow(42)
	require.NoError(t, err)
	assert.Nil(t, f)

	session, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestInMemoryEntityValueUpsert(t *testing.T) {
	st := NewInMemoryStore()

	first := models.EntityValue{EntityID: 1, TeamID: 1, SenderID: "u1", Raw: "uno", Processed: "uno", Timestamp: time.Now()}
	require.NoError(t, st.UpsertEntityValue(first))
	second := first
	second.Raw = " dos "
	second.Processed = "dos"
	require.NoError(t, st.UpsertEntityValue(second))

	value, err := st.GetEntityValue(1, 1, "u1")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "dos", value.Processed)

	values, err := st.ListEntityValues(1, "u1")
	require.NoError(t, err)
	assert.Len(t, values, 1, "upsert must not append history")

	// Different sender, same entity, is a separate record.
	other := first
	other.SenderID = "u2"
	require.NoError(t, st.UpsertEntityValue(other))
	values, err = st.ListEntityValues(1, "u1")
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestInMemoryPathOrdering(t *testing.T) {
	st := NewInMemoryStore()

	f := &models.Flow{TeamID: 1, Name: "F", Slug: "f"}
	require.NoError(t, st.CreateFlow(f))
	n := &models.Node{FlowID: f.ID, Type: models.NodeTypeStart, Title: "S"}
	require.NoError(t, st.CreateNode(n))

	// Created out of order; ListPaths returns them by sort order with
	// insertion as tie-break.
	require.NoError(t, st.CreatePath(&models.Path{NodeID: n.ID, Label: "c", Order: 2}))
	require.NoError(t, st.CreatePath(&models.Path{NodeID: n.ID, Label: "a", Order: 1}))
	require.NoError(t, st.CreatePath(&models.Path{NodeID: n.ID, Label: "b", Order: 1}))

	paths, err := st.ListPaths(n.ID)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "a", paths[0].Label)
	assert.Equal(t, "b", paths[1].Label)
	assert.Equal(t, "c", paths[2].Label)

	flowPaths, err := st.ListFlowPaths(f.ID)
	require.NoError(t, err)
	assert.Len(t, flowPaths, 3)
}

func TestInMemorySessionUpsert(t *testing.T) {
	st := NewInMemoryStore()

	session := &models.ConversationSession{
		ID: "s_1", SenderID: "u1", FlowID: 1, TeamID: 1,
		Status: models.SessionStatusActive, CurrentNodeID: 10,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, st.SaveSession(session))

	session.CurrentNodeID = 11
	require.NoError(t, st.SaveSession(session))

	loaded, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "s_1", loaded.ID)
	assert.Equal(t, int64(11), loaded.CurrentNodeID)
}

func TestInMemoryFinishStaleSessions(t *testing.T) {
	st := NewInMemoryStore()

	old := &models.ConversationSession{
		ID: "s_old", SenderID: "u1", FlowID: 1, TeamID: 1,
		Status: models.SessionStatusActive, UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.ConversationSession{
		ID: "s_new", SenderID: "u2", FlowID: 1, TeamID: 1,
		Status: models.SessionStatusActive, UpdatedAt: time.Now(),
	}
	require.NoError(t, st.SaveSession(old))
	require.NoError(t, st.SaveSession(fresh))

	count, err := st.FinishStaleSessions(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFinished, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)

	loaded, err = st.GetSession("u2", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, loaded.Status)
}

func TestInMemoryLastInboundMessage(t *testing.T) {
	st := NewInMemoryStore()

	base := time.Now()
	require.NoError(t, st.AddMessage(models.Message{ID: "m1", LeadID: "l1", ConversationID: "c1", Content: "hola", SentAt: base}))
	require.NoError(t, st.AddMessage(models.Message{ID: "m2", LeadID: "l1", ConversationID: "c1", Content: "respuesta", IsResponse: true, SentAt: base.Add(time.Second)}))
	require.NoError(t, st.AddMessage(models.Message{ID: "m3", LeadID: "l1", ConversationID: "c1", Content: "segunda", SentAt: base.Add(2 * time.Second)}))

	msg, err := st.LastInboundMessage("c1", "l1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "segunda", msg.Content, "responses are skipped")

	msg, err = st.LastInboundMessage("c404", "l404")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestInMemorySlugChecks(t *testing.T) {
	st := NewInMemoryStore()

	require.NoError(t, st.CreateFlow(&models.Flow{TeamID: 1, Name: "F", Slug: "f"}))
	exists, err := st.FlowSlugExists("f")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = st.FlowSlugExists("g")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, st.CreateEntity(&models.Entity{TeamID: 1, Name: "N", Slug: "n", Type: models.EntityTypeText}))
	exists, err = st.EntitySlugExists(1, "n")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = st.EntitySlugExists(2, "n")
	require.NoError(t, err)
	assert.False(t, exists, "entity slugs are team scoped")
}

func TestInMemoryPathConditionRoundTrip(t *testing.T) {
	st := NewInMemoryStore()

	cond := json.RawMessage(`{"type":"conditions","logic":"single","conditions":[{"type":"message_equals","value":"si"}]}`)
	p := &models.Path{NodeID: 1, Label: "yes", Enabled: true, Condition: cond, TargetNodeID: 2, Order: 1}
	require.NoError(t, st.CreatePath(p))

	paths, err := st.ListPaths(1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.JSONEq(t, string(cond), string(paths[0].Condition))
}
