package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(WithDSN(filepath.Join(t.TempDir(), "convoflow.db")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore()
	assert.Error(t, err)
}

func TestSQLiteGraphRoundTrip(t *testing.T) {
	st := newSQLiteStore(t)

	team := &models.Team{Name: "Acme", Slug: "acme"}
	require.NoError(t, st.CreateTeam(team))
	require.NotZero(t, team.ID)

	loadedTeam, err := st.GetTeamBySlug("acme")
	require.NoError(t, err)
	require.NotNil(t, loadedTeam)
	assert.Equal(t, team.ID, loadedTeam.ID)

	f := &models.Flow{
		TeamID: team.ID, Name: "Onboarding", Slug: "onboarding",
		Description: "welcome flow", IsActive: true,
		WebhookToken: "tok-123", Version: 1,
		Metadata:  map[string]any{"color": "blue"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateFlow(f))
	require.NotZero(t, f.ID)

	loadedFlow, err := st.GetFlowBySlug(team.ID, "onboarding")
	require.NoError(t, err)
	require.NotNil(t, loadedFlow)
	assert.Equal(t, "Onboarding", loadedFlow.Name)
	assert.True(t, loadedFlow.IsActive)
	assert.Equal(t, "tok-123", loadedFlow.WebhookToken)
	assert.Equal(t, "blue", loadedFlow.Metadata["color"])

	exists, err := st.FlowSlugExists("onboarding")
	require.NoError(t, err)
	assert.True(t, exists)

	loadedFlow.IsActive = false
	require.NoError(t, st.UpdateFlow(loadedFlow))
	deactivated, err := st.GetFlow(f.ID)
	require.NoError(t, err)
	require.NotNil(t, deactivated)
	assert.False(t, deactivated.IsActive)

	entity := &models.Entity{
		TeamID: team.ID, Name: "Nombre", Slug: "nombre", Type: models.EntityTypeText,
		Options:   []models.EntityOption{{Key: "a", Label: "A"}},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateEntity(entity))

	start := &models.Node{FlowID: f.ID, Type: models.NodeTypeStart, Title: "Inicio"}
	require.NoError(t, st.CreateNode(start))
	question := &models.Node{
		FlowID: f.ID, Type: models.NodeTypeQuestion, Title: "Pregunta",
		MessageTemplate: "Hola {nombre}",
		CollectEntityID: entity.ID, CollectMode: models.CollectModeRequired,
		Position: map[string]any{"x": float64(10)},
	}
	require.NoError(t, st.CreateNode(question))

	cond := json.RawMessage(`{"type":"conditions","logic":"single","conditions":[{"type":"message_equals","value":"si"}]}`)
	p := &models.Path{NodeID: start.ID, Label: "yes", Enabled: true, Condition: cond, TargetNodeID: question.ID, Order: 1}
	require.NoError(t, st.CreatePath(p))
	require.NoError(t, st.CreatePath(&models.Path{NodeID: start.ID, Label: "fallback", Enabled: true, TargetNodeID: question.ID, Order: 2}))

	nodes, err := st.ListNodes(f.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	loadedNode, err := st.GetNode(question.ID)
	require.NoError(t, err)
	require.NotNil(t, loadedNode)
	assert.Equal(t, entity.ID, loadedNode.CollectEntityID)
	assert.Equal(t, models.CollectModeRequired, loadedNode.CollectMode)
	assert.Equal(t, float64(10), loadedNode.Position["x"])

	paths, err := st.ListPaths(start.ID)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "yes", paths[0].Label)
	assert.JSONEq(t, string(cond), string(paths[0].Condition))
	assert.False(t, paths[1].HasCondition())

	flowPaths, err := st.ListFlowPaths(f.ID)
	require.NoError(t, err)
	assert.Len(t, flowPaths, 2)

	loadedNode.Title = "Pregunta 2"
	require.NoError(t, st.UpdateNode(loadedNode))
	again, err := st.GetNode(question.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pregunta 2", again.Title)

	entities, err := st.ListEntities(team.ID)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "nombre", entities[0].Slug)
	require.Len(t, entities[0].Options, 1)
	assert.Equal(t, "a", entities[0].Options[0].Key)
}

func TestSQLiteEntityValueUpsert(t *testing.T) {
	st := newSQLiteStore(t)

	v := models.EntityValue{EntityID: 1, TeamID: 1, SenderID: "u1", Raw: "uno", Processed: "uno", NodeID: 5, Timestamp: time.Now().UTC()}
	require.NoError(t, st.UpsertEntityValue(v))
	v.Raw = " dos "
	v.Processed = "dos"
	require.NoError(t, st.UpsertEntityValue(v))

	loaded, err := st.GetEntityValue(1, 1, "u1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "dos", loaded.Processed)
	assert.Equal(t, " dos ", loaded.Raw)

	values, err := st.ListEntityValues(1, "u1")
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	st := newSQLiteStore(t)

	now := time.Now().UTC()
	session := &models.ConversationSession{
		ID: "s_abc", SenderID: "u1", FlowID: 1, TeamID: 1,
		CurrentNodeID: 10, Status: models.SessionStatusActive,
		Context:   map[string]any{models.ContextKeyCollectedEntities: map[string]any{"nombre": "Ana"}},
		Platform:  "whatsapp",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.SaveSession(session))

	session.CurrentNodeID = 11
	require.NoError(t, st.SaveSession(session))

	loaded, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "s_abc", loaded.ID)
	assert.Equal(t, int64(11), loaded.CurrentNodeID)
	assert.Equal(t, "Ana", loaded.CollectedEntities()["nombre"])
	assert.Nil(t, loaded.FinishedAt)

	loaded.Finish(time.Now().UTC())
	require.NoError(t, st.SaveSession(loaded))

	finished, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFinished, finished.Status)
	require.NotNil(t, finished.FinishedAt)
}

func TestSQLiteFinishStaleSessions(t *testing.T) {
	st := newSQLiteStore(t)

	old := &models.ConversationSession{
		ID: "s_old", SenderID: "u1", FlowID: 1, TeamID: 1,
		Status:    models.SessionStatusActive,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour), UpdatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, st.SaveSession(old))

	count, err := st.FinishStaleSessions(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := st.GetSession("u1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFinished, loaded.Status)
}

func TestSQLiteLeadsConversationsMessages(t *testing.T) {
	st := newSQLiteStore(t)

	now := time.Now().UTC()
	lead := &models.Lead{
		ID: "l_1", Platform: "whatsapp", PlatformID: "u1",
		Name: "Ana", Source: "webhook", TeamID: 1,
		LastInteraction: now, CreatedAt: now,
	}
	require.NoError(t, st.CreateLead(lead))

	loaded, err := st.GetLeadByPlatform("whatsapp", "u1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Ana", loaded.Name)

	loaded.Phone = "+54911"
	require.NoError(t, st.UpdateLead(loaded))
	loaded, err = st.GetLeadByPlatform("whatsapp", "u1")
	require.NoError(t, err)
	assert.Equal(t, "+54911", loaded.Phone)

	conv := &models.Conversation{ID: "c_1", LeadID: "l_1", FlowID: 1, Platform: "whatsapp", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateConversation(conv))
	require.NoError(t, st.TouchConversation("c_1", now.Add(time.Minute)))

	require.NoError(t, st.AddMessage(models.Message{ID: "m_1", LeadID: "l_1", ConversationID: "c_1", Content: "hola", SentAt: now}))
	require.NoError(t, st.AddMessage(models.Message{ID: "m_2", LeadID: "l_1", ConversationID: "c_1", Content: "respuesta", IsResponse: true, Automatic: true, SentAt: now.Add(time.Second)}))
	require.NoError(t, st.AddMessage(models.Message{ID: "m_3", LeadID: "l_1", ConversationID: "c_1", Content: "segunda", SentAt: now.Add(2 * time.Second)}))

	msg, err := st.LastInboundMessage("c_1", "l_1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "segunda", msg.Content)

	msg, err = st.LastInboundMessage("", "l_1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "segunda", msg.Content)
}
