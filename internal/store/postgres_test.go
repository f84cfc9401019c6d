package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/models"
)

// newPostgresStore connects to the database named by CONVOFLOW_TEST_DATABASE_URL
// and skips the test when none is configured.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("CONVOFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CONVOFLOW_TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	st, err := NewPostgresStore(WithDSN(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPostgresStoreRequiresDSN(t *testing.T) {
	_, err := NewPostgresStore()
	assert.Error(t, err)
}

func TestPostgresEntityValueUpsert(t *testing.T) {
	st := newPostgresStore(t)

	sender := "pg-test-" + time.Now().Format("150405.000000000")
	v := models.EntityValue{EntityID: 1, TeamID: 1, SenderID: sender, Raw: "uno", Processed: "uno", Timestamp: time.Now().UTC()}
	require.NoError(t, st.UpsertEntityValue(v))
	v.Raw = " dos "
	v.Processed = "dos"
	require.NoError(t, st.UpsertEntityValue(v))

	loaded, err := st.GetEntityValue(1, 1, sender)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "dos", loaded.Processed)

	values, err := st.ListEntityValues(1, sender)
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestPostgresSessionUpsert(t *testing.T) {
	st := newPostgresStore(t)

	sender := "pg-sess-" + time.Now().Format("150405.000000000")
	now := time.Now().UTC()
	session := &models.ConversationSession{
		ID: "s_" + sender, SenderID: sender, FlowID: 1, TeamID: 1,
		CurrentNodeID: 10, Status: models.SessionStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.SaveSession(session))

	session.CurrentNodeID = 11
	require.NoError(t, st.SaveSession(session))

	loaded, err := st.GetSession(sender, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(11), loaded.CurrentNodeID)
}
