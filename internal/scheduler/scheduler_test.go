package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/store"
)

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	assert.NoError(t, s.AddJob("*/5 * * * *", func() {}))
	assert.Error(t, s.AddJob("not a cron expr", func() {}))
}

func TestScheduleSessionSweep(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	engine, err := flow.NewEngine(flow.WithStore(store.NewInMemoryStore()))
	require.NoError(t, err)

	assert.NoError(t, s.ScheduleSessionSweep(engine, "", 0), "defaults apply when unset")
	assert.NoError(t, s.ScheduleSessionSweep(engine, "*/2 * * * *", time.Hour))
	assert.Error(t, s.ScheduleSessionSweep(engine, "bogus", time.Hour))
}
