package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/convoflow/convoflow/internal/models"
)

// fakeEntities is a map-backed EntitySource that counts lookups so tests
// can observe short-circuit behavior.
type fakeEntities struct {
	values   map[int64]string
	resolves int
}

func (f *fakeEntities) Resolve(entityID int64) (string, bool) {
	f.resolves++
	value, ok := f.values[entityID]
	return value, ok
}

func (f *fakeEntities) CollectedIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(f.values))
	for id := range f.values {
		ids[id] = struct{}{}
	}
	return ids
}

func strPtr(s string) *string { return &s }

func evalWith(values map[int64]string, message string) *Evaluator {
	return &Evaluator{
		Entities: &fakeEntities{values: values},
		Message:  strPtr(message),
	}
}

func singleCond(clauses ...models.Clause) *models.Condition {
	return &models.Condition{Type: models.ConditionType, Logic: models.LogicSingle, Conditions: clauses}
}

func anyCond(clauses ...models.Clause) *models.Condition {
	return &models.Condition{Type: models.ConditionType, Logic: models.LogicAny, Conditions: clauses}
}

func TestEvaluateMalformedConditions(t *testing.T) {
	e := evalWith(nil, "hola")

	assert.False(t, e.Evaluate(nil))
	assert.False(t, e.Evaluate(&models.Condition{Type: "not_conditions"}))
	assert.False(t, e.Evaluate(&models.Condition{Type: models.ConditionType}), "empty clause list")
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: "unknown_kind"})))
}

func TestEntityExists(t *testing.T) {
	e := evalWith(map[int64]string{1: "algo", 2: ""}, "")

	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityExists, EntityID: 1})))
	// Presence holds even for an empty stored value.
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityExists, EntityID: 2})))
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityExists, EntityID: 3})))
}

func TestEntityComparisons(t *testing.T) {
	e := evalWith(map[int64]string{1: "  Premium  ", 2: "10"}, "")

	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityEquals, EntityID: 1, Value: "premium"})))
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityEquals, EntityID: 1, Value: "basic"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityContains, EntityID: 1, Value: "REMI"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityIsAnyOf, EntityID: 1, Values: []any{"basic", "Premium"}})))
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityIsAnyOf, EntityID: 1, Values: []any{"basic"}})))
	// Missing value fails every non-exists clause.
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityEquals, EntityID: 9, Value: "premium"})))
}

func TestEntityNumericComparisons(t *testing.T) {
	check := func(stored string, want bool) {
		e := evalWith(map[int64]string{1: stored}, "")
		got := e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityGreater, EntityID: 1, Value: "10"}))
		assert.Equal(t, want, got, "stored %q", stored)
	}
	check("7", false)
	check("15", true)
	check("abc", false)

	e := evalWith(map[int64]string{1: "7"}, "")
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityLess, EntityID: 1, Value: "10"})))
	// Numeric operands may be authored as JSON numbers.
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseEntityLess, EntityID: 1, Value: float64(10)})))
}

func TestMessageClauses(t *testing.T) {
	e := evalWith(nil, "  Quiero el PLAN Premium  ")

	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageEquals, Value: "quiero el plan premium"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageContains, Value: "plan"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageStartsWith, Value: "quiero"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageEndsWith, Value: "premium"})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageIsAnyOf, Values: []any{"hola", "quiero el plan premium"}})))
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageEquals, Value: "otra cosa"})))
}

func TestMessageRegex(t *testing.T) {
	e := evalWith(nil, "  Mi código es ABC-123  ")

	// Case-insensitive, matched against the untrimmed original text.
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageMatchesRegex, Value: `abc-\d+`})))
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageMatchesRegex, Value: `^\s+Mi`})))
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageMatchesRegex, Value: `XYZ`})))
	// An invalid pattern is false, never a failure.
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageMatchesRegex, Value: `([`})))
}

func TestMessageFallbackToLastInbound(t *testing.T) {
	e := &Evaluator{
		Entities:    &fakeEntities{},
		LastMessage: func() (string, bool) { return "hola mundo", true },
	}
	assert.True(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageContains, Value: "mundo"})))

	e.LastMessage = func() (string, bool) { return "", false }
	assert.False(t, e.Evaluate(singleCond(models.Clause{Type: models.ClauseMessageContains, Value: "mundo"})))
}

func TestSingleLogicShortCircuits(t *testing.T) {
	entities := &fakeEntities{values: map[int64]string{1: "no"}}
	e := &Evaluator{Entities: entities, Message: strPtr("hola")}

	cond := singleCond(
		models.Clause{Type: models.ClauseEntityEquals, EntityID: 1, Value: "si"},
		models.Clause{Type: models.ClauseEntityEquals, EntityID: 2, Value: "si"},
	)
	assert.False(t, e.Evaluate(cond))
	assert.Equal(t, 1, entities.resolves, "second clause must not be evaluated")
}

func TestAnyLogic(t *testing.T) {
	e := evalWith(map[int64]string{1: "no"}, "hola")

	cond := anyCond(
		models.Clause{Type: models.ClauseEntityEquals, EntityID: 1, Value: "si"},
		models.Clause{Type: models.ClauseMessageEquals, Value: "hola"},
	)
	assert.True(t, e.Evaluate(cond))

	cond = anyCond(
		models.Clause{Type: models.ClauseEntityEquals, EntityID: 1, Value: "si"},
		models.Clause{Type: models.ClauseMessageEquals, Value: "adios"},
	)
	assert.False(t, e.Evaluate(cond))
}
