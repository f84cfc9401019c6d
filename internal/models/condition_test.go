package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "conditions",
		"logic": "any",
		"conditions": [
			{"type": "entity_equals", "entity_id": 3, "value": "si"},
			{"type": "message_contains", "value": "precio"}
		]
	}`)

	cond, err := ParseCondition(raw)
	require.NoError(t, err)
	require.NotNil(t, cond)
	assert.Equal(t, ConditionType, cond.Type)
	assert.Equal(t, LogicAny, cond.EffectiveLogic())
	require.Len(t, cond.Conditions, 2)
	assert.Equal(t, ClauseEntityEquals, cond.Conditions[0].Type)
	assert.Equal(t, int64(3), cond.Conditions[0].EntityID)
	assert.Equal(t, "si", cond.Conditions[0].Value)
}

func TestParseConditionEmpty(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("null")} {
		cond, err := ParseCondition(raw)
		assert.NoError(t, err)
		assert.Nil(t, cond)
	}
}

func TestParseConditionMalformed(t *testing.T) {
	_, err := ParseCondition(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestEffectiveLogicDefaultsToSingle(t *testing.T) {
	assert.Equal(t, LogicSingle, (&Condition{}).EffectiveLogic())
	assert.Equal(t, LogicSingle, (&Condition{Logic: "single"}).EffectiveLogic())
	// Anything else is OR semantics.
	assert.Equal(t, LogicAny, (&Condition{Logic: "whatever"}).EffectiveLogic())
}

func TestClauseFamilies(t *testing.T) {
	entity := []ClauseType{ClauseEntityExists, ClauseEntityEquals, ClauseEntityContains,
		ClauseEntityGreater, ClauseEntityLess, ClauseEntityIsAnyOf}
	message := []ClauseType{ClauseMessageEquals, ClauseMessageContains, ClauseMessageStartsWith,
		ClauseMessageEndsWith, ClauseMessageIsAnyOf, ClauseMessageMatchesRegex}

	for _, ct := range entity {
		assert.True(t, ct.IsEntityClause(), "%s", ct)
		assert.False(t, ct.IsMessageClause(), "%s", ct)
	}
	for _, ct := range message {
		assert.True(t, ct.IsMessageClause(), "%s", ct)
		assert.False(t, ct.IsEntityClause(), "%s", ct)
	}
	assert.False(t, ClauseType("nonsense").IsEntityClause())
	assert.False(t, ClauseType("nonsense").IsMessageClause())
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "", ValueText(nil))
	assert.Equal(t, "hola", ValueText("hola"))
	assert.Equal(t, "10", ValueText(float64(10)))
	assert.Equal(t, "10.5", ValueText(10.5))
	assert.Equal(t, "true", ValueText(true))
}

func TestPathHasCondition(t *testing.T) {
	assert.False(t, (&Path{}).HasCondition())
	assert.False(t, (&Path{Condition: json.RawMessage("null")}).HasCondition())
	assert.True(t, (&Path{Condition: json.RawMessage(`{"type":"conditions"}`)}).HasCondition())
}
