// Package models: condition expression types.
//
// Conditions are authored as JSON and stored verbatim on paths. The clause
// kinds form a closed set; decoding never fails hard — a malformed
// expression simply evaluates to false downstream.
package models

import (
	"encoding/json"
	"strconv"
)

// ConditionLogic selects how clause results combine.
type ConditionLogic string

const (
	// LogicSingle is AND semantics: every clause must hold, evaluation
	// short-circuits on the first false clause.
	LogicSingle ConditionLogic = "single"
	// LogicAny is OR semantics: true if any clause holds. Any logic value
	// other than "single" is treated as LogicAny.
	LogicAny ConditionLogic = "any"
)

// ConditionType is the only supported top-level expression tag.
const ConditionType = "conditions"

// ClauseType identifies one predicate kind.
type ClauseType string

// Entity clauses test collected entity values.
const (
	ClauseEntityExists   ClauseType = "entity_exists"
	ClauseEntityEquals   ClauseType = "entity_equals"
	ClauseEntityContains ClauseType = "entity_contains"
	ClauseEntityGreater  ClauseType = "entity_greater"
	ClauseEntityLess     ClauseType = "entity_less"
	ClauseEntityIsAnyOf  ClauseType = "entity_is_any_of"
)

// Message clauses test the inbound message text.
const (
	ClauseMessageEquals       ClauseType = "message_equals"
	ClauseMessageContains     ClauseType = "message_contains"
	ClauseMessageStartsWith   ClauseType = "message_starts_with"
	ClauseMessageEndsWith     ClauseType = "message_ends_with"
	ClauseMessageIsAnyOf      ClauseType = "message_is_any_of"
	ClauseMessageMatchesRegex ClauseType = "message_matches_regex"
)

// IsEntityClause reports whether the clause kind tests entity state.
func (ct ClauseType) IsEntityClause() bool {
	switch ct {
	case ClauseEntityExists, ClauseEntityEquals, ClauseEntityContains,
		ClauseEntityGreater, ClauseEntityLess, ClauseEntityIsAnyOf:
		return true
	default:
		return false
	}
}

// IsMessageClause reports whether the clause kind tests the message text.
func (ct ClauseType) IsMessageClause() bool {
	switch ct {
	case ClauseMessageEquals, ClauseMessageContains, ClauseMessageStartsWith,
		ClauseMessageEndsWith, ClauseMessageIsAnyOf, ClauseMessageMatchesRegex:
		return true
	default:
		return false
	}
}

// Clause is one predicate inside a condition expression. Value and Values
// are any-typed because authors may write strings or numbers; comparisons
// stringify both sides.
type Clause struct {
	Type     ClauseType `json:"type"`
	EntityID int64      `json:"entity_id,omitempty"`
	Value    any        `json:"value,omitempty"`
	Values   []any      `json:"values,omitempty"`
}

// Condition is a tagged boolean expression over entity state and/or
// message text: {type: "conditions", logic: "single"|"any", conditions: [...]}.
type Condition struct {
	Type       string         `json:"type"`
	Logic      ConditionLogic `json:"logic,omitempty"`
	Conditions []Clause       `json:"conditions"`
}

// EffectiveLogic returns the combination logic, defaulting to LogicSingle.
func (c *Condition) EffectiveLogic() ConditionLogic {
	if c.Logic == LogicSingle || c.Logic == "" {
		return LogicSingle
	}
	return LogicAny
}

// ParseCondition decodes a raw JSON condition expression. A nil result with
// a nil error means there was nothing to parse (empty or JSON null).
func ParseCondition(raw json.RawMessage) (*Condition, error) {
	text := string(raw)
	if text == "" || text == "null" {
		return nil, nil
	}
	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, err
	}
	return &cond, nil
}

// ValueText stringifies a clause operand the way comparisons expect:
// numbers render without a trailing ".0", booleans as "true"/"false".
func ValueText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
