package flow

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/convoflow/convoflow/internal/models"
)

// EntitySource resolves collected entity state for one sender.
type EntitySource interface {
	// Resolve returns the stored value for the entity, preferring processed
	// over raw. The bool reports whether any record exists.
	Resolve(entityID int64) (string, bool)
	// CollectedIDs returns the set of entity IDs with any stored value.
	CollectedIDs() map[int64]struct{}
}

// Evaluator evaluates condition expressions against collected entity state
// and an inbound message. Evaluation never fails: malformed conditions,
// missing values, bad regexes and non-numeric operands all evaluate to
// false so one bad clause cannot abort flow execution.
type Evaluator struct {
	// Entities resolves collected entity values; required for entity clauses.
	Entities EntitySource
	// Message is the live inbound text, nil when the caller has none.
	Message *string
	// LastMessage looks up the most recent inbound message for the sender,
	// used by message clauses when Message is nil. May be nil.
	LastMessage func() (string, bool)
}

// Evaluate applies the condition. A nil condition, a wrong type tag or an
// empty clause list evaluates to false.
func (e *Evaluator) Evaluate(cond *models.Condition) bool {
	if cond == nil || cond.Type != models.ConditionType || len(cond.Conditions) == 0 {
		return false
	}

	if cond.EffectiveLogic() == models.LogicSingle {
		for i := range cond.Conditions {
			if !e.evaluateClause(&cond.Conditions[i]) {
				return false
			}
		}
		return true
	}

	for i := range cond.Conditions {
		if e.evaluateClause(&cond.Conditions[i]) {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluateClause(clause *models.Clause) bool {
	switch {
	case clause.Type.IsEntityClause():
		return e.evaluateEntityClause(clause)
	case clause.Type.IsMessageClause():
		return e.evaluateMessageClause(clause)
	default:
		slog.Debug("Evaluator skipping unknown clause type", "type", clause.Type)
		return false
	}
}

func (e *Evaluator) evaluateEntityClause(clause *models.Clause) bool {
	if e.Entities == nil {
		return false
	}

	if clause.Type == models.ClauseEntityExists {
		_, collected := e.Entities.CollectedIDs()[clause.EntityID]
		return collected
	}

	value, ok := e.Entities.Resolve(clause.EntityID)
	if !ok {
		return false
	}
	have := normalize(value)
	want := normalize(models.ValueText(clause.Value))

	switch clause.Type {
	case models.ClauseEntityEquals:
		return have == want
	case models.ClauseEntityContains:
		return strings.Contains(have, want)
	case models.ClauseEntityGreater:
		return compareNumbers(have, want, func(a, b float64) bool { return a > b })
	case models.ClauseEntityLess:
		return compareNumbers(have, want, func(a, b float64) bool { return a < b })
	case models.ClauseEntityIsAnyOf:
		for _, candidate := range clause.Values {
			if have == normalize(models.ValueText(candidate)) {
				return true
			}
		}
		return false
	}
	return false
}

func (e *Evaluator) evaluateMessageClause(clause *models.Clause) bool {
	text, ok := e.messageText()
	if !ok {
		return false
	}

	// Regex matches the untrimmed original text; everything else compares
	// case-insensitively after trimming.
	if clause.Type == models.ClauseMessageMatchesRegex {
		pattern := models.ValueText(clause.Value)
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			slog.Debug("Evaluator regex compile failed", "pattern", pattern, "error", err)
			return false
		}
		return re.MatchString(text)
	}

	have := normalize(text)
	want := normalize(models.ValueText(clause.Value))

	switch clause.Type {
	case models.ClauseMessageEquals:
		return have == want
	case models.ClauseMessageContains:
		return strings.Contains(have, want)
	case models.ClauseMessageStartsWith:
		return strings.HasPrefix(have, want)
	case models.ClauseMessageEndsWith:
		return strings.HasSuffix(have, want)
	case models.ClauseMessageIsAnyOf:
		for _, candidate := range clause.Values {
			if have == normalize(models.ValueText(candidate)) {
				return true
			}
		}
		return false
	}
	return false
}

func (e *Evaluator) messageText() (string, bool) {
	if e.Message != nil {
		return *e.Message, true
	}
	if e.LastMessage != nil {
		return e.LastMessage()
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func compareNumbers(a, b string, cmp func(a, b float64) bool) bool {
	left, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	right, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return false
	}
	return cmp(left, right)
}
