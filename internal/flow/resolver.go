package flow

import (
	"log/slog"

	"github.com/convoflow/convoflow/internal/models"
)

// Resolution outcomes, used for logging and metrics.
const (
	OutcomeConditional   = "conditional_path"
	OutcomeUnconditional = "unconditional_path"
	OutcomeDefault       = "default_path"
	OutcomeReprompt      = "reprompt"
	OutcomeTerminal      = "terminal"
)

// Resolver selects the next node for a session given its current node and
// the evaluator built for this message. Resolution is deterministic for a
// fixed entity snapshot.
type Resolver struct {
	Snapshot  *FlowSnapshot
	Eval      *Evaluator
	SessionID string
}

// Resolve returns the next node and the outcome kind, or nil for a terminal
// result. Priority, first match wins:
//
//  1. enabled condition-bearing paths in order, first whose condition holds
//     and whose target exists
//  2. enabled condition-less paths in order, first with a target
//  3. the node's default path, when enabled and targeted
//  4. a QUESTION node with no match re-prompts itself
//  5. anything else terminates
//
// Conditional paths pre-empt unconditional ones regardless of declared
// order. A condition that fails to parse counts as false and resolution
// continues with the next path.
func (r *Resolver) Resolve(current *models.Node) (*models.Node, string) {
	paths := r.Snapshot.PathsFrom(current.ID)

	for _, p := range paths {
		if !p.Enabled || !p.HasCondition() {
			continue
		}
		cond, err := models.ParseCondition(p.Condition)
		if err != nil {
			slog.Debug("Resolver skipping unparseable condition",
				"session_id", r.SessionID, "path_id", p.ID, "error", err)
			continue
		}
		if r.Eval.Evaluate(cond) {
			if target := r.Snapshot.Node(p.TargetNodeID); target != nil {
				slog.Debug("Resolver matched conditional path",
					"session_id", r.SessionID, "path_id", p.ID, "target", target.ID)
				return target, OutcomeConditional
			}
		}
	}

	for _, p := range paths {
		if !p.Enabled || p.HasCondition() {
			continue
		}
		if target := r.Snapshot.Node(p.TargetNodeID); target != nil {
			slog.Debug("Resolver took unconditional path",
				"session_id", r.SessionID, "path_id", p.ID, "target", target.ID)
			return target, OutcomeUnconditional
		}
	}

	if current.DefaultPathID != 0 {
		if p := r.Snapshot.Path(current.DefaultPathID); p != nil && p.Enabled {
			if target := r.Snapshot.Node(p.TargetNodeID); target != nil {
				slog.Debug("Resolver took default path",
					"session_id", r.SessionID, "path_id", p.ID, "target", target.ID)
				return target, OutcomeDefault
			}
		}
	}

	if current.Type == models.NodeTypeQuestion {
		return current, OutcomeReprompt
	}

	return nil, OutcomeTerminal
}
