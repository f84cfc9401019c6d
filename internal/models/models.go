// Package models defines the core data structures for ConvoFlow.
//
// It includes the flow graph definition (flows, nodes, paths, entities),
// the per-sender execution state (sessions, entity values), and the
// collaborator records (teams, leads, conversations, messages) shared
// across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// EntityType defines the kind of data an entity slot collects.
type EntityType string

const (
	EntityTypeText           EntityType = "TEXT"
	EntityTypeNumber         EntityType = "NUMBER"
	EntityTypeDate           EntityType = "DATE"
	EntityTypeBoolean        EntityType = "BOOLEAN"
	EntityTypeMultipleChoice EntityType = "MULTIPLE_CHOICE"
	EntityTypeEmail          EntityType = "EMAIL"
	EntityTypePhone          EntityType = "PHONE"
)

// NodeType defines the behavior of a graph vertex.
type NodeType string

const (
	NodeTypeStart    NodeType = "START"
	NodeTypeEnd      NodeType = "END"
	NodeTypeQuestion NodeType = "QUESTION"
	NodeTypeAction   NodeType = "ACTION"
	NodeTypeWebhook  NodeType = "WEBHOOK"
	NodeTypeDelay    NodeType = "DELAY"
	NodeTypeScript   NodeType = "SCRIPT"
)

// CollectMode defines whether a node requires entity collection.
type CollectMode string

const (
	CollectModeRequired CollectMode = "REQUIRED"
	CollectModeOptional CollectMode = "OPTIONAL"
	CollectModeNone     CollectMode = "NONE"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	// SessionStatusActive indicates the session is in progress.
	SessionStatusActive SessionStatus = "ACTIVE"
	// SessionStatusFinished indicates the flow ran to completion for this sender.
	SessionStatusFinished SessionStatus = "FINISHED"
)

// Error variables for better error handling and testability
var (
	ErrSenderIDRequired   = errors.New("sender_id is required")
	ErrInvalidJSON        = errors.New("Invalid JSON")
	ErrNoCurrentNode      = errors.New("no current node found")
	ErrFlowNotFound       = errors.New("flow not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrEmptyFlowName      = errors.New("flow name cannot be empty")
	ErrEmptyNodeTitle     = errors.New("node title cannot be empty")
	ErrInvalidNodeType    = errors.New("invalid node type")
	ErrInvalidEntityType  = errors.New("invalid entity type")
	ErrEntityTeamMismatch = errors.New("entity does not belong to the flow's team")
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeStart, NodeTypeEnd, NodeTypeQuestion, NodeTypeAction, NodeTypeWebhook, NodeTypeDelay, NodeTypeScript:
		return true
	default:
		return false
	}
}

// IsValidEntityType checks if the given entity type is supported.
func IsValidEntityType(et EntityType) bool {
	switch et {
	case EntityTypeText, EntityTypeNumber, EntityTypeDate, EntityTypeBoolean, EntityTypeMultipleChoice, EntityTypeEmail, EntityTypePhone:
		return true
	default:
		return false
	}
}

// IsValidCollectMode checks if the given collect mode is supported.
func IsValidCollectMode(cm CollectMode) bool {
	switch cm {
	case CollectModeRequired, CollectModeOptional, CollectModeNone:
		return true
	default:
		return false
	}
}

// Team is a thin record scoping flows, entities and sessions.
type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// EntityOption is one selectable choice for MULTIPLE_CHOICE entities.
type EntityOption struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords,omitempty"`
}

// Entity is a typed data slot a flow can collect from a user.
// Slugs are unique within a team.
type Entity struct {
	ID             int64          `json:"id"`
	TeamID         int64          `json:"team_id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Type           EntityType     `json:"type"`
	RequiredFormat string         `json:"required_format,omitempty"`
	Options        []EntityOption `json:"options,omitempty"`
	AutoExtract    bool           `json:"auto_extract"`
	FuzzyAliases   []string       `json:"fuzzy_aliases,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks entity authoring input.
func (e *Entity) Validate() error {
	if !IsValidEntityType(e.Type) {
		return ErrInvalidEntityType
	}
	return nil
}

// EntityValue is the current collected value of one Entity for one sender
// within one team. Unique on (entity, team, sender); writes are upsert,
// last write wins.
type EntityValue struct {
	EntityID  int64     `json:"entity_id"`
	TeamID    int64     `json:"team_id"`
	SenderID  string    `json:"sender_id"`
	Raw       string    `json:"raw"`
	Processed string    `json:"processed"`
	NodeID    int64     `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Resolve returns the lookup value of the stored record: processed if
// present, else raw, else the whole record coerced to text.
func (v *EntityValue) Resolve() string {
	if v.Processed != "" {
		return v.Processed
	}
	if v.Raw != "" {
		return v.Raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Flow is a named, versioned graph belonging to a team.
type Flow struct {
	ID           int64          `json:"id"`
	TeamID       int64          `json:"team_id"`
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	Description  string         `json:"description,omitempty"`
	IsActive     bool           `json:"is_active"`
	WebhookToken string         `json:"webhook_token,omitempty"`
	Version      int            `json:"version"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WebhookPath returns the inbound webhook path for this flow.
func (f *Flow) WebhookPath(teamSlug string) string {
	return "/webhook/" + teamSlug + "/" + f.Slug + "/"
}

// Node is a graph vertex. CollectEntityID and DefaultPathID are zero when
// unset; targets are addressed by ID so cycles and self-references need no
// special handling.
type Node struct {
	ID              int64          `json:"id"`
	FlowID          int64          `json:"flow_id"`
	Type            NodeType       `json:"type"`
	Title           string         `json:"title"`
	MessageTemplate string         `json:"message_template,omitempty"`
	CollectEntityID int64          `json:"collect_entity,omitempty"`
	CollectMode     CollectMode    `json:"collect_entity_mode"`
	Position        map[string]any `json:"position,omitempty"`
	DefaultPathID   int64          `json:"default_path,omitempty"`
}

// Validate checks node authoring input.
func (n *Node) Validate() error {
	if n.Title == "" {
		return ErrEmptyNodeTitle
	}
	if !IsValidNodeType(n.Type) {
		return ErrInvalidNodeType
	}
	return nil
}

// Path is a directed, ordered edge from a node to an optional target node.
// A zero TargetNodeID means the flow terminates on this edge. Condition is
// the raw JSON condition expression, empty when the path is unconditional.
type Path struct {
	ID           int64           `json:"id"`
	NodeID       int64           `json:"node_id"`
	Label        string          `json:"label"`
	Enabled      bool            `json:"enabled"`
	Condition    json.RawMessage `json:"condition,omitempty"`
	TargetNodeID int64           `json:"target_node,omitempty"`
	Order        int             `json:"order"`
}

// HasCondition reports whether the path carries a condition expression.
func (p *Path) HasCondition() bool {
	trimmed := string(p.Condition)
	return trimmed != "" && trimmed != "null"
}

// ContextKeyCollectedEntities is the session context key holding the
// slug -> value cache of collected entities.
const ContextKeyCollectedEntities = "collected_entities"

// ConversationSession is the mutable execution state for one
// (sender, flow, team) triple; unique on that triple.
type ConversationSession struct {
	ID             string         `json:"id"`
	SenderID       string         `json:"sender_id"`
	FlowID         int64          `json:"flow_id"`
	TeamID         int64          `json:"team_id"`
	CurrentNodeID  int64          `json:"current_node,omitempty"`
	LeadID         string         `json:"lead_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Status         SessionStatus  `json:"status"`
	Context        map[string]any `json:"context,omitempty"`
	Platform       string         `json:"platform,omitempty"`
	PlatformData   map[string]any `json:"platform_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// CollectedEntities returns the slug -> value cache from the session
// context, or an empty map if none has been recorded.
func (s *ConversationSession) CollectedEntities() map[string]string {
	result := make(map[string]string)
	raw, ok := s.Context[ContextKeyCollectedEntities]
	if !ok {
		return result
	}
	switch cached := raw.(type) {
	case map[string]string:
		for slug, value := range cached {
			result[slug] = value
		}
	case map[string]any:
		// Context round-trips through JSON, which widens the map value type.
		for slug, value := range cached {
			if text, ok := value.(string); ok {
				result[slug] = text
			}
		}
	}
	return result
}

// SetCollectedEntity mirrors a collected value into the session context cache.
func (s *ConversationSession) SetCollectedEntity(slug, value string) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	cached := s.CollectedEntities()
	cached[slug] = value
	s.Context[ContextKeyCollectedEntities] = cached
}

// Finish marks the session FINISHED at the given time. It is a no-op on an
// already finished session so the terminal transition happens exactly once.
func (s *ConversationSession) Finish(at time.Time) {
	if s.Status == SessionStatusFinished {
		return
	}
	s.Status = SessionStatusFinished
	s.FinishedAt = &at
	s.UpdatedAt = at
}

// Lead identifies a sender across conversations, keyed by
// (platform, platform_id). Thin collaborator record.
type Lead struct {
	ID              string    `json:"id"`
	Platform        string    `json:"platform"`
	PlatformID      string    `json:"platform_id"`
	Name            string    `json:"name,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	Source          string    `json:"source,omitempty"`
	TeamID          int64     `json:"team_id,omitempty"`
	LastInteraction time.Time `json:"last_interaction"`
	CreatedAt       time.Time `json:"created_at"`
}

// Conversation is a message thread between a lead and a flow.
type Conversation struct {
	ID               string    `json:"id"`
	LeadID           string    `json:"lead_id"`
	FlowID           int64     `json:"flow_id"`
	Platform         string    `json:"platform,omitempty"`
	PlatformThreadID string    `json:"platform_thread_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Message is one entry in the append-only message log. IsResponse is false
// for inbound sender messages and true for rendered replies.
type Message struct {
	ID             string    `json:"id"`
	LeadID         string    `json:"lead_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	Content        string    `json:"content"`
	IsResponse     bool      `json:"is_response"`
	Automatic      bool      `json:"automatic"`
	SentAt         time.Time `json:"sent_at"`
}
