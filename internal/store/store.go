// Package store provides storage backends for ConvoFlow.
//
// It defines the Store interface over flow definitions, per-sender entity
// values, conversation sessions and the collaborator records (leads,
// conversations, message log), with SQLite, PostgreSQL and in-memory
// implementations.
package store

import (
	"strings"
	"time"

	"github.com/convoflow/convoflow/internal/models"
)

// DetectDSNType classifies a database connection string as "postgres" or
// "sqlite". Anything that is not recognizably a Postgres URL or key-value
// DSN is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite, a
	// connection URL for Postgres.
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store is the persistence contract the engine and API are written against.
//
// Lookup methods return (nil, nil) when the record does not exist; errors
// are reserved for storage faults. Create methods assign generated IDs back
// onto the passed record.
type Store interface {
	// Teams
	CreateTeam(t *models.Team) error
	GetTeam(id int64) (*models.Team, error)
	GetTeamBySlug(slug string) (*models.Team, error)

	// Flow definitions
	CreateFlow(f *models.Flow) error
	GetFlow(id int64) (*models.Flow, error)
	GetFlowBySlug(teamID int64, slug string) (*models.Flow, error)
	ListFlows(teamID int64) ([]models.Flow, error)
	UpdateFlow(f *models.Flow) error
	FlowSlugExists(slug string) (bool, error)

	CreateNode(n *models.Node) error
	GetNode(id int64) (*models.Node, error)
	ListNodes(flowID int64) ([]models.Node, error)
	UpdateNode(n *models.Node) error

	CreatePath(p *models.Path) error
	ListPaths(nodeID int64) ([]models.Path, error)
	ListFlowPaths(flowID int64) ([]models.Path, error)

	CreateEntity(e *models.Entity) error
	GetEntity(id int64) (*models.Entity, error)
	ListEntities(teamID int64) ([]models.Entity, error)
	EntitySlugExists(teamID int64, slug string) (bool, error)

	// Entity values: upsert is atomic per (entity, team, sender) key.
	UpsertEntityValue(v models.EntityValue) error
	GetEntityValue(entityID, teamID int64, senderID string) (*models.EntityValue, error)
	ListEntityValues(teamID int64, senderID string) ([]models.EntityValue, error)

	// Sessions: unique on (sender, flow, team); SaveSession upserts.
	GetSession(senderID string, flowID, teamID int64) (*models.ConversationSession, error)
	SaveSession(s *models.ConversationSession) error
	FinishStaleSessions(olderThan time.Time) (int, error)

	// Collaborators
	GetLeadByPlatform(platform, platformID string) (*models.Lead, error)
	CreateLead(l *models.Lead) error
	UpdateLead(l *models.Lead) error
	CreateConversation(c *models.Conversation) error
	TouchConversation(id string, at time.Time) error
	AddMessage(m models.Message) error
	LastInboundMessage(conversationID, leadID string) (*models.Message, error)

	Close() error
}
