// Package store: PostgreSQL backend.
//
// This file implements the Store interface over PostgreSQL for deployments
// where multiple workers share one database.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/convoflow/convoflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateTeam(t *models.Team) error {
	err := s.db.QueryRow(`INSERT INTO teams (name, slug) VALUES ($1, $2) RETURNING id`, t.Name, t.Slug).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert team %s: %w", t.Slug, err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(id int64) (*models.Team, error) {
	var t models.Team
	err := s.db.QueryRow(`SELECT id, name, slug FROM teams WHERE id = $1`, id).Scan(&t.ID, &t.Name, &t.Slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query team %d: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTeamBySlug(slug string) (*models.Team, error) {
	var t models.Team
	err := s.db.QueryRow(`SELECT id, name, slug FROM teams WHERE slug = $1`, slug).Scan(&t.ID, &t.Name, &t.Slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query team %s: %w", slug, err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateFlow(f *models.Flow) error {
	metadata, err := jsonColumn(f.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(
		`INSERT INTO flows (team_id, name, slug, description, is_active, webhook_token, version, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		f.TeamID, f.Name, f.Slug, f.Description, f.IsActive, nilIfEmpty(f.WebhookToken), f.Version, metadata, f.CreatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to insert flow %s: %w", f.Slug, err)
	}
	return nil
}

func (s *PostgresStore) UpdateFlow(f *models.Flow) error {
	metadata, err := jsonColumn(f.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE flows SET name = $1, slug = $2, description = $3, is_active = $4, webhook_token = $5, version = $6, metadata = $7 WHERE id = $8`,
		f.Name, f.Slug, f.Description, f.IsActive, nilIfEmpty(f.WebhookToken), f.Version, metadata, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update flow %d: %w", f.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetFlow(id int64) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE id = $1`, id)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %d: %w", id, err)
	}
	return &f, nil
}

func (s *PostgresStore) GetFlowBySlug(teamID int64, slug string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE team_id = $1 AND slug = $2`, teamID, slug)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %s: %w", slug, err)
	}
	return &f, nil
}

func (s *PostgresStore) ListFlows(teamID int64) ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT `+flowColumns+` FROM flows WHERE team_id = $1 ORDER BY id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *PostgresStore) FlowSlugExists(slug string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM flows WHERE slug = $1`, slug).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check flow slug %s: %w", slug, err)
	}
	return count > 0, nil
}

func (s *PostgresStore) CreateNode(n *models.Node) error {
	position, err := jsonColumn(n.Position)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(
		`INSERT INTO nodes (flow_id, type, title, message_template, collect_entity_id, collect_mode, position, default_path_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		n.FlowID, n.Type, n.Title, n.MessageTemplate, n.CollectEntityID, n.CollectMode, position, n.DefaultPathID).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", n.Title, err)
	}
	return nil
}

func (s *PostgresStore) GetNode(id int64) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node %d: %w", id, err)
	}
	return &n, nil
}

func (s *PostgresStore) ListNodes(flowID int64) ([]models.Node, error) {
	rows, err := s.db.Query(`SELECT `+nodeColumns+` FROM nodes WHERE flow_id = $1 ORDER BY id`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) UpdateNode(n *models.Node) error {
	position, err := jsonColumn(n.Position)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE nodes SET type = $1, title = $2, message_template = $3, collect_entity_id = $4, collect_mode = $5, position = $6, default_path_id = $7
		 WHERE id = $8`,
		n.Type, n.Title, n.MessageTemplate, n.CollectEntityID, n.CollectMode, position, n.DefaultPathID, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node %d: %w", n.ID, err)
	}
	return nil
}

func (s *PostgresStore) CreatePath(p *models.Path) error {
	err := s.db.QueryRow(
		`INSERT INTO paths (node_id, label, enabled, condition, target_node_id, sort_order)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.NodeID, p.Label, p.Enabled, nilIfEmpty(string(p.Condition)), p.TargetNodeID, p.Order).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert path %s: %w", p.Label, err)
	}
	return nil
}

func (s *PostgresStore) ListPaths(nodeID int64) ([]models.Path, error) {
	rows, err := s.db.Query(`SELECT `+pathColumns+` FROM paths WHERE node_id = $1 ORDER BY sort_order, id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

func (s *PostgresStore) ListFlowPaths(flowID int64) ([]models.Path, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.node_id, p.label, p.enabled, p.condition, p.target_node_id, p.sort_order
		 FROM paths p JOIN nodes n ON n.id = p.node_id
		 WHERE n.flow_id = $1 ORDER BY p.sort_order, p.id`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow paths: %w", err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

func (s *PostgresStore) CreateEntity(e *models.Entity) error {
	options, err := jsonColumn(e.Options)
	if err != nil {
		return err
	}
	aliases, err := jsonColumn(e.FuzzyAliases)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(
		`INSERT INTO entities (team_id, name, slug, type, required_format, options, auto_extract, fuzzy_aliases, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		e.TeamID, e.Name, e.Slug, e.Type, e.RequiredFormat, options, e.AutoExtract, aliases, e.CreatedAt, e.UpdatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert entity %s: %w", e.Slug, err)
	}
	return nil
}

func (s *PostgresStore) GetEntity(id int64) (*models.Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity %d: %w", id, err)
	}
	return &e, nil
}

func (s *PostgresStore) ListEntities(teamID int64) ([]models.Entity, error) {
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities WHERE team_id = $1 ORDER BY id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *PostgresStore) EntitySlugExists(teamID int64, slug string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM entities WHERE team_id = $1 AND slug = $2`, teamID, slug).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check entity slug %s: %w", slug, err)
	}
	return count > 0, nil
}

func (s *PostgresStore) UpsertEntityValue(v models.EntityValue) error {
	_, err := s.db.Exec(
		`INSERT INTO entity_values (entity_id, team_id, sender_id, raw, processed, node_id, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (entity_id, team_id, sender_id)
		 DO UPDATE SET raw = EXCLUDED.raw, processed = EXCLUDED.processed, node_id = EXCLUDED.node_id, ts = EXCLUDED.ts`,
		v.EntityID, v.TeamID, v.SenderID, v.Raw, v.Processed, v.NodeID, v.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert entity value %d/%s: %w", v.EntityID, v.SenderID, err)
	}
	return nil
}

func (s *PostgresStore) GetEntityValue(entityID, teamID int64, senderID string) (*models.EntityValue, error) {
	row := s.db.QueryRow(
		`SELECT entity_id, team_id, sender_id, raw, processed, node_id, ts FROM entity_values
		 WHERE entity_id = $1 AND team_id = $2 AND sender_id = $3`, entityID, teamID, senderID)
	v, err := scanEntityValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity value %d/%s: %w", entityID, senderID, err)
	}
	return &v, nil
}

func (s *PostgresStore) ListEntityValues(teamID int64, senderID string) ([]models.EntityValue, error) {
	rows, err := s.db.Query(
		`SELECT entity_id, team_id, sender_id, raw, processed, node_id, ts FROM entity_values
		 WHERE team_id = $1 AND sender_id = $2 ORDER BY entity_id`, teamID, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity values: %w", err)
	}
	defer rows.Close()

	var values []models.EntityValue
	for rows.Next() {
		v, err := scanEntityValue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity value row: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *PostgresStore) GetSession(senderID string, flowID, teamID int64) (*models.ConversationSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE sender_id = $1 AND flow_id = $2 AND team_id = $3`,
		senderID, flowID, teamID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", senderID, err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSession(sess *models.ConversationSession) error {
	context, err := jsonColumn(sess.Context)
	if err != nil {
		return err
	}
	platformData, err := jsonColumn(sess.PlatformData)
	if err != nil {
		return err
	}
	var finishedAt interface{}
	if sess.FinishedAt != nil {
		finishedAt = *sess.FinishedAt
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, sender_id, flow_id, team_id, current_node_id, lead_id, conversation_id, status, context, platform, platform_data, created_at, updated_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (sender_id, flow_id, team_id)
		 DO UPDATE SET current_node_id = EXCLUDED.current_node_id, lead_id = EXCLUDED.lead_id,
		   conversation_id = EXCLUDED.conversation_id, status = EXCLUDED.status, context = EXCLUDED.context,
		   platform_data = EXCLUDED.platform_data, updated_at = EXCLUDED.updated_at, finished_at = EXCLUDED.finished_at`,
		sess.ID, sess.SenderID, sess.FlowID, sess.TeamID, sess.CurrentNodeID, sess.LeadID, sess.ConversationID,
		sess.Status, context, sess.Platform, platformData, sess.CreatedAt, sess.UpdatedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinishStaleSessions(olderThan time.Time) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE sessions SET status = $1, finished_at = $2, updated_at = $3 WHERE status = $4 AND updated_at < $5`,
		models.SessionStatusFinished, now, now, models.SessionStatusActive, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to finish stale sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) GetLeadByPlatform(platform, platformID string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE platform = $1 AND platform_id = $2`, platform, platformID)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead %s/%s: %w", platform, platformID, err)
	}
	return &l, nil
}

func (s *PostgresStore) CreateLead(l *models.Lead) error {
	_, err := s.db.Exec(
		`INSERT INTO leads (id, platform, platform_id, name, phone, email, source, team_id, last_interaction, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.Platform, l.PlatformID, l.Name, l.Phone, l.Email, l.Source, l.TeamID, l.LastInteraction, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lead %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateLead(l *models.Lead) error {
	_, err := s.db.Exec(
		`UPDATE leads SET name = $1, phone = $2, email = $3, source = $4, team_id = $5, last_interaction = $6 WHERE id = $7`,
		l.Name, l.Phone, l.Email, l.Source, l.TeamID, l.LastInteraction, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) CreateConversation(c *models.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, lead_id, flow_id, platform, platform_thread_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.LeadID, c.FlowID, c.Platform, c.PlatformThreadID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) TouchConversation(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, lead_id, conversation_id, platform, content, is_response, automatic, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.LeadID, m.ConversationID, m.Platform, m.Content, m.IsResponse, m.Automatic, m.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) LastInboundMessage(conversationID, leadID string) (*models.Message, error) {
	var row *sql.Row
	if conversationID != "" {
		row = s.db.QueryRow(
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND is_response = FALSE ORDER BY sent_at DESC, id DESC LIMIT 1`,
			conversationID)
	} else {
		row = s.db.QueryRow(
			`SELECT `+messageColumns+` FROM messages WHERE lead_id = $1 AND is_response = FALSE ORDER BY sent_at DESC, id DESC LIMIT 1`,
			leadID)
	}
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last inbound message: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
