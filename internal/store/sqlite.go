// Package store: SQLite backend.
//
// This file implements the Store interface over an SQLite database file,
// the default backend for single-node deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/convoflow/convoflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store backed by an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the directory is
// created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateTeam(t *models.Team) error {
	res, err := s.db.Exec(`INSERT INTO teams (name, slug) VALUES (?, ?)`, t.Name, t.Slug)
	if err != nil {
		return fmt.Errorf("failed to insert team %s: %w", t.Slug, err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetTeam(id int64) (*models.Team, error) {
	var t models.Team
	err := s.db.QueryRow(`SELECT id, name, slug FROM teams WHERE id = ?`, id).Scan(&t.ID, &t.Name, &t.Slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query team %d: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) GetTeamBySlug(slug string) (*models.Team, error) {
	var t models.Team
	err := s.db.QueryRow(`SELECT id, name, slug FROM teams WHERE slug = ?`, slug).Scan(&t.ID, &t.Name, &t.Slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query team %s: %w", slug, err)
	}
	return &t, nil
}

const flowColumns = `id, team_id, name, slug, description, is_active, webhook_token, version, metadata, created_at`

func (s *SQLiteStore) CreateFlow(f *models.Flow) error {
	metadata, err := jsonColumn(f.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO flows (team_id, name, slug, description, is_active, webhook_token, version, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TeamID, f.Name, f.Slug, f.Description, f.IsActive, nilIfEmpty(f.WebhookToken), f.Version, metadata, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert flow %s: %w", f.Slug, err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateFlow(f *models.Flow) error {
	metadata, err := jsonColumn(f.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE flows SET name = ?, slug = ?, description = ?, is_active = ?, webhook_token = ?, version = ?, metadata = ? WHERE id = ?`,
		f.Name, f.Slug, f.Description, f.IsActive, nilIfEmpty(f.WebhookToken), f.Version, metadata, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update flow %d: %w", f.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlow(id int64) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %d: %w", id, err)
	}
	return &f, nil
}

func (s *SQLiteStore) GetFlowBySlug(teamID int64, slug string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE team_id = ? AND slug = ?`, teamID, slug)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %s: %w", slug, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFlows(teamID int64) ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT `+flowColumns+` FROM flows WHERE team_id = ? ORDER BY id`, teamID)
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

func (s *SQLiteStore) FlowSlugExists(slug string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM flows WHERE slug = ?`, slug).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check flow slug %s: %w", slug, err)
	}
	return count > 0, nil
}

const nodeColumns = `id, flow_id, type, title, message_template, collect_entity_id, collect_mode, position, default_path_id`

func (s *SQLiteStore) CreateNode(n *models.Node) error {
	position, err := jsonColumn(n.Position)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO nodes (flow_id, type, title, message_template, collect_entity_id, collect_mode, position, default_path_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.FlowID, n.Type, n.Title, n.MessageTemplate, n.CollectEntityID, n.CollectMode, position, n.DefaultPathID)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", n.Title, err)
	}
	n.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetNode(id int64) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node %d: %w", id, err)
	}
	return &n, nil
}

func (s *SQLiteStore) ListNodes(flowID int64) ([]models.Node, error) {
	rows, err := s.db.Query(`SELECT `+nodeColumns+` FROM nodes WHERE flow_id = ? ORDER BY id`, flowID)
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

func (s *SQLiteStore) UpdateNode(n *models.Node) error {
	position, err := jsonColumn(n.Position)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE nodes SET type = ?, title = ?, message_template = ?, collect_entity_id = ?, collect_mode = ?, position = ?, default_path_id = ?
		 WHERE id = ?`,
		n.Type, n.Title, n.MessageTemplate, n.CollectEntityID, n.CollectMode, position, n.DefaultPathID, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node %d: %w", n.ID, err)
	}
	return nil
}

const pathColumns = `id, node_id, label, enabled, condition, target_node_id, sort_order`

func (s *SQLiteStore) CreatePath(p *models.Path) error {
	res, err := s.db.Exec(
		`INSERT INTO paths (node_id, label, enabled, condition, target_node_id, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.NodeID, p.Label, p.Enabled, nilIfEmpty(string(p.Condition)), p.TargetNodeID, p.Order)
	if err != nil {
		return fmt.Errorf("failed to insert path %s: %w", p.Label, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListPaths(nodeID int64) ([]models.Path, error) {
	rows, err := s.db.Query(`SELECT `+pathColumns+` FROM paths WHERE node_id = ? ORDER BY sort_order, id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

func (s *SQLiteStore) ListFlowPaths(flowID int64) ([]models.Path, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.node_id, p.label, p.enabled, p.condition, p.target_node_id, p.sort_order
		 FROM paths p JOIN nodes n ON n.id = p.node_id
		 WHERE n.flow_id = ? ORDER BY p.sort_order, p.id`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow paths: %w", err)
	}
	defer rows.Close()
	return collectPaths(rows)
}

func collectPaths(rows *sql.Rows) ([]models.Path, error) {
	var paths []models.Path
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan path row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

const entityColumns = `id, team_id, name, slug, type, required_format, options, auto_extract, fuzzy_aliases, created_at, updated_at`

func (s *SQLiteStore) CreateEntity(e *models.Entity) error {
	options, err := jsonColumn(e.Options)
	if err != nil {
		return err
	}
	aliases, err := jsonColumn(e.FuzzyAliases)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO entities (team_id, name, slug, type, required_format, options, auto_extract, fuzzy_aliases, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TeamID, e.Name, e.Slug, e.Type, e.RequiredFormat, options, e.AutoExtract, aliases, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entity %s: %w", e.Slug, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) GetEntity(id int64) (*models.Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity %d: %w", id, err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListEntities(teamID int64) ([]models.Entity, error) {
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities WHERE team_id = ? ORDER BY id`, teamID)
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

func (s *SQLiteStore) EntitySlugExists(teamID int64, slug string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM entities WHERE team_id = ? AND slug = ?`, teamID, slug).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check entity slug %s: %w", slug, err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) UpsertEntityValue(v models.EntityValue) error {
	_, err := s.db.Exec(
		`INSERT INTO entity_values (entity_id, team_id, sender_id, raw, processed, node_id, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, team_id, sender_id)
		 DO UPDATE SET raw = excluded.raw, processed = excluded.processed, node_id = excluded.node_id, ts = excluded.ts`,
		v.EntityID, v.TeamID, v.SenderID, v.Raw, v.Processed, v.NodeID, v.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert entity value %d/%s: %w", v.EntityID, v.SenderID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEntityValue(entityID, teamID int64, senderID string) (*models.EntityValue, error) {
	row := s.db.QueryRow(
		`SELECT entity_id, team_id, sender_id, raw, processed, node_id, ts FROM entity_values
		 WHERE entity_id = ? AND team_id = ? AND sender_id = ?`, entityID, teamID, senderID)
	v, err := scanEntityValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity value %d/%s: %w", entityID, senderID, err)
	}
	return &v, nil
}

func (s *SQLiteStore) ListEntityValues(teamID int64, senderID string) ([]models.EntityValue, error) {
	rows, err := s.db.Query(
		`SELECT entity_id, team_id, sender_id, raw, processed, node_id, ts FROM entity_values
		 WHERE team_id = ? AND sender_id = ? ORDER BY entity_id`, teamID, senderID)
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

const sessionColumns = `id, sender_id, flow_id, team_id, current_node_id, lead_id, conversation_id, status, context, platform, platform_data, created_at, updated_at, finished_at`

func (s *SQLiteStore) GetSession(senderID string, flowID, teamID int64) (*models.ConversationSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE sender_id = ? AND flow_id = ? AND team_id = ?`,
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

func (s *SQLiteStore) SaveSession(sess *models.ConversationSession) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sender_id, flow_id, team_id)
		 DO UPDATE SET current_node_id = excluded.current_node_id, lead_id = excluded.lead_id,
		   conversation_id = excluded.conversation_id, status = excluded.status, context = excluded.context,
		   platform_data = excluded.platform_data, updated_at = excluded.updated_at, finished_at = excluded.finished_at`,
		sess.ID, sess.SenderID, sess.FlowID, sess.TeamID, sess.CurrentNodeID, sess.LeadID, sess.ConversationID,
		sess.Status, context, sess.Platform, platformData, sess.CreatedAt, sess.UpdatedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishStaleSessions(olderThan time.Time) (int, error) {
	now := time.Now()
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, finished_at = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		models.SessionStatusFinished, now, now, models.SessionStatusActive, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to finish stale sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

const leadColumns = `id, platform, platform_id, name, phone, email, source, team_id, last_interaction, created_at`

func (s *SQLiteStore) GetLeadByPlatform(platform, platformID string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE platform = ? AND platform_id = ?`, platform, platformID)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead %s/%s: %w", platform, platformID, err)
	}
	return &l, nil
}

func (s *SQLiteStore) CreateLead(l *models.Lead) error {
	_, err := s.db.Exec(
		`INSERT INTO leads (id, platform, platform_id, name, phone, email, source, team_id, last_interaction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Platform, l.PlatformID, l.Name, l.Phone, l.Email, l.Source, l.TeamID, l.LastInteraction, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert lead %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLead(l *models.Lead) error {
	_, err := s.db.Exec(
		`UPDATE leads SET name = ?, phone = ?, email = ?, source = ?, team_id = ?, last_interaction = ? WHERE id = ?`,
		l.Name, l.Phone, l.Email, l.Source, l.TeamID, l.LastInteraction, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(c *models.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, lead_id, flow_id, platform, platform_thread_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeadID, c.FlowID, c.Platform, c.PlatformThreadID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) TouchConversation(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, lead_id, conversation_id, platform, content, is_response, automatic, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LeadID, m.ConversationID, m.Platform, m.Content, m.IsResponse, m.Automatic, m.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", m.ID, err)
	}
	return nil
}

const messageColumns = `id, lead_id, conversation_id, platform, content, is_response, automatic, sent_at`

func (s *SQLiteStore) LastInboundMessage(conversationID, leadID string) (*models.Message, error) {
	var row *sql.Row
	if conversationID != "" {
		row = s.db.QueryRow(
			`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND is_response = 0 ORDER BY sent_at DESC, id DESC LIMIT 1`,
			conversationID)
	} else {
		row = s.db.QueryRow(
			`SELECT `+messageColumns+` FROM messages WHERE lead_id = ? AND is_response = 0 ORDER BY sent_at DESC, id DESC LIMIT 1`,
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
