package store

import (
	"database/sql"
	"fmt"

	"github.com/convoflow/convoflow/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so the scan helpers serve
// both single-row and multi-row queries on either SQL backend.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (models.Flow, error) {
	var f models.Flow
	var description, webhookToken sql.NullString
	var metadata sql.NullString
	err := row.Scan(&f.ID, &f.TeamID, &f.Name, &f.Slug, &description, &f.IsActive, &webhookToken, &f.Version, &metadata, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.Description = description.String
	f.WebhookToken = webhookToken.String
	if err := scanJSON(metadata, &f.Metadata); err != nil {
		return f, fmt.Errorf("flow %d: %w", f.ID, err)
	}
	return f, nil
}

func scanNode(row rowScanner) (models.Node, error) {
	var n models.Node
	var position sql.NullString
	err := row.Scan(&n.ID, &n.FlowID, &n.Type, &n.Title, &n.MessageTemplate, &n.CollectEntityID, &n.CollectMode, &position, &n.DefaultPathID)
	if err != nil {
		return n, err
	}
	if err := scanJSON(position, &n.Position); err != nil {
		return n, fmt.Errorf("node %d: %w", n.ID, err)
	}
	return n, nil
}

func scanPath(row rowScanner) (models.Path, error) {
	var p models.Path
	var condition sql.NullString
	err := row.Scan(&p.ID, &p.NodeID, &p.Label, &p.Enabled, &condition, &p.TargetNodeID, &p.Order)
	if err != nil {
		return p, err
	}
	if condition.Valid && condition.String != "" {
		p.Condition = []byte(condition.String)
	}
	return p, nil
}

func scanEntity(row rowScanner) (models.Entity, error) {
	var e models.Entity
	var requiredFormat, options, fuzzyAliases sql.NullString
	err := row.Scan(&e.ID, &e.TeamID, &e.Name, &e.Slug, &e.Type, &requiredFormat, &options, &e.AutoExtract, &fuzzyAliases, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.RequiredFormat = requiredFormat.String
	if err := scanJSON(options, &e.Options); err != nil {
		return e, fmt.Errorf("entity %d: %w", e.ID, err)
	}
	if err := scanJSON(fuzzyAliases, &e.FuzzyAliases); err != nil {
		return e, fmt.Errorf("entity %d: %w", e.ID, err)
	}
	return e, nil
}

func scanEntityValue(row rowScanner) (models.EntityValue, error) {
	var v models.EntityValue
	err := row.Scan(&v.EntityID, &v.TeamID, &v.SenderID, &v.Raw, &v.Processed, &v.NodeID, &v.Timestamp)
	return v, err
}

func scanSession(row rowScanner) (models.ConversationSession, error) {
	var s models.ConversationSession
	var leadID, conversationID, platform sql.NullString
	var context, platformData sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&s.ID, &s.SenderID, &s.FlowID, &s.TeamID, &s.CurrentNodeID, &leadID, &conversationID,
		&s.Status, &context, &platform, &platformData, &s.CreatedAt, &s.UpdatedAt, &finishedAt)
	if err != nil {
		return s, err
	}
	s.LeadID = leadID.String
	s.ConversationID = conversationID.String
	s.Platform = platform.String
	s.FinishedAt = timePtr(finishedAt)
	if err := scanJSON(context, &s.Context); err != nil {
		return s, fmt.Errorf("session %s: %w", s.ID, err)
	}
	if err := scanJSON(platformData, &s.PlatformData); err != nil {
		return s, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return s, nil
}

func scanLead(row rowScanner) (models.Lead, error) {
	var l models.Lead
	var name, phone, email, source sql.NullString
	err := row.Scan(&l.ID, &l.Platform, &l.PlatformID, &name, &phone, &email, &source, &l.TeamID, &l.LastInteraction, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.Name = name.String
	l.Phone = phone.String
	l.Email = email.String
	l.Source = source.String
	return l, nil
}

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var conversationID, platform sql.NullString
	err := row.Scan(&m.ID, &m.LeadID, &conversationID, &platform, &m.Content, &m.IsResponse, &m.Automatic, &m.SentAt)
	if err != nil {
		return m, err
	}
	m.ConversationID = conversationID.String
	m.Platform = platform.String
	return m, nil
}
