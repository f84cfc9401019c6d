package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/internal/metric"
	"github.com/convoflow/convoflow/internal/models"
	"github.com/convoflow/convoflow/internal/store"
	"github.com/convoflow/convoflow/internal/util"
)

const (
	// menuPhrase is the reserved inbound phrase that jumps the session to
	// the node with the matching title, bypassing path resolution.
	menuPhrase = "menu principal"

	// completionResponse is returned when a flow runs to completion.
	completionResponse = "Flujo completado. ¡Gracias por tu tiempo!"

	// directCompletionResponse is the terse completion text of the
	// flow-id-addressed processor endpoint.
	directCompletionResponse = "Fin del flujo."

	// defaultPlatform is assumed when the caller does not name one.
	defaultPlatform = "api"
)

// Opts holds configuration options for the session engine.
type Opts struct {
	// Store is the backing persistence layer. Required.
	Store store.Store
	// Cache is an optional snapshot cache placed in front of the store.
	Cache SnapshotCache
	// Metrics is the optional engine metric set.
	Metrics *metric.EngineMetrics
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithStore sets the backing store.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithCache sets the flow snapshot cache.
func WithCache(c SnapshotCache) Option {
	return func(o *Opts) { o.Cache = c }
}

// WithMetrics sets the engine metric set.
func WithMetrics(m *metric.EngineMetrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Engine drives conversational sessions: it owns the session lifecycle,
// collects entities, resolves transitions and renders replies. Processing
// is serialized per (sender, flow, team) so concurrent messages for the
// same session cannot race on load-or-create or lose entity upserts.
type Engine struct {
	store   store.Store
	graphs  *GraphStore
	locks   *keyLocker
	metrics *metric.EngineMetrics
}

// NewEngine creates a session engine based on provided options.
func NewEngine(opts ...Option) (*Engine, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine store not set")
	}
	return &Engine{
		store:   cfg.Store,
		graphs:  NewGraphStore(cfg.Store, cfg.Cache),
		locks:   newKeyLocker(),
		metrics: cfg.Metrics,
	}, nil
}

// ProcessWebhook handles one inbound webhook message against the given flow
// and returns the response payload. The session record is only mutated when
// the returned error is nil.
func (e *Engine) ProcessWebhook(team *models.Team, f *models.Flow, req *models.WebhookRequest) (*models.WebhookResponse, error) {
	started := time.Now()
	release := e.locks.Acquire(sessionKey(req.SenderID, f.ID, team.ID))
	defer release()

	resp, err := e.processWebhook(team, f, req)
	if e.metrics != nil {
		e.metrics.ProcessDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			e.metrics.MessagesProcessed.WithLabelValues("error").Inc()
		} else {
			e.metrics.MessagesProcessed.WithLabelValues(resp.Status).Inc()
		}
	}
	return resp, err
}

func (e *Engine) processWebhook(team *models.Team, f *models.Flow, req *models.WebhookRequest) (*models.WebhookResponse, error) {
	now := time.Now()
	platform := req.Platform
	if platform == "" {
		platform = defaultPlatform
	}

	lead, err := e.resolveLead(team, req, platform, now)
	if err != nil {
		return nil, err
	}

	snap, err := e.graphs.Snapshot(f)
	if err != nil {
		return nil, err
	}

	session, err := e.loadOrCreateSession(snap, req.SenderID, f, team, lead, platform, req, now)
	if err != nil {
		return nil, err
	}

	// Empty inbound messages are not recorded; they would otherwise feed
	// the most-recent-inbound fallback of message clauses.
	if req.Message != "" {
		e.logMessage(lead.ID, session.ConversationID, platform, req.Message, false, now)
	}

	currentNode := snap.Node(session.CurrentNodeID)
	if currentNode == nil {
		return nil, models.ErrNoCurrentNode
	}
	currentRef := &models.NodeRef{ID: currentNode.ID, Title: currentNode.Title, Type: currentNode.Type}

	// A finished session stays finished; repeat the completion response
	// without touching state.
	if session.Status == models.SessionStatusFinished {
		return &models.WebhookResponse{
			Status:         models.WebhookStatusFlowCompleted,
			SessionID:      session.ID,
			LeadID:         lead.ID,
			ConversationID: session.ConversationID,
			CurrentNode:    currentRef,
			Response:       completionResponse,
			FlowCompleted:  true,
			Context:        session.Context,
		}, nil
	}

	if target := e.menuJumpTarget(snap, req.Message); target != nil {
		session.CurrentNodeID = target.ID
		session.UpdatedAt = now
		if err := e.store.SaveSession(session); err != nil {
			return nil, err
		}
		response := RenderNode(target, e.buildVars(lead, snap, team.ID, req.SenderID, session))
		e.logMessage(lead.ID, session.ConversationID, platform, response, true, now)
		e.touch(lead, session.ConversationID, now)
		slog.Info("Engine menu jump", "session_id", session.ID, "node_id", target.ID)
		return &models.WebhookResponse{
			Status:         models.WebhookStatusSuccess,
			SessionID:      session.ID,
			LeadID:         lead.ID,
			ConversationID: session.ConversationID,
			CurrentNode:    currentRef,
			NextNode:       nextNodeRef(target, snap),
			Response:       response,
			FlowCompleted:  false,
			Context:        session.Context,
		}, nil
	}

	var collectedEntity *string
	if currentNode.CollectEntityID != 0 && req.Message != "" {
		entity := snap.Entity(currentNode.CollectEntityID)
		if entity != nil {
			if err := e.collectEntity(entity, team.ID, req.SenderID, req.Message, currentNode.ID, session, now); err != nil {
				return nil, err
			}
			collectedEntity = &entity.Slug
		} else {
			slog.Warn("Engine collect entity not found",
				"session_id", session.ID, "entity_id", currentNode.CollectEntityID)
		}
	}

	eval := &Evaluator{
		Entities: newStoreEntities(e.store, team.ID, req.SenderID),
		Message:  &req.Message,
		LastMessage: func() (string, bool) {
			return e.lastInbound(session.ConversationID, lead.ID)
		},
	}
	resolver := &Resolver{Snapshot: snap, Eval: eval, SessionID: session.ID}
	next, outcome := resolver.Resolve(currentNode)
	if e.metrics != nil {
		e.metrics.PathResolutions.WithLabelValues(outcome).Inc()
	}

	if next == nil {
		session.Finish(now)
		if err := e.store.SaveSession(session); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.SessionsFinished.Inc()
		}
		e.logMessage(lead.ID, session.ConversationID, platform, completionResponse, true, now)
		e.touch(lead, session.ConversationID, now)
		slog.Info("Engine session finished", "session_id", session.ID, "node_id", currentNode.ID)
		return &models.WebhookResponse{
			Status:          models.WebhookStatusFlowCompleted,
			SessionID:       session.ID,
			LeadID:          lead.ID,
			ConversationID:  session.ConversationID,
			CurrentNode:     currentRef,
			CollectedEntity: collectedEntity,
			Response:        completionResponse,
			FlowCompleted:   true,
			Context:         session.Context,
		}, nil
	}

	session.CurrentNodeID = next.ID
	session.UpdatedAt = now
	if err := e.store.SaveSession(session); err != nil {
		return nil, err
	}

	response := RenderNode(next, e.buildVars(lead, snap, team.ID, req.SenderID, session))
	e.logMessage(lead.ID, session.ConversationID, platform, response, true, now)
	e.touch(lead, session.ConversationID, now)
	slog.Info("Engine transition",
		"session_id", session.ID, "from", currentNode.ID, "to", next.ID, "outcome", outcome)

	return &models.WebhookResponse{
		Status:          models.WebhookStatusSuccess,
		SessionID:       session.ID,
		LeadID:          lead.ID,
		ConversationID:  session.ConversationID,
		CurrentNode:     currentRef,
		CollectedEntity: collectedEntity,
		NextNode:        nextNodeRef(next, snap),
		Response:        response,
		FlowCompleted:   false,
		Context:         session.Context,
	}, nil
}

// ProcessDirect handles one message addressed to a flow by ID, without lead
// or conversation bookkeeping. Used by the flow-id-addressed processor
// endpoint.
func (e *Engine) ProcessDirect(req *models.ProcessRequest) (*models.ProcessResponse, error) {
	f, err := e.store.GetFlow(req.FlowID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, models.ErrFlowNotFound
	}

	release := e.locks.Acquire(sessionKey(req.SenderID, f.ID, f.TeamID))
	defer release()

	now := time.Now()
	snap, err := e.graphs.Snapshot(f)
	if err != nil {
		return nil, err
	}

	session, err := e.store.GetSession(req.SenderID, f.ID, f.TeamID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		start := snap.StartNode()
		if start == nil {
			return nil, models.ErrNoCurrentNode
		}
		session = &models.ConversationSession{
			ID:            util.SessionID(),
			SenderID:      req.SenderID,
			FlowID:        f.ID,
			TeamID:        f.TeamID,
			CurrentNodeID: start.ID,
			Status:        models.SessionStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.store.SaveSession(session); err != nil {
			return nil, err
		}
	}

	currentNode := snap.Node(session.CurrentNodeID)
	if currentNode == nil {
		return nil, models.ErrNoCurrentNode
	}

	var collectedEntity *string
	if currentNode.CollectEntityID != 0 && req.Message != nil && *req.Message != "" {
		entity := snap.Entity(currentNode.CollectEntityID)
		if entity == nil {
			return nil, models.ErrEntityTeamMismatch
		}
		if err := e.collectEntity(entity, f.TeamID, req.SenderID, *req.Message, currentNode.ID, session, now); err != nil {
			return nil, err
		}
		collectedEntity = &entity.Slug
	}

	eval := &Evaluator{
		Entities: newStoreEntities(e.store, f.TeamID, req.SenderID),
		Message:  req.Message,
	}
	resolver := &Resolver{Snapshot: snap, Eval: eval, SessionID: session.ID}
	next, outcome := resolver.Resolve(currentNode)
	if e.metrics != nil {
		e.metrics.PathResolutions.WithLabelValues(outcome).Inc()
	}

	if next == nil {
		session.Finish(now)
		if err := e.store.SaveSession(session); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.SessionsFinished.Inc()
		}
		return &models.ProcessResponse{
			Node:            currentNode.ID,
			CollectedEntity: collectedEntity,
			Response:        directCompletionResponse,
		}, nil
	}

	session.CurrentNodeID = next.ID
	session.UpdatedAt = now
	if err := e.store.SaveSession(session); err != nil {
		return nil, err
	}

	nextID := next.ID
	return &models.ProcessResponse{
		Node:            currentNode.ID,
		CollectedEntity: collectedEntity,
		NextNode:        &nextID,
		Response:        RenderNode(next, e.buildVars(nil, snap, f.TeamID, req.SenderID, session)),
	}, nil
}

// SweepStaleSessions finishes ACTIVE sessions idle longer than maxAge.
func (e *Engine) SweepStaleSessions(maxAge time.Duration) (int, error) {
	finished, err := e.store.FinishStaleSessions(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if finished > 0 {
		slog.Info("Engine finished stale sessions", "count", finished, "max_age", maxAge)
		if e.metrics != nil {
			e.metrics.SessionsFinished.Add(float64(finished))
		}
	}
	return finished, nil
}

func (e *Engine) resolveLead(team *models.Team, req *models.WebhookRequest, platform string, now time.Time) (*models.Lead, error) {
	lead, err := e.store.GetLeadByPlatform(platform, req.SenderID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		lead = &models.Lead{
			ID:              util.LeadID(),
			Platform:        platform,
			PlatformID:      req.SenderID,
			Name:            req.SenderName,
			Phone:           req.SenderPhone,
			Email:           req.SenderEmail,
			Source:          "webhook",
			TeamID:          team.ID,
			LastInteraction: now,
			CreatedAt:       now,
		}
		if err := e.store.CreateLead(lead); err != nil {
			return nil, err
		}
		slog.Info("Engine created lead", "lead_id", lead.ID, "platform", platform)
		return lead, nil
	}

	// Fill in identity attributes the webhook supplies that we lack.
	changed := false
	if lead.Name == "" && req.SenderName != "" {
		lead.Name = req.SenderName
		changed = true
	}
	if lead.Phone == "" && req.SenderPhone != "" {
		lead.Phone = req.SenderPhone
		changed = true
	}
	if lead.Email == "" && req.SenderEmail != "" {
		lead.Email = req.SenderEmail
		changed = true
	}
	if changed {
		if err := e.store.UpdateLead(lead); err != nil {
			return nil, err
		}
	}
	return lead, nil
}

func (e *Engine) loadOrCreateSession(snap *FlowSnapshot, senderID string, f *models.Flow, team *models.Team, lead *models.Lead, platform string, req *models.WebhookRequest, now time.Time) (*models.ConversationSession, error) {
	session, err := e.store.GetSession(senderID, f.ID, team.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		start := snap.StartNode()
		if start == nil {
			return nil, models.ErrNoCurrentNode
		}
		session = &models.ConversationSession{
			ID:            util.SessionID(),
			SenderID:      senderID,
			FlowID:        f.ID,
			TeamID:        team.ID,
			CurrentNodeID: start.ID,
			LeadID:        lead.ID,
			Status:        models.SessionStatusActive,
			Platform:      platform,
			PlatformData:  req.PlatformData,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		slog.Info("Engine created session",
			"session_id", session.ID, "sender_id", senderID, "flow_id", f.ID)
	}

	if session.ConversationID == "" {
		conversation := &models.Conversation{
			ID:               uuid.NewString(),
			LeadID:           lead.ID,
			FlowID:           f.ID,
			Platform:         platform,
			PlatformThreadID: req.ThreadID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.store.CreateConversation(conversation); err != nil {
			return nil, err
		}
		session.ConversationID = conversation.ID
	}

	if err := e.store.SaveSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (e *Engine) collectEntity(entity *models.Entity, teamID int64, senderID, message string, nodeID int64, session *models.ConversationSession, now time.Time) error {
	value := models.EntityValue{
		EntityID:  entity.ID,
		TeamID:    teamID,
		SenderID:  senderID,
		Raw:       message,
		Processed: strings.TrimSpace(message),
		NodeID:    nodeID,
		Timestamp: now,
	}
	if err := e.store.UpsertEntityValue(value); err != nil {
		return err
	}
	session.SetCollectedEntity(entity.Slug, value.Processed)
	slog.Debug("Engine collected entity",
		"session_id", session.ID, "entity", entity.Slug, "node_id", nodeID)
	return nil
}

func (e *Engine) menuJumpTarget(snap *FlowSnapshot, message string) *models.Node {
	if !strings.EqualFold(strings.TrimSpace(message), menuPhrase) {
		return nil
	}
	return snap.NodeByTitle(menuPhrase)
}

func (e *Engine) buildVars(lead *models.Lead, snap *FlowSnapshot, teamID int64, senderID string, session *models.ConversationSession) map[string]string {
	values, err := e.store.ListEntityValues(teamID, senderID)
	if err != nil {
		// Rendering degrades to the session context cache.
		slog.Warn("Engine entity value lookup failed", "sender_id", senderID, "error", err)
		values = nil
	}
	return templateVars(lead, snap, values, session)
}

func (e *Engine) logMessage(leadID, conversationID, platform, content string, isResponse bool, at time.Time) {
	msg := models.Message{
		ID:             util.MessageID(),
		LeadID:         leadID,
		ConversationID: conversationID,
		Platform:       platform,
		Content:        content,
		IsResponse:     isResponse,
		Automatic:      isResponse,
		SentAt:         at,
	}
	if err := e.store.AddMessage(msg); err != nil {
		// The message log is advisory; never block flow progression on it.
		slog.Warn("Engine message log write failed", "lead_id", leadID, "error", err)
	}
}

func (e *Engine) lastInbound(conversationID, leadID string) (string, bool) {
	msg, err := e.store.LastInboundMessage(conversationID, leadID)
	if err != nil || msg == nil {
		return "", false
	}
	return msg.Content, true
}

func (e *Engine) touch(lead *models.Lead, conversationID string, now time.Time) {
	lead.LastInteraction = now
	if err := e.store.UpdateLead(lead); err != nil {
		slog.Warn("Engine lead touch failed", "lead_id", lead.ID, "error", err)
	}
	if conversationID != "" {
		if err := e.store.TouchConversation(conversationID, now); err != nil {
			slog.Warn("Engine conversation touch failed", "conversation_id", conversationID, "error", err)
		}
	}
}

// storeEntities is the store-backed EntitySource used during evaluation.
// Values load lazily, once per inbound message; a store fault degrades to
// an empty value set.
type storeEntities struct {
	store    store.Store
	teamID   int64
	senderID string

	loaded bool
	values map[int64]models.EntityValue
}

func newStoreEntities(s store.Store, teamID int64, senderID string) *storeEntities {
	return &storeEntities{store: s, teamID: teamID, senderID: senderID}
}

func (s *storeEntities) load() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.values = make(map[int64]models.EntityValue)
	values, err := s.store.ListEntityValues(s.teamID, s.senderID)
	if err != nil {
		slog.Warn("Entity value load failed", "sender_id", s.senderID, "error", err)
		return
	}
	for i := range values {
		s.values[values[i].EntityID] = values[i]
	}
}

func (s *storeEntities) Resolve(entityID int64) (string, bool) {
	s.load()
	value, ok := s.values[entityID]
	if !ok {
		return "", false
	}
	return value.Resolve(), true
}

func (s *storeEntities) CollectedIDs() map[int64]struct{} {
	s.load()
	ids := make(map[int64]struct{}, len(s.values))
	for id := range s.values {
		ids[id] = struct{}{}
	}
	return ids
}

func nextNodeRef(n *models.Node, snap *FlowSnapshot) *models.NextNodeRef {
	ref := &models.NextNodeRef{
		ID:          n.ID,
		Title:       n.Title,
		Type:        n.Type,
		CollectMode: n.CollectMode,
	}
	if ref.CollectMode == "" {
		ref.CollectMode = models.CollectModeNone
	}
	if n.CollectEntityID != 0 {
		if entity := snap.Entity(n.CollectEntityID); entity != nil {
			ref.CollectEntity = &entity.Slug
		}
	}
	return ref
}

func sessionKey(senderID string, flowID, teamID int64) string {
	return fmt.Sprintf("%s|%d|%d", senderID, flowID, teamID)
}
