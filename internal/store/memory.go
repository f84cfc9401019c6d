// Package store: in-memory backend.
//
// InMemoryStore keeps everything in maps behind one mutex. It backs tests
// and local development; production deployments use SQLite or Postgres.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/convoflow/convoflow/internal/models"
)

type entityValueKey struct {
	entityID int64
	teamID   int64
	senderID string
}

type sessionKey struct {
	senderID string
	flowID   int64
	teamID   int64
}

type leadKey struct {
	platform   string
	platformID string
}

// InMemoryStore is a mutex-guarded map-backed Store.
type InMemoryStore struct {
	mu sync.Mutex

	nextID int64

	teams         map[int64]models.Team
	flows         map[int64]models.Flow
	nodes         map[int64]models.Node
	paths         map[int64]models.Path
	pathOrder     []int64 // insertion order, the tie-break for equal sort orders
	entities      map[int64]models.Entity
	entityValues  map[entityValueKey]models.EntityValue
	sessions      map[sessionKey]models.ConversationSession
	leads         map[leadKey]models.Lead
	conversations map[string]models.Conversation
	messages      []models.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		teams:         make(map[int64]models.Team),
		flows:         make(map[int64]models.Flow),
		nodes:         make(map[int64]models.Node),
		paths:         make(map[int64]models.Path),
		entities:      make(map[int64]models.Entity),
		entityValues:  make(map[entityValueKey]models.EntityValue),
		sessions:      make(map[sessionKey]models.ConversationSession),
		leads:         make(map[leadKey]models.Lead),
		conversations: make(map[string]models.Conversation),
	}
}

func (s *InMemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) CreateTeam(t *models.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.allocID()
	}
	s.teams[t.ID] = *t
	return nil
}

func (s *InMemoryStore) GetTeam(id int64) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.teams[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetTeamBySlug(slug string) (*models.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.teams {
		if t.Slug == slug {
			team := t
			return &team, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateFlow(f *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		f.ID = s.allocID()
	}
	s.flows[f.ID] = *f
	return nil
}

func (s *InMemoryStore) GetFlow(id int64) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetFlowBySlug(teamID int64, slug string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.TeamID == teamID && f.Slug == slug {
			flow := f
			return &flow, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateFlow(f *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = *f
	return nil
}

func (s *InMemoryStore) ListFlows(teamID int64) ([]models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flows []models.Flow
	for _, f := range s.flows {
		if f.TeamID == teamID {
			flows = append(flows, f)
		}
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows, nil
}

func (s *InMemoryStore) FlowSlugExists(slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.flows {
		if f.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) CreateNode(n *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == 0 {
		n.ID = s.allocID()
	}
	s.nodes[n.ID] = *n
	return nil
}

func (s *InMemoryStore) GetNode(id int64) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return &n, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListNodes(flowID int64) ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []models.Node
	for _, n := range s.nodes {
		if n.FlowID == flowID {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *InMemoryStore) UpdateNode(n *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = *n
	return nil
}

func (s *InMemoryStore) CreatePath(p *models.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.allocID()
	}
	s.paths[p.ID] = *p
	s.pathOrder = append(s.pathOrder, p.ID)
	return nil
}

func (s *InMemoryStore) ListPaths(nodeID int64) ([]models.Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []models.Path
	for _, id := range s.pathOrder {
		if p, ok := s.paths[id]; ok && p.NodeID == nodeID {
			paths = append(paths, p)
		}
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Order < paths[j].Order })
	return paths, nil
}

func (s *InMemoryStore) ListFlowPaths(flowID int64) ([]models.Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []models.Path
	for _, id := range s.pathOrder {
		p, ok := s.paths[id]
		if !ok {
			continue
		}
		if n, ok := s.nodes[p.NodeID]; ok && n.FlowID == flowID {
			paths = append(paths, p)
		}
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Order < paths[j].Order })
	return paths, nil
}

func (s *InMemoryStore) CreateEntity(e *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.allocID()
	}
	s.entities[e.ID] = *e
	return nil
}

func (s *InMemoryStore) GetEntity(id int64) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entities[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListEntities(teamID int64) ([]models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entities []models.Entity
	for _, e := range s.entities {
		if e.TeamID == teamID {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

func (s *InMemoryStore) EntitySlugExists(teamID int64, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.TeamID == teamID && strings.EqualFold(e.Slug, slug) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) UpsertEntityValue(v models.EntityValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityValueKey{v.EntityID, v.TeamID, v.SenderID}
	s.entityValues[key] = v
	return nil
}

func (s *InMemoryStore) GetEntityValue(entityID, teamID int64, senderID string) (*models.EntityValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.entityValues[entityValueKey{entityID, teamID, senderID}]; ok {
		return &v, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListEntityValues(teamID int64, senderID string) ([]models.EntityValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var values []models.EntityValue
	for key, v := range s.entityValues {
		if key.teamID == teamID && key.senderID == senderID {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i].EntityID < values[j].EntityID })
	return values, nil
}

func (s *InMemoryStore) GetSession(senderID string, flowID, teamID int64) (*models.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionKey{senderID, flowID, teamID}]; ok {
		return &sess, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveSession(sess *models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey{sess.SenderID, sess.FlowID, sess.TeamID}] = *sess
	return nil
}

func (s *InMemoryStore) FinishStaleSessions(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	finished := 0
	for key, sess := range s.sessions {
		if sess.Status == models.SessionStatusActive && sess.UpdatedAt.Before(olderThan) {
			sess.Finish(now)
			s.sessions[key] = sess
			finished++
		}
	}
	return finished, nil
}

func (s *InMemoryStore) GetLeadByPlatform(platform, platformID string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[leadKey{platform, platformID}]; ok {
		return &l, nil
	}
	return nil, nil
}

func (s *InMemoryStore) CreateLead(l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[leadKey{l.Platform, l.PlatformID}] = *l
	return nil
}

func (s *InMemoryStore) UpdateLead(l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[leadKey{l.Platform, l.PlatformID}] = *l
	return nil
}

func (s *InMemoryStore) CreateConversation(c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *c
	return nil
}

func (s *InMemoryStore) TouchConversation(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.UpdatedAt = at
		s.conversations[id] = c
	}
	return nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) LastInboundMessage(conversationID, leadID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.IsResponse {
			continue
		}
		if conversationID != "" {
			if m.ConversationID == conversationID {
				return &m, nil
			}
			continue
		}
		if m.LeadID == leadID {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
