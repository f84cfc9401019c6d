package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/convoflow/convoflow/internal/models"
	"github.com/convoflow/convoflow/internal/util"
)

// Authoring endpoints manage the team-scoped flow definitions. They all use
// the {status, message, result} envelope rather than the webhook's bare
// error shape.

func (s *Server) createTeamHandler(w http.ResponseWriter, r *http.Request) {
	var team models.Team
	if err := json.NewDecoder(r.Body).Decode(&team); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	if team.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("team name cannot be empty"))
		return
	}
	if team.Slug == "" {
		team.Slug = util.Slugify(team.Name)
	}
	if err := s.store.CreateTeam(&team); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(team))
}

func (s *Server) createFlowHandler(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromURL(w, r)
	if !ok {
		return
	}

	var f models.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	if f.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyFlowName.Error()))
		return
	}

	slug, err := s.deriveFlowSlug(f.Name)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}

	f.TeamID = team.ID
	f.Slug = slug
	f.WebhookToken = uuid.NewString()
	f.IsActive = true
	if f.Version == 0 {
		f.Version = 1
	}
	f.CreatedAt = time.Now()

	if err := s.store.CreateFlow(&f); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(f))
}

// deriveFlowSlug slugifies the name and disambiguates globally with a
// numeric suffix.
func (s *Server) deriveFlowSlug(name string) (string, error) {
	base := util.Slugify(name)
	slug := base
	for i := 1; ; i++ {
		exists, err := s.store.FlowSlugExists(slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromURL(w, r)
	if !ok {
		return
	}
	flows, err := s.store.ListFlows(team.ID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowFromURL(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(f))
}

func (s *Server) createNodeHandler(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowFromURL(w, r)
	if !ok {
		return
	}

	var n models.Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	n.FlowID = f.ID
	if n.CollectMode == "" {
		n.CollectMode = models.CollectModeNone
	}
	if err := n.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.validateCollectEntity(&n, f); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.CreateNode(&n); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(n))
}

func (s *Server) listNodesHandler(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowFromURL(w, r)
	if !ok {
		return
	}
	nodes, err := s.store.ListNodes(f.ID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nodes))
}

func (s *Server) updateNodeHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.ParseInt(chi.URLParam(r, "nodeID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid node id"))
		return
	}
	existing, err := s.store.GetNode(nodeID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	if existing == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("node not found"))
		return
	}

	var n models.Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	n.ID = existing.ID
	n.FlowID = existing.FlowID
	if n.CollectMode == "" {
		n.CollectMode = models.CollectModeNone
	}
	if err := n.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	f, err := s.store.GetFlow(n.FlowID)
	if err != nil || f == nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(models.ErrFlowNotFound.Error()))
		return
	}
	if err := s.validateCollectEntity(&n, f); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.store.UpdateNode(&n); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(n))
}

// validateCollectEntity ensures a node's collect entity belongs to the
// flow's team.
func (s *Server) validateCollectEntity(n *models.Node, f *models.Flow) error {
	if n.CollectEntityID == 0 {
		return nil
	}
	entity, err := s.store.GetEntity(n.CollectEntityID)
	if err != nil {
		return err
	}
	if entity == nil || entity.TeamID != f.TeamID {
		return models.ErrEntityTeamMismatch
	}
	return nil
}

func (s *Server) createPathHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.ParseInt(chi.URLParam(r, "nodeID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid node id"))
		return
	}
	node, err := s.store.GetNode(nodeID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	if node == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("node not found"))
		return
	}

	// Paths are live unless the author disables them explicitly; decoding
	// into a pre-set struct keeps an omitted "enabled" true.
	p := models.Path{Enabled: true}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	p.NodeID = node.ID
	if p.HasCondition() {
		if _, err := models.ParseCondition(p.Condition); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid condition expression"))
			return
		}
	}
	if err := s.store.CreatePath(&p); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(p))
}

func (s *Server) listPathsHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.ParseInt(chi.URLParam(r, "nodeID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid node id"))
		return
	}
	paths, err := s.store.ListPaths(nodeID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(paths))
}

func (s *Server) createEntityHandler(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromURL(w, r)
	if !ok {
		return
	}

	var e models.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidJSON.Error()))
		return
	}
	if e.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("entity name cannot be empty"))
		return
	}
	if e.Type == "" {
		e.Type = models.EntityTypeText
	}
	if err := e.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slug, err := s.deriveEntitySlug(team.ID, e.Name)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	e.TeamID = team.ID
	e.Slug = slug
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now

	if err := s.store.CreateEntity(&e); err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(e))
}

// deriveEntitySlug slugifies the name and appends a random suffix while the
// slug collides within the team.
func (s *Server) deriveEntitySlug(teamID int64, name string) (string, error) {
	slug := util.Slugify(name)
	for {
		exists, err := s.store.EntitySlugExists(teamID, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = util.Slugify(name) + "-" + util.RandomSuffix(4)
	}
}

func (s *Server) listEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	team, ok := s.teamFromURL(w, r)
	if !ok {
		return
	}
	entities, err := s.store.ListEntities(team.ID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entities))
}

func (s *Server) teamFromURL(w http.ResponseWriter, r *http.Request) (*models.Team, bool) {
	teamID, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid team id"))
		return nil, false
	}
	team, err := s.store.GetTeam(teamID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return nil, false
	}
	if team == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrTeamNotFound.Error()))
		return nil, false
	}
	return team, true
}

func (s *Server) flowFromURL(w http.ResponseWriter, r *http.Request) (*models.Flow, bool) {
	flowID, err := strconv.ParseInt(chi.URLParam(r, "flowID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid flow id"))
		return nil, false
	}
	f, err := s.store.GetFlow(flowID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return nil, false
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrFlowNotFound.Error()))
		return nil, false
	}
	return f, true
}
