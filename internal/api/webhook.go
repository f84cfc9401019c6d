package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/convoflow/convoflow/internal/models"
)

// webhookHandler processes one inbound chat message against the flow
// addressed by team and flow slug.
//
// Error shape is the bare {"error": message} object: 404 for an unknown
// team or flow, 400 for malformed input, 500 for anything else.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	team, f, ok := s.resolveWebhookTarget(w, r)
	if !ok {
		return
	}
	// A deactivated flow no longer accepts messages. The GET export below
	// stays available so authoring tools can still inspect it.
	if !f.IsActive {
		writeError(w, http.StatusNotFound, models.ErrFlowNotFound.Error())
		return
	}

	var req models.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrInvalidJSON.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.engine.ProcessWebhook(team, f, &req)
	if err != nil {
		slog.Error("Server.webhookHandler: processing failed",
			"team", team.Slug, "flow", f.Slug, "sender_id", req.SenderID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// flowExportHandler answers GET on the webhook URL with the full flow
// definition: the flow, its nodes and each node's outgoing paths.
func (s *Server) flowExportHandler(w http.ResponseWriter, r *http.Request) {
	team, f, ok := s.resolveWebhookTarget(w, r)
	if !ok {
		return
	}
	export, err := s.buildFlowExport(team, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, export)
}

func (s *Server) buildFlowExport(team *models.Team, f *models.Flow) (*models.FlowExport, error) {
	nodes, err := s.store.ListNodes(f.ID)
	if err != nil {
		return nil, err
	}
	paths, err := s.store.ListFlowPaths(f.ID)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.ListEntities(team.ID)
	if err != nil {
		return nil, err
	}

	slugByEntity := make(map[int64]string, len(entities))
	for _, e := range entities {
		slugByEntity[e.ID] = e.Slug
	}
	pathsByNode := make(map[int64][]models.PathExport)
	for _, p := range paths {
		pe := models.PathExport{ID: p.ID, Condition: json.RawMessage("null")}
		if p.HasCondition() {
			pe.Condition = p.Condition
		}
		if p.TargetNodeID != 0 {
			target := p.TargetNodeID
			pe.TargetNodeID = &target
		}
		pathsByNode[p.NodeID] = append(pathsByNode[p.NodeID], pe)
	}

	export := &models.FlowExport{ID: f.ID, Name: f.Name, Nodes: make([]models.NodeExport, 0, len(nodes))}
	for _, n := range nodes {
		ne := models.NodeExport{
			ID:              n.ID,
			Type:            n.Type,
			MessageTemplate: n.MessageTemplate,
			Paths:           pathsByNode[n.ID],
		}
		if n.CollectEntityID != 0 {
			if slug, ok := slugByEntity[n.CollectEntityID]; ok {
				ne.CollectEntity = &slug
			}
		}
		if n.DefaultPathID != 0 {
			id := n.DefaultPathID
			ne.DefaultPathID = &id
		}
		export.Nodes = append(export.Nodes, ne)
	}
	return export, nil
}

func (s *Server) resolveWebhookTarget(w http.ResponseWriter, r *http.Request) (*models.Team, *models.Flow, bool) {
	teamSlug := chi.URLParam(r, "teamSlug")
	flowSlug := chi.URLParam(r, "flowSlug")

	team, err := s.store.GetTeamBySlug(teamSlug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if team == nil {
		writeError(w, http.StatusNotFound, models.ErrTeamNotFound.Error())
		return nil, nil, false
	}

	f, err := s.store.GetFlowBySlug(team.ID, flowSlug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if f == nil {
		writeError(w, http.StatusNotFound, models.ErrFlowNotFound.Error())
		return nil, nil, false
	}
	return team, f, true
}

// processHandler runs one message against a flow addressed by ID. It skips
// lead and conversation bookkeeping and returns the compact node/response
// payload.
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrInvalidJSON.Error())
		return
	}
	if req.SenderID == "" {
		writeError(w, http.StatusBadRequest, models.ErrSenderIDRequired.Error())
		return
	}

	resp, err := s.engine.ProcessDirect(&req)
	if err != nil {
		if errors.Is(err, models.ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, models.ErrEntityTeamMismatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Server.processHandler: processing failed",
			"flow_id", req.FlowID, "sender_id", req.SenderID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// webhookInfoByIDHandler exports the flow's webhook coordinates for
// authoring tools.
func (s *Server) webhookInfoByIDHandler(w http.ResponseWriter, r *http.Request) {
	flowID, err := strconv.ParseInt(chi.URLParam(r, "flowID"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid flow id"))
		return
	}
	f, err := s.store.GetFlow(flowID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrFlowNotFound.Error()))
		return
	}
	team, err := s.store.GetTeam(f.TeamID)
	if err != nil || team == nil {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(models.ErrTeamNotFound.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(webhookInfo(team, f)))
}

func webhookInfo(team *models.Team, f *models.Flow) map[string]any {
	return map[string]any{
		"flow_id":       f.ID,
		"flow_slug":     f.Slug,
		"team_slug":     team.Slug,
		"webhook_path":  f.WebhookPath(team.Slug),
		"webhook_token": f.WebhookToken,
		"is_active":     f.IsActive,
		"version":       f.Version,
	}
}
