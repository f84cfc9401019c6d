package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/convoflow/convoflow/internal/models"
)

func TestRenderNodeBothBraceForms(t *testing.T) {
	node := &models.Node{
		Title:           "Saludo",
		MessageTemplate: "Hola {nombre}, tu código es {{codigo}}",
	}
	vars := map[string]string{"nombre": "Ana", "codigo": "123"}
	assert.Equal(t, "Hola Ana, tu código es 123", RenderNode(node, vars))
}

func TestRenderNodeUnmatchedPlaceholdersStay(t *testing.T) {
	node := &models.Node{Title: "X", MessageTemplate: "Hola {nombre}, falta {otro}"}
	assert.Equal(t, "Hola Ana, falta {otro}", RenderNode(node, map[string]string{"nombre": "Ana"}))
}

func TestRenderNodeWithoutTemplate(t *testing.T) {
	node := &models.Node{Title: "Bienvenida"}
	assert.Equal(t, "Node: Bienvenida", RenderNode(node, map[string]string{"nombre": "Ana"}))
}

func TestTemplateVarsResolutionOrder(t *testing.T) {
	entities := []models.Entity{
		{ID: 1, Slug: "nombre"},
		{ID: 2, Slug: "plan"},
	}
	snap := NewFlowSnapshot(models.Flow{ID: 1}, nil, nil, entities)

	values := []models.EntityValue{
		{EntityID: 1, Raw: " Ana ", Processed: "Ana", Timestamp: time.Now()},
	}
	session := &models.ConversationSession{}
	session.SetCollectedEntity("nombre", "cached-stale")
	session.SetCollectedEntity("plan", "premium")

	lead := &models.Lead{Name: "Ana García", Phone: "+54911"}
	vars := templateVars(lead, snap, values, session)

	// Stored values win over the context cache; the cache fills slugs with
	// no stored value.
	assert.Equal(t, "Ana", vars["nombre"])
	assert.Equal(t, "premium", vars["plan"])
	assert.Equal(t, "Ana García", vars["name"])
	assert.Equal(t, "+54911", vars["phone"])
	assert.Equal(t, "", vars["email"])
}

func TestTemplateVarsLeadDefaults(t *testing.T) {
	snap := NewFlowSnapshot(models.Flow{ID: 1}, nil, nil, nil)

	vars := templateVars(&models.Lead{}, snap, nil, nil)
	assert.Equal(t, "Usuario", vars["name"])
	assert.Equal(t, "", vars["phone"])
	assert.Equal(t, "", vars["email"])

	// Without a lead no lead keys are injected at all.
	assert.Empty(t, templateVars(nil, snap, nil, nil))
}
