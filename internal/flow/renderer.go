package flow

import (
	"sort"
	"strings"

	"github.com/convoflow/convoflow/internal/models"
)

// RenderNode substitutes template variables into the node's message
// template. Both {slug} and {{slug}} placeholder forms are replaced;
// unmatched placeholders are left verbatim. A node without a template
// renders as "Node: <title>".
func RenderNode(node *models.Node, vars map[string]string) string {
	if node.MessageTemplate == "" {
		return "Node: " + node.Title
	}
	return substitute(node.MessageTemplate, vars)
}

// substitute replaces every {{key}} first and {key} second, across all
// variables, so a double-brace placeholder is never partially consumed by
// its single-brace form.
func substitute(template string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := template
	for _, key := range keys {
		result = strings.ReplaceAll(result, "{{"+key+"}}", vars[key])
	}
	for _, key := range keys {
		result = strings.ReplaceAll(result, "{"+key+"}", vars[key])
	}
	return result
}

// templateVars builds the variable map for rendering: lead attributes,
// overlaid with every collected entity value keyed by slug, then the
// session context cache for slugs not already present. Stored entity
// values always win over the context cache.
func templateVars(lead *models.Lead, snap *FlowSnapshot, values []models.EntityValue, session *models.ConversationSession) map[string]string {
	vars := make(map[string]string)
	if lead != nil {
		// Lead keys are always present so templates render deterministically;
		// a nameless lead shows up as "Usuario".
		vars["name"] = lead.Name
		if vars["name"] == "" {
			vars["name"] = "Usuario"
		}
		vars["phone"] = lead.Phone
		vars["email"] = lead.Email
	}

	for i := range values {
		entity := snap.Entity(values[i].EntityID)
		if entity == nil {
			continue
		}
		vars[entity.Slug] = values[i].Resolve()
	}

	if session != nil {
		for slug, value := range session.CollectedEntities() {
			if _, ok := vars[slug]; !ok {
				vars[slug] = value
			}
		}
	}
	return vars
}
