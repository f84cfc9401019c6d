// Package models: API payload types shared by the webhook and authoring endpoints.
package models

import "encoding/json"

// Webhook processing statuses.
const (
	// WebhookStatusSuccess indicates the session advanced to a next node.
	WebhookStatusSuccess = "success"
	// WebhookStatusFlowCompleted indicates the flow terminated on this message.
	WebhookStatusFlowCompleted = "flow_completed"
)

// WebhookRequest is the inbound message payload posted to
// /webhook/{team_slug}/{flow_slug}/.
type WebhookRequest struct {
	SenderID     string         `json:"sender_id"`
	Message      string         `json:"message"`
	Platform     string         `json:"platform"`
	SenderName   string         `json:"sender_name,omitempty"`
	SenderPhone  string         `json:"sender_phone,omitempty"`
	SenderEmail  string         `json:"sender_email,omitempty"`
	ThreadID     string         `json:"thread_id,omitempty"`
	PlatformData map[string]any `json:"platform_data,omitempty"`
}

// Validate checks the request for required fields.
func (r *WebhookRequest) Validate() error {
	if r.SenderID == "" {
		return ErrSenderIDRequired
	}
	return nil
}

// NodeRef is the compact node block in webhook responses.
type NodeRef struct {
	ID    int64    `json:"id"`
	Title string   `json:"title"`
	Type  NodeType `json:"type"`
}

// NextNodeRef extends NodeRef with the entity-collection directive of the
// node the session moved to.
type NextNodeRef struct {
	ID            int64       `json:"id"`
	Title         string      `json:"title"`
	Type          NodeType    `json:"type"`
	CollectEntity *string     `json:"collect_entity"`
	CollectMode   CollectMode `json:"collect_mode"`
}

// WebhookResponse is the webhook success payload.
type WebhookResponse struct {
	Status          string         `json:"status"`
	SessionID       string         `json:"session_id"`
	LeadID          string         `json:"lead_id"`
	ConversationID  string         `json:"conversation_id"`
	CurrentNode     *NodeRef       `json:"current_node"`
	CollectedEntity *string        `json:"collected_entity"`
	NextNode        *NextNodeRef   `json:"next_node"`
	Response        string         `json:"response"`
	FlowCompleted   bool           `json:"flow_completed"`
	Context         map[string]any `json:"context,omitempty"`
}

// ProcessRequest is the payload of the flow-id-addressed processor endpoint.
type ProcessRequest struct {
	FlowID   int64   `json:"flow_id"`
	SenderID string  `json:"sender_id"`
	Message  *string `json:"message"`
}

// ProcessResponse is the simplified processor payload.
type ProcessResponse struct {
	Node            int64   `json:"node"`
	CollectedEntity *string `json:"collected_entity"`
	NextNode        *int64  `json:"next_node"`
	Response        string  `json:"response"`
}

// FlowExport is the flow definition returned by GET on the webhook URL:
// the flow with its nodes, each node carrying its outgoing paths.
type FlowExport struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Nodes []NodeExport `json:"nodes"`
}

// NodeExport is one node in a FlowExport.
type NodeExport struct {
	ID              int64        `json:"id"`
	Type            NodeType     `json:"type"`
	MessageTemplate string       `json:"message_template"`
	CollectEntity   *string      `json:"collect_entity"`
	Paths           []PathExport `json:"paths"`
	DefaultPathID   *int64       `json:"default_path_id"`
}

// PathExport is one outgoing path in a NodeExport.
type PathExport struct {
	ID           int64           `json:"id"`
	Condition    json.RawMessage `json:"condition"`
	TargetNodeID *int64          `json:"target_node_id"`
}

// APIStatus represents the status of an authoring API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard envelope for authoring endpoints.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
