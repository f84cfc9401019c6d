package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/convoflow/convoflow/internal/models"
)

// errorFallback is marshaled once at startup so that a payload which fails
// to encode can still be answered with valid JSON.
var errorFallback = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("api: cannot marshal fallback response: %v", err))
	}
	return data
}

// writeJSONResponse encodes the payload before touching headers, so an
// encoding fault downgrades to the fallback body and a 500 instead of a
// truncated response.
func writeJSONResponse(w http.ResponseWriter, statusCode int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeJSONResponse: marshal failed", "status", statusCode, "error", err)
		body = errorFallback
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: write failed", "error", err)
	}
}

// writeError answers with the bare {"error": message} object the webhook
// endpoints use for failures.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}
