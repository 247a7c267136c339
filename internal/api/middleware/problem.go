package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// problemDetail is the RFC 7807 body middleware emits when it terminates a
// request itself. Handler-level errors use the richer api.ProblemDetail.
type problemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeProblem writes an RFC 7807 error response from within middleware.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, correlationID string) error {
	problem := problemDetail{
		Type:          fmt.Sprintf("https://eventflow.io/problems/%d", status),
		Title:         title,
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		return fmt.Errorf("failed to encode problem response: %w", err)
	}

	return nil
}
