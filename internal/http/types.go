package http

import (
	"encoding/json"

	"github.com/fyrsmithlabs/applyd/internal/conversation"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Store   string `json:"store"`
}

// ErrorResponse is the body for failed requests.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// CreateProjectRequest is the request body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ApplyRequest is the request body for POST /api/v1/projects/:id/apply.
//
// Files is a JSON object mapping path to content; null content marks a
// file the generator announced but never produced. Mode is manual when
// omitted.
type ApplyRequest struct {
	Files      json.RawMessage `json:"files"`
	Mode       string          `json:"mode"`
	WorkflowID string          `json:"workflow_id"`
}

// ApplyResponse is the response body for a successful apply.
type ApplyResponse struct {
	Applied int    `json:"applied"`
	Mode    string `json:"mode"`
	Message string `json:"message"`
}

// SilentApplyResponse is the response body for a successful silent apply.
type SilentApplyResponse struct {
	Applied int `json:"applied"`
}

// ProjectFilesResponse is the response body for GET /api/v1/projects/:id/files.
type ProjectFilesResponse struct {
	ProjectID string            `json:"project_id"`
	Count     int               `json:"count"`
	Files     map[string]string `json:"files"`
}

// AppendMessageRequest is the request body for POST /api/v1/projects/:id/messages.
type AppendMessageRequest struct {
	Role          conversation.Role `json:"role"`
	Content       string            `json:"content"`
	DeclaredPaths []string          `json:"declared_paths"`
}

// MessagesResponse is the response body for GET /api/v1/projects/:id/messages.
type MessagesResponse struct {
	ProjectID string                 `json:"project_id"`
	Messages  []conversation.Message `json:"messages"`
}
