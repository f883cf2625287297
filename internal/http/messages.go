package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/conversation"
)

const defaultMessageLimit = 50

// handleListMessages returns the project's recent chat history, newest
// first. The optional limit query parameter caps the page size.
func (s *Server) handleListMessages(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.projects.Get(id); !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	if s.history == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history store unavailable"})
	}

	limit := defaultMessageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	msgs, err := s.history.Recent(c.Request().Context(), id, limit)
	if err != nil {
		s.logger.Error("listing messages failed", zap.String("project_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "listing messages failed"})
	}
	return c.JSON(http.StatusOK, MessagesResponse{ProjectID: id, Messages: msgs})
}

// handleAppendMessage records a chat message against the project.
func (s *Server) handleAppendMessage(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.projects.Get(id); !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	if s.history == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history store unavailable"})
	}

	var req AppendMessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Role.Valid() {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "role must be user, assistant, or system"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
	}

	msg := conversation.Message{
		ProjectID:     id,
		Role:          req.Role,
		Content:       req.Content,
		DeclaredPaths: req.DeclaredPaths,
	}
	if err := s.history.Append(c.Request().Context(), &msg); err != nil {
		s.logger.Error("appending message failed", zap.String("project_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "appending message failed"})
	}
	return c.JSON(http.StatusCreated, msg)
}
