package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handlePendingDeployments lists handoffs waiting for a deployment worker.
func (s *Server) handlePendingDeployments(c echo.Context) error {
	return c.JSON(http.StatusOK, s.coord.Deploys().Pending())
}

// handleClaimDeployment hands the project's pending deployment to the
// caller. Claiming removes the handoff: a second claim returns 404.
func (s *Server) handleClaimDeployment(c echo.Context) error {
	projectID := c.Param("project_id")
	h, ok := s.coord.Deploys().Claim(projectID)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no pending deployment"})
	}
	s.logger.Info("deployment claimed",
		zap.String("project_id", projectID),
		zap.String("correlation_id", h.CorrelationID))
	return c.JSON(http.StatusOK, h)
}
