package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/apply"
	"github.com/fyrsmithlabs/applyd/internal/artifact"
	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

// handleApply runs the apply pipeline for a batch of generated files.
//
// The pipeline keeps running to a terminal outcome even if the client
// disconnects; a dropped connection must not leave the project half
// persisted.
func (s *Server) handleApply(c echo.Context) error {
	projectID := c.Param("id")

	var req ApplyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid apply request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	batch := artifact.NewBatch()
	if len(req.Files) > 0 {
		if err := json.Unmarshal(req.Files, batch); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
	}

	opts := apply.Options{
		Mode:       apply.Mode(req.Mode),
		WorkflowID: req.WorkflowID,
	}

	ctx := context.WithoutCancel(c.Request().Context())
	if err := s.coord.Apply(ctx, projectID, batch, opts); err != nil {
		return c.JSON(statusForApplyError(err), ErrorResponse{
			Error:  err.Error(),
			Reason: string(apply.ReasonOf(err)),
		})
	}

	mode := opts.Mode
	if mode == "" {
		mode = apply.ModeManual
	}
	return c.JSON(http.StatusOK, ApplyResponse{
		Applied: batch.Len(),
		Mode:    string(mode),
		Message: s.coord.State(projectID).Progress.Message,
	})
}

// handleApplySilent updates project state without progress reporting,
// persistence, or deployment.
func (s *Server) handleApplySilent(c echo.Context) error {
	projectID := c.Param("id")

	var req ApplyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid apply request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	batch := artifact.NewBatch()
	if len(req.Files) > 0 {
		if err := json.Unmarshal(req.Files, batch); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
	}

	if err := s.coord.ApplySilently(c.Request().Context(), projectID, batch); err != nil {
		return c.JSON(statusForApplyError(err), ErrorResponse{
			Error:  err.Error(),
			Reason: string(apply.ReasonOf(err)),
		})
	}
	return c.JSON(http.StatusOK, SilentApplyResponse{Applied: batch.Len()})
}

// statusForApplyError maps pipeline failures to HTTP statuses. Admission
// sentinels get their own codes; everything else maps off the recorded
// failure reason.
func statusForApplyError(err error) int {
	switch {
	case errors.Is(err, apply.ErrNoProject):
		return http.StatusNotFound
	case errors.Is(err, apply.ErrApplyInProgress):
		return http.StatusConflict
	case errors.Is(err, apply.ErrEmptyBatch):
		return http.StatusUnprocessableEntity
	}

	switch apply.ReasonOf(err) {
	case tracker.ReasonValidationFailed:
		return http.StatusUnprocessableEntity
	case tracker.ReasonStabilityFailed:
		return http.StatusConflict
	case tracker.ReasonBackendUnavailable, tracker.ReasonSaveFailed:
		return http.StatusBadGateway
	case tracker.ReasonNone:
		// Admission problems like an unknown mode or a missing
		// workflow id never arm the pipeline.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
