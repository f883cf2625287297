package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/project"
)

// handleCreateProject registers a project.
func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid project request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	proj, err := s.projects.Register(&project.Project{Name: req.Name, Path: req.Path})
	if err != nil {
		if errors.Is(err, project.ErrProjectExists) {
			return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	s.logger.Info("project registered",
		zap.String("project_id", proj.ID),
		zap.String("name", proj.Name))
	return c.JSON(http.StatusCreated, proj)
}

// handleListProjects lists all registered projects.
func (s *Server) handleListProjects(c echo.Context) error {
	return c.JSON(http.StatusOK, s.projects.List())
}

// handleGetProject returns one project.
func (s *Server) handleGetProject(c echo.Context) error {
	proj, ok := s.projects.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	return c.JSON(http.StatusOK, proj)
}

// handleDeleteProject removes a project registration. The project's
// in-memory files and history are left alone; only the registration goes.
func (s *Server) handleDeleteProject(c echo.Context) error {
	if !s.projects.Remove(c.Param("id")) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// handleApplicationState returns the project's apply pipeline state.
func (s *Server) handleApplicationState(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.projects.Get(id); !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	return c.JSON(http.StatusOK, s.coord.State(id))
}

// handleProjectFiles returns the project's current file view.
func (s *Server) handleProjectFiles(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.projects.Get(id); !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	files := s.files.Files(id)
	return c.JSON(http.StatusOK, ProjectFilesResponse{
		ProjectID: id,
		Count:     len(files),
		Files:     files,
	})
}
