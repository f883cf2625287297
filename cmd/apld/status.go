package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project's apply pipeline state",
	Long: `Show whether an apply is running for the project, its progress, and
the last error if the previous apply failed.

Examples:
  apld status 2f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

// ApplicationState matches internal/apply ApplicationState
type ApplicationState struct {
	ProjectID    string    `json:"project_id"`
	IsApplying   bool      `json:"is_applying"`
	Phase        string    `json:"phase"`
	Progress     Progress  `json:"progress"`
	PendingPaths []string  `json:"pending_paths,omitempty"`
	TotalFiles   int       `json:"total_files"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress matches internal/apply Progress
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	var state ApplicationState
	if err := getJSON("/api/v1/projects/"+args[0]+"/state", &state); err != nil {
		return err
	}

	applying := "no"
	if state.IsApplying {
		applying = "yes"
	}
	fmt.Printf("Project: %s\n", state.ProjectID)
	fmt.Printf("Applying: %s\n", applying)
	fmt.Printf("Phase: %s\n", state.Phase)
	fmt.Printf("Progress: %d%% %s\n", state.Progress.Percent, state.Progress.Message)
	if len(state.PendingPaths) > 0 {
		fmt.Printf("Pending: %d of %d files\n", len(state.PendingPaths), state.TotalFiles)
	}
	if state.LastError != "" {
		fmt.Printf("Last Error: %s\n", state.LastError)
	}
	return nil
}
