package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Inspect and claim pending deployment handoffs",
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments waiting for a worker",
	RunE:  runDeploymentsList,
}

var deploymentsClaimCmd = &cobra.Command{
	Use:   "claim <project-id>",
	Short: "Claim a project's pending deployment",
	Long: `Claim the project's pending deployment handoff. Claiming removes it
from the queue; the caller is then responsible for executing the deploy.

Examples:
  apld deployments claim 2f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploymentsClaim,
}

func init() {
	deploymentsCmd.AddCommand(deploymentsListCmd)
	deploymentsCmd.AddCommand(deploymentsClaimCmd)
}

// Handoff matches internal/deploy Handoff
type Handoff struct {
	CorrelationID string    `json:"correlation_id"`
	ProjectID     string    `json:"project_id"`
	ProjectName   string    `json:"project_name"`
	Paths         []string  `json:"paths"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func runDeploymentsList(cmd *cobra.Command, args []string) error {
	var pending []Handoff
	if err := getJSON("/api/v1/deployments", &pending); err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Println("No pending deployments")
		return nil
	}
	for _, h := range pending {
		fmt.Printf("%s  %s  %d files  submitted %s\n",
			h.ProjectID, h.ProjectName, len(h.Paths), h.SubmittedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runDeploymentsClaim(cmd *cobra.Command, args []string) error {
	var h Handoff
	if err := postJSON("/api/v1/deployments/"+args[0]+"/claim", nil, &h); err != nil {
		return err
	}

	fmt.Printf("Claimed deployment for %s\n", h.ProjectName)
	if h.CorrelationID != "" {
		fmt.Printf("Correlation ID: %s\n", h.CorrelationID)
	}
	fmt.Printf("Files: %s\n", strings.Join(h.Paths, ", "))
	return nil
}
