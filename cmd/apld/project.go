package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	projectName string
	projectPath string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

var projectRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a project with the applyd server",
	Long: `Register a project so batches can be applied into it.

Examples:
  # Register the current checkout
  apld project register --name my-site --path $(pwd)`,
	RunE: runProjectRegister,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	RunE:  runProjectList,
}

func init() {
	projectRegisterCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectRegisterCmd.Flags().StringVar(&projectPath, "path", "", "workspace path")
	_ = projectRegisterCmd.MarkFlagRequired("name")

	projectCmd.AddCommand(projectRegisterCmd)
	projectCmd.AddCommand(projectListCmd)
}

// CreateProjectRequest matches internal/http/types.go CreateProjectRequest
type CreateProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Project matches internal/project Project
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

func runProjectRegister(cmd *cobra.Command, args []string) error {
	var proj Project
	err := postJSON("/api/v1/projects", CreateProjectRequest{Name: projectName, Path: projectPath}, &proj)
	if err != nil {
		return err
	}

	fmt.Printf("Registered project %s\n", proj.Name)
	fmt.Printf("ID: %s\n", proj.ID)
	if proj.Path != "" {
		fmt.Printf("Path: %s\n", proj.Path)
	}
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	var projects []Project
	if err := getJSON("/api/v1/projects", &projects); err != nil {
		return err
	}

	if len(projects) == 0 {
		fmt.Println("No projects registered")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%s  %s  %s\n", p.ID, p.Name, p.Path)
	}
	return nil
}
