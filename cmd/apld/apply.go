package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	applyDir        string
	applyAuto       bool
	applyWorkflowID string
	applySilent     bool
	applyWatch      bool
	applyDebounce   time.Duration
)

var applyCmd = &cobra.Command{
	Use:   "apply <project-id>",
	Short: "Apply a directory of generated files to a project",
	Long: `Apply every file under a directory to the project as one batch. The
server validates the batch, updates project state, persists the files to
the artifact store, and reconciles the chat history.

Examples:
  # Apply the generated output once
  apld apply 2f1c... --dir ./out

  # Apply as an automated run that queues a deployment
  apld apply 2f1c... --dir ./out --auto --workflow-id wf-42

  # Keep watching the directory and re-apply on changes
  apld apply 2f1c... --dir ./out --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyDir, "dir", "", "directory holding the files to apply (required)")
	applyCmd.Flags().BoolVar(&applyAuto, "auto", false, "apply as an automated remediation run")
	applyCmd.Flags().StringVar(&applyWorkflowID, "workflow-id", "", "workflow id reported for automated runs")
	applyCmd.Flags().BoolVar(&applySilent, "silent", false, "update project state without persistence or deployment")
	applyCmd.Flags().BoolVar(&applyWatch, "watch", false, "watch the directory and re-apply on changes")
	applyCmd.Flags().DurationVar(&applyDebounce, "debounce", 500*time.Millisecond, "quiet period before a watched change triggers an apply")
	_ = applyCmd.MarkFlagRequired("dir")
}

// ApplyRequest matches internal/http/types.go ApplyRequest. The CLI
// always sends concrete file contents, so Files is a plain map here.
type ApplyRequest struct {
	Files      map[string]string `json:"files"`
	Mode       string            `json:"mode,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
}

// ApplyResponse matches internal/http/types.go ApplyResponse
type ApplyResponse struct {
	Applied int    `json:"applied"`
	Mode    string `json:"mode"`
	Message string `json:"message"`
}

func runApply(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	if err := applyOnce(projectID); err != nil {
		if !applyWatch {
			return err
		}
		// In watch mode a failed apply is reported and watching goes on;
		// the next change gets another chance.
		fmt.Fprintf(os.Stderr, "apply failed: %v\n", err)
	}

	if !applyWatch {
		return nil
	}
	return watchAndApply(projectID)
}

// applyOnce collects the directory and posts one batch.
func applyOnce(projectID string) error {
	files, err := collectFiles(applyDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found under %s", applyDir)
	}

	if applySilent {
		var resp struct {
			Applied int `json:"applied"`
		}
		if err := postJSON("/api/v1/projects/"+projectID+"/apply-silent", ApplyRequest{Files: files}, &resp); err != nil {
			return err
		}
		fmt.Printf("Silently applied %d files\n", resp.Applied)
		return nil
	}

	req := ApplyRequest{Files: files}
	if applyAuto {
		req.Mode = "auto"
		req.WorkflowID = applyWorkflowID
		if req.WorkflowID == "" {
			req.WorkflowID = fmt.Sprintf("apld-%d", time.Now().UnixNano())
		}
	}

	var resp ApplyResponse
	if err := postJSON("/api/v1/projects/"+projectID+"/apply", req, &resp); err != nil {
		return err
	}
	fmt.Printf("%s\n", resp.Message)
	return nil
}

// collectFiles reads every regular file under dir into a path-to-content
// map. Paths are relative to dir with forward slashes. Hidden files and
// directories are skipped.
func collectFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, nil
}

// watchAndApply watches the directory tree and re-applies after changes
// settle for the debounce period.
func watchAndApply(projectID string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, applyDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The timer starts drained; only a filesystem event arms it.
	debounce := time.NewTimer(applyDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	fmt.Fprintf(os.Stderr, "watching %s (Ctrl-C to stop)\n", applyDir)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "stopped watching")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			// New directories need their own watch before files inside
			// them produce events.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name)
				}
			}
			debounce.Reset(applyDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-debounce.C:
			if err := applyOnce(projectID); err != nil {
				fmt.Fprintf(os.Stderr, "apply failed: %v\n", err)
			}
		}
	}
}

// watchTree adds dir and every non-hidden subdirectory to the watcher.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
