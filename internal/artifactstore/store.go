// Package artifactstore is the client side of durable batch persistence.
// The pipeline talks to a Client; the backing can be the hosted store API
// or the in-process memory store.
package artifactstore

import (
	"context"

	"github.com/fyrsmithlabs/applyd/internal/artifact"
)

// Client persists an applied batch to the durable backend.
type Client interface {
	// Ready reports whether credentials and target are configured. A
	// non-nil error means a save cannot even be attempted; the pipeline
	// classifies that differently from a failed save.
	Ready() error

	// SaveBatch writes the files, streaming backend progress through
	// req.OnProgress when set. A transport or protocol failure returns an
	// error; a completed call returns the backend's result, which may
	// still report per-file failures.
	SaveBatch(ctx context.Context, req *SaveRequest) (*SaveResult, error)
}

// SaveRequest carries one batch to persist.
type SaveRequest struct {
	ProjectID  string
	Files      []artifact.File
	OnProgress func(percent int, message string)
}

// SaveResult is the backend's verdict on a save.
type SaveResult struct {
	Success bool        `json:"success"`
	Saved   []string    `json:"saved,omitempty"`
	Failed  []FileError `json:"failed,omitempty"`
}

// FileError is one file the backend could not store.
type FileError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}
