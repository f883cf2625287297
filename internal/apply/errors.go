package apply

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

// Admission errors. These reject an apply before the pipeline arms, so no
// failure is reported for them and no state changes.
var (
	ErrNoProject       = errors.New("no project registered for apply")
	ErrEmptyBatch      = errors.New("batch has no files")
	ErrApplyInProgress = errors.New("apply already in progress for project")
)

// Error is a terminal pipeline failure carrying its classification. The
// reason is what the tracker receives and what callers branch on.
type Error struct {
	Reason tracker.FailureReason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure classification from an error returned by
// Apply. Admission errors and nil yield ReasonNone.
func ReasonOf(err error) tracker.FailureReason {
	var applyErr *Error
	if errors.As(err, &applyErr) {
		return applyErr.Reason
	}
	return tracker.ReasonNone
}
