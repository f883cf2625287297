// Package stability guards against persisting a batch that a producer is
// still streaming into. The check is purely in-memory: snapshot, settle,
// re-snapshot the same reference.
package stability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/artifact"
)

// DefaultWindow is the settle window used when no override is configured.
const DefaultWindow = 1000 * time.Millisecond

// Verifier checks that an in-memory batch holds still for a settle window.
type Verifier struct {
	window time.Duration
	logger *zap.Logger
}

// NewVerifier returns a verifier with the given settle window. A
// non-positive window falls back to DefaultWindow; a nil logger falls back
// to a no-op logger.
func NewVerifier(window time.Duration, logger *zap.Logger) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{window: window, logger: logger}
}

// Window returns the configured settle window.
func (v *Verifier) Window() time.Duration {
	return v.window
}

// Stable snapshots the batch signature, waits the settle window, and
// compares against a second snapshot of the same reference. Any change to
// the file set or to a single content byte in between reports unstable.
// Cancelling the context aborts the wait and returns the context error.
func (v *Verifier) Stable(ctx context.Context, b *artifact.Batch) (bool, error) {
	before := b.Signature()

	timer := time.NewTimer(v.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}

	after := b.Signature()
	if before != after {
		v.logger.Warn("batch changed during stability window",
			zap.Duration("window", v.window),
			zap.Int("files", b.Len()))
		return false, nil
	}
	return true, nil
}
