package conversation

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// DefaultScanLimit bounds how much history one reconciliation reads.
	DefaultScanLimit = 50
	// DefaultMaxCandidates bounds how many declaring assistant messages
	// are considered per run.
	DefaultMaxCandidates = 10
)

// Matcher pairs just-applied files back to the chat messages that
// requested and produced them. Matching is exact base-filename equality,
// nothing fuzzier: a wrong pairing is worse than a dangling one.
type Matcher struct {
	store         *Store
	logger        *zap.Logger
	scanLimit     int
	maxCandidates int
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithScanLimit overrides how many recent messages one reconciliation
// reads.
func WithScanLimit(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.scanLimit = n
		}
	}
}

// WithMaxCandidates overrides how many declaring assistant messages are
// considered per run.
func WithMaxCandidates(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.maxCandidates = n
		}
	}
}

// NewMatcher returns a matcher over the given history store.
func NewMatcher(store *Store, logger *zap.Logger, opts ...MatcherOption) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{
		store:         store,
		logger:        logger,
		scanLimit:     DefaultScanLimit,
		maxCandidates: DefaultMaxCandidates,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile walks recent history newest-first, collects up to
// maxCandidates unresolved assistant messages that declared output paths,
// and resolves every candidate whose declared files intersect the applied
// set, each paired with its nearest preceding unresolved user message.
// When no candidate matches, the most recent unresolved user message alone
// is resolved so the conversation does not dangle.
//
// Returns whether anything was marked. Errors are for the caller to log;
// reconciliation is best-effort and never aborts an apply.
func (m *Matcher) Reconcile(ctx context.Context, projectID string, applied []string) (bool, error) {
	if len(applied) == 0 {
		return false, nil
	}

	msgs, err := m.store.Recent(ctx, projectID, m.scanLimit)
	if err != nil {
		return false, fmt.Errorf("loading history: %w", err)
	}

	appliedBases := make(map[string]bool, len(applied))
	for _, path := range applied {
		appliedBases[filepath.Base(path)] = true
	}
	note := fmt.Sprintf("Files applied successfully (%d files)", len(applied))

	var (
		toResolve  []string
		consumed   = make(map[string]bool)
		candidates = 0
	)
	for i, msg := range msgs {
		if msg.Resolved || msg.Role != RoleAssistant || len(msg.DeclaredPaths) == 0 {
			continue
		}
		candidates++
		if candidates > m.maxCandidates {
			break
		}
		if !declaresAny(msg.DeclaredPaths, appliedBases) {
			continue
		}

		toResolve = append(toResolve, msg.ID)
		for j := i + 1; j < len(msgs); j++ {
			older := msgs[j]
			if older.Role == RoleUser && !older.Resolved && !consumed[older.ID] {
				consumed[older.ID] = true
				toResolve = append(toResolve, older.ID)
				break
			}
		}
	}

	if len(toResolve) == 0 {
		for _, msg := range msgs {
			if msg.Role == RoleUser && !msg.Resolved {
				toResolve = append(toResolve, msg.ID)
				break
			}
		}
	}
	if len(toResolve) == 0 {
		return false, nil
	}

	n, err := m.store.MarkResolved(ctx, toResolve, note)
	if err != nil {
		return false, fmt.Errorf("marking resolved: %w", err)
	}
	m.logger.Debug("reconciled conversation",
		zap.String("project_id", projectID),
		zap.Int("applied_files", len(applied)),
		zap.Int("marked", n))
	return n > 0, nil
}

func declaresAny(declared []string, appliedBases map[string]bool) bool {
	for _, path := range declared {
		if appliedBases[filepath.Base(path)] {
			return true
		}
	}
	return false
}
