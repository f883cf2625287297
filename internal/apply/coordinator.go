// Package apply orchestrates applying a generated file batch to a project:
// validation, content stability, local state update, durable persistence
// with retries, conversation reconciliation, and the deployment handoff.
//
// One Coordinator serves every registered project. Applies on the same
// project are mutually exclusive; applies on different projects run
// concurrently.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/artifact"
	"github.com/fyrsmithlabs/applyd/internal/artifactstore"
	"github.com/fyrsmithlabs/applyd/internal/deploy"
	"github.com/fyrsmithlabs/applyd/internal/project"
	"github.com/fyrsmithlabs/applyd/internal/retry"
	"github.com/fyrsmithlabs/applyd/internal/stability"
	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

// Reconciler links applied files back to conversation history.
type Reconciler interface {
	Reconcile(ctx context.Context, projectID string, appliedPaths []string) (bool, error)
}

// NoteAppender records a system note in conversation history.
type NoteAppender interface {
	AppendSystemNote(ctx context.Context, projectID, content string) error
}

// Options select the mode of one apply invocation.
type Options struct {
	// Mode defaults to ModeManual when empty.
	Mode Mode

	// WorkflowID correlates an automated run across the tracker and the
	// deployment handoff. Required for ModeAutoRetry, ignored otherwise.
	WorkflowID string
}

// Config tunes the apply pipeline.
type Config struct {
	// StabilityWindow is how long automated applies wait for content to
	// settle (default: 1s).
	StabilityWindow time.Duration

	// StateRetry governs the local state update (default: 2 attempts).
	StateRetry retry.Config

	// SaveRetry governs durable persistence (default: 3 attempts).
	SaveRetry retry.Config

	// ResetDelay is how long a successful manual apply keeps its terminal
	// state visible before resetting to idle (default: 3s).
	ResetDelay time.Duration

	// PendingClearDelay is how long after a failure the stale pending-file
	// buffer survives before being cleared (default: 5s).
	PendingClearDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StabilityWindow: stability.DefaultWindow,
		StateRetry: retry.Config{
			MaxAttempts: 2,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			JitterMax:   250 * time.Millisecond,
		},
		SaveRetry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			JitterMax:   time.Second,
		},
		ResetDelay:        3 * time.Second,
		PendingClearDelay: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = d.StabilityWindow
	}
	if c.StateRetry.MaxAttempts <= 0 {
		c.StateRetry = d.StateRetry
	}
	if c.SaveRetry.MaxAttempts <= 0 {
		c.SaveRetry = d.SaveRetry
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = d.ResetDelay
	}
	if c.PendingClearDelay <= 0 {
		c.PendingClearDelay = d.PendingClearDelay
	}
}

// Coordinator drives batches through the apply pipeline.
type Coordinator struct {
	cfg      Config
	store    artifactstore.Client
	projects *project.Registry
	files    *project.FileRepository
	deploys  *deploy.Registry
	tracker  tracker.Tracker
	matcher  Reconciler
	history  NoteAppender

	validator *artifact.Validator
	verifier  *stability.Verifier
	states    *stateTable
	cleanups  *cleanupScheduler

	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a coordinator. store, projects, and files are required.
// deploys, trk, matcher, and history may be nil: a nil tracker reports
// nothing, a nil matcher skips reconciliation, a nil history skips the
// deployment-ready note, and a nil deploys gets a private registry.
func New(cfg *Config, store artifactstore.Client, projects *project.Registry, files *project.FileRepository, deploys *deploy.Registry, trk tracker.Tracker, matcher Reconciler, history NoteAppender, logger *zap.Logger) (*Coordinator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("artifact store client is required")
	}
	if projects == nil {
		return nil, errors.New("project registry is required")
	}
	if files == nil {
		return nil, errors.New("file repository is required")
	}
	if deploys == nil {
		deploys = deploy.NewRegistry()
	}
	if trk == nil {
		trk = tracker.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conf := *cfg
	conf.applyDefaults()

	return &Coordinator{
		cfg:       conf,
		store:     store,
		projects:  projects,
		files:     files,
		deploys:   deploys,
		tracker:   trk,
		matcher:   matcher,
		history:   history,
		validator: artifact.NewValidator(),
		verifier:  stability.NewVerifier(conf.StabilityWindow, logger),
		states:    newStateTable(),
		cleanups:  newCleanupScheduler(),
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// SetValidator replaces the default batch validator. Used to attach a
// secret scanner at wiring time.
func (c *Coordinator) SetValidator(v *artifact.Validator) {
	if v != nil {
		c.validator = v
	}
}

// State returns a copy of the project's application state.
func (c *Coordinator) State(projectID string) ApplicationState {
	return c.states.get(projectID)
}

// Deploys exposes the handoff registry so the deployment side can claim
// submitted work.
func (c *Coordinator) Deploys() *deploy.Registry {
	return c.deploys
}

// Close cancels every scheduled cleanup. In-flight applies are not
// interrupted.
func (c *Coordinator) Close() {
	c.cleanups.stopAll()
}

// Apply runs the full pipeline for one batch. It returns nil on success,
// an admission error if the run never started, or an *Error classifying
// the failure otherwise.
//
// On return IsApplying is false again for the project, whatever happened.
func (c *Coordinator) Apply(ctx context.Context, projectID string, batch *artifact.Batch, opts Options) (err error) {
	proj, ok := c.projects.Get(projectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProject, projectID)
	}
	if batch == nil || batch.Len() == 0 {
		return ErrEmptyBatch
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeManual
	}
	if !mode.Valid() {
		return fmt.Errorf("unknown apply mode %q", opts.Mode)
	}
	if mode == ModeAutoRetry && opts.WorkflowID == "" {
		return errors.New("workflow id is required for automated applies")
	}

	lock := c.states.lockFor(projectID)
	if !lock.TryLock() {
		return fmt.Errorf("%w: %s", ErrApplyInProgress, projectID)
	}
	defer lock.Unlock()

	ctx, span := c.tracer.Start(ctx, "apply.run",
		trace.WithAttributes(
			attribute.String("project_id", projectID),
			attribute.String("mode", string(mode)),
			attribute.Int("files", batch.Len()),
		))
	defer span.End()

	start := time.Now()
	modeAttr := metric.WithAttributes(attribute.String("mode", string(mode)))
	applyCounter.Add(ctx, 1, modeAttr)

	cv := curveFor(mode)
	fileCount := batch.Len()
	paths := batch.Paths()

	// Arm: earlier cleanups must not wipe the state this run is about to
	// build.
	c.cleanups.cancel(projectID)
	c.states.update(projectID, func(s *ApplicationState) {
		s.IsApplying = true
		s.Phase = PhaseValidating
		s.PendingPaths = paths
		s.TotalFiles = fileCount
		s.LastError = ""
	})

	c.logger.Info("apply started",
		zap.String("project_id", projectID),
		zap.String("mode", string(mode)),
		zap.String("workflow_id", opts.WorkflowID),
		zap.Int("files", fileCount))

	reported := false
	fail := func(reason tracker.FailureReason, op string, cause error) *Error {
		e := &Error{Reason: reason, Op: op, Err: cause}
		applyFailureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(mode)),
			attribute.String("reason", string(reason)),
		))
		span.RecordError(e)
		span.SetStatus(codes.Error, string(reason))
		c.states.update(projectID, func(s *ApplicationState) {
			s.LastError = e.Error()
			s.Progress.Message = cv.message(e.Error())
		})
		// A workflow gets exactly one completion report, on its first
		// terminal failure.
		if mode == ModeAutoRetry && !reported {
			reported = true
			c.tracker.WorkflowComplete(ctx, opts.WorkflowID, false, reason)
		}
		c.logger.Error("apply failed",
			zap.String("project_id", projectID),
			zap.String("mode", string(mode)),
			zap.String("reason", string(reason)),
			zap.Error(cause))
		return e
	}

	success := false
	defer func() {
		c.finalize(projectID, mode, success)
		applyDuration.Record(ctx, time.Since(start).Seconds(), modeAttr)
	}()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("apply panicked",
				zap.String("project_id", projectID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fail(tracker.ReasonGeneral, "apply pipeline", fmt.Errorf("panic: %v", r))
		}
	}()

	if mode == ModeAutoRetry {
		c.tracker.FileApplicationTriggered(ctx, opts.WorkflowID)
	}

	// Validation.
	c.setProgress(projectID, PhaseValidating, cv.validating, cv.message(fmt.Sprintf("Validating %d files...", fileCount)))
	report := c.validator.Validate(batch)
	for _, w := range report.Warnings {
		c.logger.Warn("validation warning",
			zap.String("project_id", projectID),
			zap.String("path", w.Path),
			zap.String("rule", w.Rule),
			zap.String("detail", w.Message))
	}
	if !report.Valid {
		return fail(tracker.ReasonValidationFailed, "validating batch", errors.New(report.ErrorMessages()))
	}
	c.logger.Debug("batch validated",
		zap.String("project_id", projectID),
		zap.Int("files", report.Stats.FileCount),
		zap.Int64("total_bytes", report.Stats.TotalBytes),
		zap.String("largest", report.Stats.LargestPath))

	// Stability gate. Manual applies carry content the user just confirmed;
	// only automated runs wait out the window.
	if mode == ModeAutoRetry {
		c.setProgress(projectID, PhaseStabilizing, cv.stability, cv.message("Checking content stability..."))
		stable, verr := c.verifier.Stable(ctx, batch)
		if verr != nil {
			return fail(tracker.ReasonGeneral, "checking content stability", verr)
		}
		if !stable {
			return fail(tracker.ReasonStabilityFailed, "checking content stability", errors.New("batch content changed during the stability window"))
		}
	}

	// Local state.
	c.setProgress(projectID, PhaseUpdatingState, cv.stateDone, cv.message("Updating project state..."))
	if rerr := retry.Do(ctx, c.logger, "updating project state", c.cfg.StateRetry, func(ctx context.Context) error {
		_, uerr := c.files.ApplyBatch(projectID, batch)
		return uerr
	}); rerr != nil {
		return fail(tracker.ReasonGeneral, "updating project state", rerr)
	}

	// Persistence.
	if serr := c.store.Ready(); serr != nil {
		return fail(tracker.ReasonBackendUnavailable, "checking artifact store", serr)
	}
	saveReq := &artifactstore.SaveRequest{
		ProjectID: projectID,
		Files:     batch.Files(),
		OnProgress: func(p int, msg string) {
			if msg == "" {
				msg = "Saving files..."
			}
			c.setProgress(projectID, PhasePersisting, cv.bandPercent(p), cv.message(msg))
		},
	}
	c.setProgress(projectID, PhasePersisting, cv.persistLo, cv.message("Saving files..."))
	var result *artifactstore.SaveResult
	if rerr := retry.Do(ctx, c.logger, "saving batch", c.cfg.SaveRetry, func(ctx context.Context) error {
		r, serr := c.store.SaveBatch(ctx, saveReq)
		if serr != nil {
			return serr
		}
		result = r
		return nil
	}); rerr != nil {
		return fail(tracker.ReasonSaveFailed, "saving batch", rerr)
	}
	if !result.Success {
		return fail(tracker.ReasonSaveFailed, "saving batch", fmt.Errorf("store rejected %d of %d files", len(result.Failed), fileCount))
	}

	// Reconciliation is best effort: a failure here must not undo an apply
	// that already persisted.
	c.states.update(projectID, func(s *ApplicationState) { s.Phase = PhaseReconciling })
	if mode == ModeManual {
		c.setProgress(projectID, PhaseReconciling, cv.persistHi, "Finalizing...")
	}
	if c.matcher != nil {
		if _, merr := c.matcher.Reconcile(ctx, projectID, paths); merr != nil {
			c.logger.Warn("conversation reconciliation failed",
				zap.String("project_id", projectID),
				zap.Error(merr))
		}
	}

	// Terminal leg.
	if mode == ModeAutoRetry {
		c.tracker.DeploymentTriggered(ctx, opts.WorkflowID)
		c.setProgress(projectID, PhaseDeployHandoff, cv.persistHi, cv.message("Files saved, deployment starting..."))
		handoff := deploy.Handoff{
			CorrelationID: opts.WorkflowID,
			ProjectID:     projectID,
			ProjectName:   proj.Name,
			Paths:         paths,
		}
		if herr := c.deploys.Submit(handoff); herr != nil {
			e := fail(tracker.ReasonDeploySetupFailed, "submitting deployment handoff", herr)
			// The files did persist; only the deployment leg broke. The
			// message must say so.
			c.states.update(projectID, func(s *ApplicationState) {
				s.Progress.Message = cv.message(fmt.Sprintf("Applied %d files (deployment setup failed)", fileCount))
			})
			return e
		}
		// Success for an automated run is reported by the deployment side
		// once the handoff completes, not here.
		c.setProgress(projectID, PhaseDeployHandoff, 100, cv.message(fmt.Sprintf("Applied %d files", fileCount)))
	} else {
		if c.history != nil {
			note := fmt.Sprintf("Deployment ready: %d files applied", fileCount)
			if nerr := c.history.AppendSystemNote(ctx, projectID, note); nerr != nil {
				c.logger.Warn("recording deployment-ready note failed",
					zap.String("project_id", projectID),
					zap.Error(nerr))
			}
		}
		// The applied state supersedes whatever descriptor was cached for
		// the previous deployment.
		c.deploys.InvalidateDescriptor(projectID)
		c.setProgress(projectID, PhaseReconciling, 100, fmt.Sprintf("Successfully applied %d files", fileCount))
	}

	applyFileCount.Record(ctx, int64(fileCount), modeAttr)
	c.logger.Info("apply finished",
		zap.String("project_id", projectID),
		zap.String("mode", string(mode)),
		zap.Int("files", fileCount),
		zap.Duration("elapsed", time.Since(start)))
	success = true
	return nil
}

// ApplySilently validates the batch and updates local project state
// without progress reporting, tracker milestones, persistence, or
// deployment. Used for previews and replays where only the in-memory
// view should move.
func (c *Coordinator) ApplySilently(ctx context.Context, projectID string, batch *artifact.Batch) error {
	if _, ok := c.projects.Get(projectID); !ok {
		return fmt.Errorf("%w: %s", ErrNoProject, projectID)
	}
	if batch == nil || batch.Len() == 0 {
		return ErrEmptyBatch
	}
	lock := c.states.lockFor(projectID)
	if !lock.TryLock() {
		return fmt.Errorf("%w: %s", ErrApplyInProgress, projectID)
	}
	defer lock.Unlock()

	report := c.validator.Validate(batch)
	if !report.Valid {
		return &Error{Reason: tracker.ReasonValidationFailed, Op: "validating batch", Err: errors.New(report.ErrorMessages())}
	}
	if rerr := retry.Do(ctx, c.logger, "updating project state", c.cfg.StateRetry, func(ctx context.Context) error {
		_, uerr := c.files.ApplyBatch(projectID, batch)
		return uerr
	}); rerr != nil {
		return &Error{Reason: tracker.ReasonGeneral, Op: "updating project state", Err: rerr}
	}
	c.logger.Debug("silent apply finished",
		zap.String("project_id", projectID),
		zap.Int("files", batch.Len()))
	return nil
}

// setProgress publishes one progress point.
func (c *Coordinator) setProgress(projectID string, phase Phase, percent int, message string) {
	c.states.update(projectID, func(s *ApplicationState) {
		s.Phase = phase
		s.Progress = Progress{Percent: percent, Message: message}
	})
	c.logger.Debug("apply progress",
		zap.String("project_id", projectID),
		zap.String("phase", string(phase)),
		zap.Int("percent", percent),
		zap.String("message", message))
}

// finalize runs on every exit from Apply. It drops IsApplying and
// schedules the delayed cleanups for the run's outcome.
func (c *Coordinator) finalize(projectID string, mode Mode, success bool) {
	c.states.update(projectID, func(s *ApplicationState) {
		s.IsApplying = false
		s.Phase = PhaseIdle
		if success && mode == ModeAutoRetry {
			s.PendingPaths = nil
			s.TotalFiles = 0
		}
		if !success && mode == ModeAutoRetry {
			// Automated failures reset the bar immediately; nobody is
			// watching it, and a stale error would leak into the next
			// manual view. The failure itself was already reported.
			s.Progress = Progress{Message: readyMessage}
			s.LastError = ""
		}
	})

	if success && mode == ModeManual {
		c.cleanups.schedule(projectID, c.cfg.ResetDelay, func() {
			c.states.update(projectID, func(s *ApplicationState) {
				if s.IsApplying {
					return
				}
				s.Phase = PhaseIdle
				s.Progress = Progress{Message: readyMessage}
				s.PendingPaths = nil
				s.TotalFiles = 0
				s.LastError = ""
			})
		})
	}
	if !success {
		c.cleanups.schedule(projectID, c.cfg.PendingClearDelay, func() {
			c.states.update(projectID, func(s *ApplicationState) {
				if s.IsApplying {
					return
				}
				s.PendingPaths = nil
				s.TotalFiles = 0
			})
		})
	}
}
