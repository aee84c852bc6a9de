// Package pipeline drives the ordered build stages with fail-fast semantics,
// rescue snapshotting, and cleanup on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"isoforge/internal/logging"
	"isoforge/internal/overlay"
)

// State is the sequencer lifecycle state.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Interrupted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Stage is one discrete unit of pipeline work. Stages run strictly in order;
// later stages read files written by earlier ones.
type Stage struct {
	Name string
	// Skip, when non-nil and true, bypasses the stage without failing.
	Skip func() bool
	Run  func(ctx context.Context) error
}

// StageFailure wraps a stage's error with the originating stage name.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// ErrInterrupted reports operator cancellation, a controlled shutdown rather
// than a crash.
var ErrInterrupted = errors.New("build interrupted")

// DependencyError reports a missing external collaborator tool.
type DependencyError struct {
	Tool string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("required tool %s not found", e.Tool)
}

// Result is the terminal outcome of a pipeline run.
type Result struct {
	State       State
	FailedStage string
	RescuePath  string
	Err         error
}

// Sequencer executes stages sequentially over a working tree it exclusively
// owns; the advisory lock enforces single-run ownership.
type Sequencer struct {
	Logger *slog.Logger

	// WorkDir is the transient working directory; the run lock lives here.
	WorkDir string
	// TreeDir is the composed overlay tree, the rescue snapshot source.
	TreeDir string
	// RescueDir receives timestamped snapshots on failure.
	RescueDir string
	// KeepIntermediate preserves WorkDir and TreeDir after the run.
	KeepIntermediate bool
	// Now supplies timestamps for snapshot naming; nil means time.Now.
	Now func() time.Time

	runID string
}

// Run executes the stages. On any failure it snapshots the tree (when
// present), cleans up the transient directories, and surfaces the failure
// with the originating stage name. Cancellation follows the same cleanup
// path but reports Interrupted.
func (s *Sequencer) Run(ctx context.Context, stages []Stage) Result {
	logger := logging.Ensure(s.Logger)
	s.runID = uuid.New().String()[:8]
	logger = logger.With("run", s.runID)

	if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
		return Result{State: Failed, Err: fmt.Errorf("create working directory: %w", err)}
	}
	lock, err := acquireLock(filepath.Join(s.WorkDir, ".lock"))
	if err != nil {
		return Result{State: Failed, Err: err}
	}
	defer lock.release()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return s.interrupted(logger, stage.Name)
		}
		if stage.Skip != nil && stage.Skip() {
			logger.Debug("stage skipped", "stage", stage.Name)
			continue
		}

		logger.Info("stage running", "stage", stage.Name)
		started := s.now()
		err := stage.Run(ctx)
		if err == nil {
			logger.Info("stage completed", "stage", stage.Name, "elapsed", s.now().Sub(started))
			continue
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return s.interrupted(logger, stage.Name)
		}

		logger.Error("stage failed", "stage", stage.Name, "error", err)
		rescue := s.saveRescue(logger)
		s.cleanup(logger)
		return Result{
			State:       Failed,
			FailedStage: stage.Name,
			RescuePath:  rescue,
			Err:         &StageFailure{Stage: stage.Name, Err: err},
		}
	}

	s.cleanup(logger)
	logger.Info("pipeline succeeded")
	return Result{State: Succeeded}
}

func (s *Sequencer) interrupted(logger *slog.Logger, stage string) Result {
	logger.Warn("pipeline interrupted", "stage", stage)
	s.cleanup(logger)
	return Result{State: Interrupted, FailedStage: stage, Err: ErrInterrupted}
}

// saveRescue copies the working tree to a timestamped rescue location for
// forensic inspection. Best effort: a failing snapshot never masks the stage
// failure.
func (s *Sequencer) saveRescue(logger *slog.Logger) string {
	if s.RescueDir == "" {
		return ""
	}
	if info, err := os.Stat(s.TreeDir); err != nil || !info.IsDir() {
		return ""
	}

	name := fmt.Sprintf("rescue-%s-%s", s.now().Format("20060102-150405"), s.runID)
	dest := filepath.Join(s.RescueDir, name)
	if err := overlay.CopyTree(s.TreeDir, dest); err != nil {
		logger.Error("rescue snapshot failed", "error", err)
		return ""
	}
	logger.Info("rescue snapshot saved", "path", dest)
	return dest
}

// cleanup removes the transient directories unless the caller asked to keep
// them. Runs on every exit path.
func (s *Sequencer) cleanup(logger *slog.Logger) {
	if s.KeepIntermediate {
		logger.Info("keeping intermediate tree", "tree", s.TreeDir, "work", s.WorkDir)
		return
	}
	for _, dir := range []string{s.TreeDir, s.WorkDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("cleanup failed", "dir", dir, "error", err)
		}
	}
}

func (s *Sequencer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
