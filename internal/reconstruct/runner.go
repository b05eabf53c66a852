package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"photoscan/internal/logging"
	"photoscan/internal/protocol"
	"photoscan/internal/services"
	"photoscan/internal/stageparse"
	"photoscan/internal/workspace"
)

// Mode selects which batch steps run.
type Mode string

const (
	// FromScratch runs feature extraction through texturing.
	FromScratch Mode = "from-scratch"
	// Continue reuses the sparse model built by incremental registration
	// and starts at undistortion.
	Continue Mode = "continue"
)

// Steps returns the batch script step indices for m.
func (m Mode) Steps() []string {
	if m == Continue {
		return []string{"4", "5", "6", "7", "8", "9", "10"}
	}
	return []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
}

// Result summarizes a finished run.
type Result struct {
	LastStage protocol.Stage
	ExitCode  int
	// Failure is the message of the first failure line the script printed.
	Failure string
}

// Succeeded reports whether the run reached texturing and exited cleanly.
func (r Result) Succeeded() bool {
	return r.LastStage == protocol.FinalPipelineStage && r.ExitCode == 0 && r.Failure == ""
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runner spawns the batch pipeline script.
type Runner struct {
	python      string
	script      string
	cameraModel string
	exec        services.Executor
	logger      *slog.Logger
}

// New constructs a batch runner.
func New(python, script, cameraModel string, opts ...Option) (*Runner, error) {
	python = strings.TrimSpace(python)
	script = strings.TrimSpace(script)
	if python == "" {
		return nil, errors.New("python binary required")
	}
	if script == "" {
		return nil, errors.New("batch pipeline script required")
	}
	if strings.TrimSpace(cameraModel) == "" {
		cameraModel = "PINHOLE"
	}
	r := &Runner{
		python:      python,
		script:      script,
		cameraModel: cameraModel,
		exec:        services.CommandExecutor{},
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Command returns the invocation Run would spawn.
func (r *Runner) Command(layout workspace.Layout, mode Mode) services.Command {
	dir := layout.Dir() + "/"
	args := []string{r.script, dir, layout.OutputDir() + "/", r.cameraModel, "--steps"}
	args = append(args, mode.Steps()...)
	return services.Command{Binary: r.python, Args: args, Dir: layout.Dir()}
}

// Run executes the pipeline for layout, forwarding progress to sink. It
// returns a BATCH_PIPELINE_FAILED error unless the script reached the
// texturing stage and exited zero. FAILED lines are not sent to sink; the
// first one becomes Result.Failure for the caller's single terminal event.
func (r *Runner) Run(ctx context.Context, layout workspace.Layout, mode Mode, sink protocol.Sink) (Result, error) {
	if sink == nil {
		sink = protocol.Discard
	}
	ctx = services.WithSession(ctx, layout.Title())
	logger := logging.WithContext(ctx, r.logger).With(logging.String("mode", string(mode)))

	if err := layout.CleanDense(); err != nil {
		return Result{}, services.Wrap(services.ErrBatchPipelineFailed, "reconstruction", "clean", "could not remove previous dense output", err)
	}

	cmd := r.Command(layout, mode)
	logger.Info("batch reconstruction started",
		logging.String(logging.FieldEventType, "reconstruction_started"),
		logging.String("command", cmd.String()),
	)

	var (
		mu     sync.Mutex
		result Result
		stderr services.StderrCollector
	)
	err := r.exec.Run(ctx, cmd, services.Output{
		Stdout: func(line string) {
			event, ok := stageparse.Parse(line)
			if !ok {
				logger.Debug("reconstruction output", logging.String("line", line))
				return
			}
			mu.Lock()
			if event.Status == protocol.StatusFailed {
				if result.Failure == "" {
					result.Failure = event.Message
				}
				mu.Unlock()
				return
			}
			if event.Stage.After(result.LastStage) {
				result.LastStage = event.Stage
			}
			mu.Unlock()
			logger.Info("reconstruction progress",
				logging.String("progress_stage", string(event.Stage)),
				logging.String("step", event.Step),
				logging.String("progress_message", event.Message),
			)
			sink.Send(event)
		},
		Stderr: stderr.Line,
	})

	mu.Lock()
	defer mu.Unlock()
	result.ExitCode = services.ExitCode(err)
	if err != nil && result.ExitCode == 0 {
		result.ExitCode = -1
	}

	if result.Succeeded() {
		logger.Info("batch reconstruction completed", logging.String(logging.FieldEventType, "reconstruction_completed"))
		return result, nil
	}

	runErr := services.Wrap(services.ErrBatchPipelineFailed, "reconstruction", string(mode), failureDetail(result, stderr.Tail(3)), err)
	logging.ErrorWithContext(logger, "batch reconstruction failed", "reconstruction_failed",
		logging.String("last_stage", string(result.LastStage)),
		logging.Int("exit_code", result.ExitCode),
		logging.Error(runErr),
		logging.String(logging.FieldErrorHint, "see the COLMAP/OpenMVS logs in the session directory"),
		logging.String(logging.FieldImpact, "no textured model was produced"),
	)
	return result, runErr
}

func failureDetail(result Result, stderrTail string) string {
	var parts []string
	if result.Failure != "" {
		parts = append(parts, result.Failure)
	}
	switch {
	case result.LastStage == "":
		parts = append(parts, "no stage reached")
	case result.LastStage != protocol.FinalPipelineStage:
		parts = append(parts, fmt.Sprintf("stopped after stage %s", result.LastStage))
	}
	if result.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit code %d", result.ExitCode))
	}
	if stderrTail != "" {
		parts = append(parts, stderrTail)
	}
	return strings.Join(parts, "; ")
}
