package testsupport

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"photoscan/internal/services"
)

// StubExecutor replays canned output instead of spawning processes.
type StubExecutor struct {
	Stdout []string
	Stderr []string
	Err    error
	// OnRun, when set, runs before the canned output is replayed.
	OnRun func(ctx context.Context, cmd services.Command) error

	mu    sync.Mutex
	calls []services.Command
}

func (s *StubExecutor) Run(ctx context.Context, cmd services.Command, out services.Output) error {
	s.mu.Lock()
	s.calls = append(s.calls, services.Command{Binary: cmd.Binary, Args: slices.Clone(cmd.Args), Dir: cmd.Dir})
	s.mu.Unlock()

	if s.OnRun != nil {
		if err := s.OnRun(ctx, cmd); err != nil {
			return err
		}
	}
	for _, line := range s.Stdout {
		if out.Stdout != nil {
			out.Stdout(line)
		}
	}
	for _, line := range s.Stderr {
		if out.Stderr != nil {
			out.Stderr(line)
		}
	}
	return s.Err
}

// Calls returns a copy of every command run so far.
func (s *StubExecutor) Calls() []services.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ExitError is an Executor error carrying an exit status.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string { return "exit status " + strconv.Itoa(e.Code) }

func (e ExitError) ExitCode() int { return e.Code }
