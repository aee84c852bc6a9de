package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"isoforge/internal/logging"
)

// CommandRunner executes external collaborator commands and reports their
// combined output. Implementations must respect context cancellation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands on the host via os/exec.
type ExecRunner struct {
	Logger *slog.Logger
}

var _ CommandRunner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logger := logging.Ensure(r.Logger)
	logger.Debug("running command", "command", name, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		logger.Debug("command failed", "command", name, "error", err)
		return output, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// FakeResult scripts the outcome of a single FakeRunner invocation.
type FakeResult struct {
	Output string
	Err    error
}

// FakeRunner records invocations and replays scripted results, keyed by
// command name. Commands without a scripted result succeed with empty output.
type FakeRunner struct {
	Results map[string]FakeResult
	// MissingTools lists command names LookPath should report as absent.
	MissingTools []string

	Calls [][]string
}

var _ CommandRunner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.Calls = append(f.Calls, append([]string{name}, args...))
	if result, ok := f.Results[name]; ok {
		return result.Output, result.Err
	}
	return "", nil
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	for _, missing := range f.MissingTools {
		if missing == name {
			return "", fmt.Errorf("%s: executable file not found in $PATH", name)
		}
	}
	return "/usr/bin/" + name, nil
}

// CalledWith reports whether any recorded invocation started with the given
// command name.
func (f *FakeRunner) CalledWith(name string) bool {
	for _, call := range f.Calls {
		if len(call) > 0 && call[0] == name {
			return true
		}
	}
	return false
}
