package zfsexec

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// exit code 1. ambiguous: "already exists", "busy" etc. callers disambiguate by context
	ErrCommandFailed = errors.New("zfs command failed")
	// exit code 2. means we constructed the argument vector wrong
	ErrBadArguments = errors.New("zfs command called with bad arguments")
)

// any other termination: signal, spawn failure or unexpected exit code
type ProcessError struct {
	Args     []string
	ExitCode int      // -1 if process did not exit normally (or did not start at all)
	Reason   string   // raw termination reason
	Stderr   []string // last lines of stderr, only populated for pipes
	Err      error
}

func (p *ProcessError) Error() string {
	msg := fmt.Sprintf("zfs %s: %s", strings.Join(p.Args, " "), p.Reason)
	if len(p.Stderr) > 0 {
		msg += fmt.Sprintf("; stderr: %s", strings.Join(p.Stderr, " | "))
	}

	return msg
}

func (p *ProcessError) Unwrap() error {
	return p.Err
}

// maps result of exec.Cmd.Wait() (or Start()) into our error taxonomy
func classify(args []string, err error) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 1:
			return fmt.Errorf("zfs %s: %w", strings.Join(args, " "), ErrCommandFailed)
		case 2:
			return fmt.Errorf("zfs %s: %w", strings.Join(args, " "), ErrBadArguments)
		default:
			return &ProcessError{
				Args:     args,
				ExitCode: exitErr.ExitCode(), // -1 when killed by signal
				Reason:   exitErr.String(),
				Err:      err,
			}
		}
	}

	return &ProcessError{
		Args:     args,
		ExitCode: -1,
		Reason:   err.Error(),
		Err:      err,
	}
}

// short outcome label for metrics. "ok", "command_failed", "bad_arguments", "process_error"
func Outcome(err error) string {
	var procErr *ProcessError

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCommandFailed):
		return "command_failed"
	case errors.Is(err, ErrBadArguments):
		return "bad_arguments"
	case errors.As(err, &procErr):
		return "process_error"
	default:
		return "error"
	}
}
