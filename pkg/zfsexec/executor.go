// Runs the zfs command line tool as child processes. Two shapes: small metadata commands
// are fully buffered (Future), send/receive streams go through pipes with blocking I/O.
package zfsexec

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"

	"github.com/function61/gokit/logex"
)

const (
	DefaultBinary = "zfs"

	stderrLinesRetained = 8
)

type Executor interface {
	// stdout on exit code 0. ErrCommandFailed on 1, ErrBadArguments on 2, *ProcessError otherwise
	RunAsync(args ...string) *Future
	// never fails. failures are logged. stdout & stderr are merged
	RunBestEffort(args ...string)
	// Close() closes the pipe, waits for the process and returns its classified exit result
	OpenReader(args ...string) (io.ReadCloser, error)
	OpenWriter(args ...string) (io.WriteCloser, error)
}

// gets notified of each finished command, for metrics
type Observer interface {
	CommandFinished(subcommand string, err error)
}

type CommandExecutor struct {
	binary   string
	observer Observer
	logl     *logex.Leveled
}

var _ Executor = (*CommandExecutor)(nil)

// binary is usually DefaultBinary. observer can be nil
func New(binary string, observer Observer, logger *log.Logger) *CommandExecutor {
	if binary == "" {
		binary = DefaultBinary
	}

	return &CommandExecutor{
		binary:   binary,
		observer: observer,
		logl:     logex.Levels(logex.NonNil(logger)),
	}
}

// blocking convenience over RunAsync()
func Run(e Executor, args ...string) ([]byte, error) {
	return e.RunAsync(args...).Wait()
}

func (e *CommandExecutor) RunAsync(args ...string) *Future {
	future := newFuture()

	stdout := &bytes.Buffer{}

	//nolint:gosec // ok
	cmd := exec.Command(e.binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = newStderrTail(stderrLinesRetained, e.stderrLogger(args))

	if err := cmd.Start(); err != nil {
		future.resolve(nil, e.finished(args, classify(args, err)))
		return future
	}

	go func() {
		if err := e.finished(args, classify(args, cmd.Wait())); err != nil {
			future.resolve(nil, err)
		} else {
			future.resolve(stdout.Bytes(), nil)
		}
	}()

	return future
}

func (e *CommandExecutor) RunBestEffort(args ...string) {
	//nolint:gosec // ok
	output, err := exec.Command(e.binary, args...).CombinedOutput()
	e.finished(args, classify(args, err))
	if err == nil {
		return
	}

	status := 1
	if exitErr, is := err.(*exec.ExitError); is {
		status = exitErr.ExitCode()
	} else {
		output = []byte(err.Error())
	}

	e.logl.Error.Printf(
		"event=filesystem:zfs:error zfs_command=%q output=%q status=%d",
		strings.Join(append([]string{e.binary}, args...), " "),
		output,
		status)
}

func (e *CommandExecutor) OpenReader(args ...string) (io.ReadCloser, error) {
	//nolint:gosec // ok
	cmd := exec.Command(e.binary, args...)
	stderr := newStderrTail(stderrLinesRetained, e.stderrLogger(args))
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, e.finished(args, classify(args, err))
	}

	if err := cmd.Start(); err != nil {
		return nil, e.finished(args, classify(args, err))
	}

	return &readerPipe{
		ReadCloser: stdout,
		process:    e.newProcess(cmd, args, stderr),
	}, nil
}

func (e *CommandExecutor) OpenWriter(args ...string) (io.WriteCloser, error) {
	//nolint:gosec // ok
	cmd := exec.Command(e.binary, args...)
	stderr := newStderrTail(stderrLinesRetained, e.stderrLogger(args))
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, e.finished(args, classify(args, err))
	}

	if err := cmd.Start(); err != nil {
		return nil, e.finished(args, classify(args, err))
	}

	return &writerPipe{
		WriteCloser: stdin,
		process:     e.newProcess(cmd, args, stderr),
	}, nil
}

func (e *CommandExecutor) finished(args []string, err error) error {
	if e.observer != nil {
		e.observer.CommandFinished(subcommandOf(args), err)
	}

	return err
}

func (e *CommandExecutor) stderrLogger(args []string) func(string) {
	sub := subcommandOf(args)

	return func(line string) {
		e.logl.Debug.Printf("zfs %s stderr: %s", sub, line)
	}
}

func (e *CommandExecutor) newProcess(cmd *exec.Cmd, args []string, stderr *stderrTail) *process {
	return &process{cmd: cmd, args: args, stderr: stderr, executor: e}
}

// a started child process whose one pipe we own. reaped exactly once
type process struct {
	cmd      *exec.Cmd
	args     []string
	stderr   *stderrTail
	executor *CommandExecutor

	once   sync.Once
	result error
}

// closes our end of the pipe and waits for the process to exit. subsequent calls return
// the same result without touching the process again
func (p *process) release(pipe io.Closer) error {
	p.once.Do(func() {
		_ = pipe.Close() // Wait() would close it too, but the child needs to see EOF/EPIPE first

		err := classify(p.args, p.cmd.Wait())

		var procErr *ProcessError
		if errors.As(err, &procErr) {
			procErr.Stderr = p.stderr.Snapshot()
		}

		p.result = p.executor.finished(p.args, err)
	})

	return p.result
}

type readerPipe struct {
	io.ReadCloser
	process *process
}

func (r *readerPipe) Close() error {
	return r.process.release(r.ReadCloser)
}

type writerPipe struct {
	io.WriteCloser
	process *process
}

func (w *writerPipe) Close() error {
	return w.process.release(w.WriteCloser)
}

// "list -H -r ..." => "list"
func subcommandOf(args []string) string {
	if len(args) == 0 {
		return ""
	}

	return args[0]
}
