package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Process is a running engine.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	// It is called once, after Stdout has been read to EOF.
	Wait() (int, error)
	Kill() error
}

// Launcher starts a new engine process.
type Launcher func(ctx context.Context) (Process, error)

// ExecLauncher starts path as a subprocess with the inherited environment.
func ExecLauncher(path string, args []string, dir string) Launcher {
	return func(_ context.Context) (Process, error) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}

		// Not CommandContext: the engine outlives the call that started it.
		cmd := exec.Command(resolved, args...)
		cmd.Dir = dir
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}
		if err := cmd.Start(); err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}

		return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return code, err
}

// Kill sends SIGKILL, returning nil if the process has already exited.
func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
