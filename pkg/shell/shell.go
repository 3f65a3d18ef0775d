// Package shell abstracts command execution and file manipulation so the
// same component drivers can provision the local host or a remote one.
package shell

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// Result captures the outcome of a single command invocation.
type Result struct {
	// OK is true when the command ran and exited zero.
	OK bool `json:"ok"`

	// ExitCode is the process exit code, or -1 when the command could not run.
	ExitCode int `json:"exit_code"`

	// Stdout is the trimmed standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the trimmed standard error.
	Stderr string `json:"stderr,omitempty"`

	// Error is set when the command could not be started or was interrupted.
	Error string `json:"error,omitempty"`
}

// Runner executes commands on a target host.
type Runner interface {
	// Run executes a command with discrete arguments.
	Run(ctx context.Context, name string, args ...string) Result

	// RunShell executes a full shell command line (needed for compound
	// package-manager invocations like "apt-get update && apt-get install").
	RunShell(ctx context.Context, cmdline string) Result

	// LookPath reports whether an executable is available on the target.
	LookPath(name string) bool
}

// FileSystem performs the file operations drivers need on a target host.
type FileSystem interface {
	WriteFile(path string, data []byte, mode fs.FileMode) error
	MkdirAll(path string, mode fs.FileMode) error
	Symlink(oldname, newname string) error
	Remove(path string) error
	RemoveAll(path string) error
	Exists(path string) bool
}

// LocalRunner runs commands on the local host via os/exec.
type LocalRunner struct{}

// NewLocalRunner returns a Runner for the local host.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes a command and captures its output.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	return capture(cmd)
}

// RunShell executes a command line through /bin/sh.
func (r *LocalRunner) RunShell(ctx context.Context, cmdline string) Result {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	return capture(cmd)
}

// LookPath reports whether name resolves on PATH.
func (r *LocalRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func capture(cmd *exec.Cmd) Result {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		OK:       err == nil,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			res.Error = err.Error()
		}
	}
	return res
}

// LocalFS implements FileSystem on the local host.
type LocalFS struct{}

// NewLocalFS returns a FileSystem backed by the os package.
func NewLocalFS() *LocalFS {
	return &LocalFS{}
}

func (f *LocalFS) WriteFile(path string, data []byte, mode fs.FileMode) error {
	return os.WriteFile(path, data, mode)
}

func (f *LocalFS) MkdirAll(path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode)
}

func (f *LocalFS) Symlink(oldname, newname string) error {
	return os.Symlink(oldname, newname)
}

func (f *LocalFS) Remove(path string) error {
	return os.Remove(path)
}

func (f *LocalFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (f *LocalFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
