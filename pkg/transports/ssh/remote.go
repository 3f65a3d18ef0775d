package ssh

import (
	"context"
	"io/fs"
	"strings"

	"github.com/opsforge/opsforge/pkg/shell"
)

// Runner implements shell.Runner over an SSH connection.
type Runner struct {
	client *Client
}

// NewRunner wraps a connected client as a shell.Runner.
func NewRunner(client *Client) *Runner {
	return &Runner{client: client}
}

// Run executes a command with discrete arguments, quoting each for the
// remote shell.
func (r *Runner) Run(ctx context.Context, name string, args ...string) shell.Result {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(name))
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	return r.RunShell(ctx, strings.Join(parts, " "))
}

// RunShell executes a full command line on the remote host.
func (r *Runner) RunShell(ctx context.Context, cmdline string) shell.Result {
	stdout, stderr, exitCode, err := r.client.run(ctx, cmdline)
	res := shell.Result{
		OK:       err == nil,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}
	if err != nil && exitCode < 0 {
		res.Error = err.Error()
	}
	return res
}

// LookPath reports whether an executable resolves on the remote PATH.
func (r *Runner) LookPath(name string) bool {
	res := r.RunShell(context.Background(), "command -v "+quote(name))
	return res.OK
}

// quote wraps s in single quotes for POSIX shells, escaping embedded quotes.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>()*?[]#~%!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// FS implements shell.FileSystem over SFTP.
type FS struct {
	client *Client
}

// NewFS wraps a connected client as a shell.FileSystem.
func NewFS(client *Client) *FS {
	return &FS{client: client}
}

func (f *FS) WriteFile(path string, data []byte, mode fs.FileMode) error {
	file, err := f.client.sftp.Create(path)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return f.client.sftp.Chmod(path, mode)
}

func (f *FS) MkdirAll(path string, _ fs.FileMode) error {
	return f.client.sftp.MkdirAll(path)
}

func (f *FS) Symlink(oldname, newname string) error {
	return f.client.sftp.Symlink(oldname, newname)
}

func (f *FS) Remove(path string) error {
	return f.client.sftp.Remove(path)
}

func (f *FS) RemoveAll(path string) error {
	return f.client.sftp.RemoveAll(path)
}

func (f *FS) Exists(path string) bool {
	_, err := f.client.sftp.Stat(path)
	return err == nil
}
