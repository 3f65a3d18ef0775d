package shell

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLocalRunnerRun(t *testing.T) {
	r := NewLocalRunner()

	res := r.Run(context.Background(), "echo", "hello")
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Stdout != "hello" {
		t.Errorf("expected stdout 'hello', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestLocalRunnerRunMissingBinary(t *testing.T) {
	r := NewLocalRunner()

	res := r.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	if res.OK {
		t.Fatal("expected failure for missing binary")
	}
	if res.Error == "" {
		t.Error("expected Error to be set when the command cannot start")
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestLocalRunnerRunShell(t *testing.T) {
	r := NewLocalRunner()

	res := r.RunShell(context.Background(), "echo one && echo two")
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Stdout != "one\ntwo" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
}

func TestLocalRunnerExitCode(t *testing.T) {
	r := NewLocalRunner()

	res := r.RunShell(context.Background(), "exit 3")
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.Error != "" {
		t.Errorf("exit errors should not set Error, got %q", res.Error)
	}
}

func TestLocalRunnerLookPath(t *testing.T) {
	r := NewLocalRunner()

	if !r.LookPath("sh") {
		t.Error("expected sh on PATH")
	}
	if r.LookPath("definitely-not-a-real-binary-xyz") {
		t.Error("expected lookup miss")
	}
}

func TestLocalFS(t *testing.T) {
	f := NewLocalFS()
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	if f.Exists(path) {
		t.Fatal("file should not exist yet")
	}
	if err := f.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := f.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !f.Exists(path) {
		t.Fatal("file should exist after write")
	}

	link := filepath.Join(dir, "link")
	if err := f.Symlink(path, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if !f.Exists(link) {
		t.Fatal("symlink should resolve")
	}

	if err := f.Remove(link); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if f.Exists(path) {
		t.Fatal("file should be gone")
	}
}
