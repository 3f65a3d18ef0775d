package hostenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/shell"
)

// exit is swapped out in tests.
var exit = os.Exit

// ErrNoElevator is returned when no elevation helper exists on the host.
var ErrNoElevator = fmt.Errorf("no elevation helper found (pkexec/sudo); re-run as root or install a polkit agent")

// Elevate re-runs the current process with elevated rights using the first
// available helper for the OS family: a native run-as prompt on Windows,
// osascript on macOS, pkexec then sudo elsewhere.
//
// On success the elevated child runs to completion and the current process
// exits with its status; Elevate only returns on failure.
func Elevate(ctx context.Context, r shell.Runner) error {
	return elevate(ctx, r, runtime.GOOS)
}

func elevate(ctx context.Context, r shell.Runner, goos string) error {
	if isPrivileged(r, goos) {
		return nil
	}

	argv, err := elevatorCommand(r, goos)
	if err != nil {
		return err
	}

	log.Info().Strs("cmd", argv).Msg("re-executing with elevated rights")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exit(ee.ExitCode())
			return nil
		}
		return fmt.Errorf("failed to re-exec with %s: %w", argv[0], err)
	}
	exit(0)
	return nil
}

// elevatorCommand resolves the helper invocation that re-runs the current
// process elevated.
func elevatorCommand(r shell.Runner, goos string) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve own executable: %w", err)
	}
	args := os.Args[1:]

	switch goos {
	case "windows":
		if !r.LookPath("powershell") {
			return nil, fmt.Errorf("powershell not available for run-as elevation")
		}
		quoted := make([]string, 0, len(args))
		for _, a := range args {
			quoted = append(quoted, fmt.Sprintf("'%s'", a))
		}
		ps := fmt.Sprintf("Start-Process -Verb RunAs -Wait -FilePath '%s'", exe)
		if len(quoted) > 0 {
			ps += " -ArgumentList " + strings.Join(quoted, ",")
		}
		return []string{"powershell", "-NoProfile", "-Command", ps}, nil

	case "darwin":
		if !r.LookPath("osascript") {
			return nil, fmt.Errorf("osascript not available for administrator elevation")
		}
		parts := make([]string, 0, len(args)+1)
		parts = append(parts, shellQuote(exe))
		for _, a := range args {
			parts = append(parts, shellQuote(a))
		}
		script := fmt.Sprintf("do shell script %q with administrator privileges", strings.Join(parts, " "))
		return []string{"osascript", "-e", script}, nil

	default:
		for _, helper := range []string{"pkexec", "sudo"} {
			if r.LookPath(helper) {
				return append([]string{helper, exe}, args...), nil
			}
		}
		return nil, ErrNoElevator
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
