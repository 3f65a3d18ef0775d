// Package hostenv detects what the target host looks like: OS family,
// architecture, privilege level, available package manager and service
// manager. Everything here is best-effort probing; absence of evidence is
// reported as absence, never as an error.
package hostenv

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/opsforge/opsforge/pkg/shell"
)

// Info describes the host an orchestration run targets. It is captured on
// recorded actions for diagnostics only and never gates rollback logic.
type Info struct {
	// OSFamily is the GOOS-style family name (linux, darwin, windows).
	OSFamily string `json:"os_family"`

	// Arch is the machine architecture (amd64, arm64, ...).
	Arch string `json:"architecture"`

	// PackageManager is the detected system package manager, empty when none
	// was found.
	PackageManager string `json:"package_manager,omitempty"`

	// Privileged is true when the process already has elevated rights.
	Privileged bool `json:"privileged"`
}

// packageManagers maps manager names to the binary probed for, in order of
// preference.
var packageManagers = []struct {
	name string
	bin  string
}{
	{"apt", "apt-get"},
	{"dnf", "dnf"},
	{"yum", "yum"},
	{"pacman", "pacman"},
	{"apk", "apk"},
	{"brew", "brew"},
	{"choco", "choco"},
	{"winget", "winget"},
}

// Detect probes the local host through the given runner.
func Detect(r shell.Runner) Info {
	return detect(r, runtime.GOOS, runtime.GOARCH)
}

// DetectRemote probes a host the runner reaches over a transport. Unlike
// Detect, everything including OS family, architecture and privilege comes
// from commands run through the runner, never from the local process.
func DetectRemote(r shell.Runner) Info {
	goos, arch := remoteOS(r)
	return Info{
		OSFamily:       goos,
		Arch:           arch,
		PackageManager: DetectPackageManager(r),
		Privileged:     remotePrivileged(r, goos),
	}
}

// remoteOS resolves the target's OS family and architecture via uname. A
// host without uname is assumed to be Windows.
func remoteOS(r shell.Runner) (goos, arch string) {
	res := r.Run(context.Background(), "uname", "-s")
	if !res.OK {
		return "windows", "amd64"
	}
	switch kernel := strings.ToLower(strings.TrimSpace(res.Stdout)); kernel {
	case "linux":
		goos = "linux"
	case "darwin":
		goos = "darwin"
	default:
		goos = kernel
	}

	arch = "amd64"
	if res := r.Run(context.Background(), "uname", "-m"); res.OK {
		switch m := strings.TrimSpace(res.Stdout); m {
		case "x86_64", "amd64":
			arch = "amd64"
		case "aarch64", "arm64":
			arch = "arm64"
		case "armv7l", "armv6l":
			arch = "arm"
		case "i686", "i386":
			arch = "386"
		default:
			arch = m
		}
	}
	return goos, arch
}

func remotePrivileged(r shell.Runner, goos string) bool {
	if goos == "windows" {
		return r.Run(context.Background(), "net", "session").OK
	}
	res := r.Run(context.Background(), "id", "-u")
	return res.OK && strings.TrimSpace(res.Stdout) == "0"
}

func detect(r shell.Runner, goos, arch string) Info {
	return Info{
		OSFamily:       goos,
		Arch:           arch,
		PackageManager: DetectPackageManager(r),
		Privileged:     isPrivileged(r, goos),
	}
}

// DetectPackageManager returns the first available package manager, or the
// empty string when the host has none we know about.
func DetectPackageManager(r shell.Runner) string {
	for _, pm := range packageManagers {
		if r.LookPath(pm.bin) {
			return pm.name
		}
	}
	return ""
}

// IsPrivileged reports whether the current process has elevated rights.
func IsPrivileged(r shell.Runner) bool {
	return isPrivileged(r, runtime.GOOS)
}

func isPrivileged(r shell.Runner, goos string) bool {
	if goos == "windows" {
		// "net session" succeeds only in an elevated shell.
		res := r.Run(context.Background(), "net", "session")
		return res.OK
	}
	return os.Geteuid() == 0
}

// CheckPrereqs probes for OS-level tooling the orchestrator depends on and
// returns a map of missing tool -> "missing". An empty map means all
// prerequisites are satisfied.
func CheckPrereqs(r shell.Runner) map[string]string {
	return checkPrereqs(r, runtime.GOOS)
}

func checkPrereqs(r shell.Runner, goos string) map[string]string {
	missing := map[string]string{}

	if DetectPackageManager(r) == "" {
		missing["package-manager"] = "missing"
	}

	switch goos {
	case "linux":
		if !r.LookPath("systemctl") {
			missing["systemctl"] = "missing"
		}
	case "darwin":
		if !r.LookPath("launchctl") {
			missing["launchctl"] = "missing"
		}
	}

	return missing
}
