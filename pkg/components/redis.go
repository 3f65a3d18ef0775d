package components

import "context"

// RedisDriver manages the Redis cache engine.
type RedisDriver struct {
	packaged
}

// NewRedisDriver returns the cache component driver. The probe looks for
// redis-server, not redis-cli: the CLI ships standalone in redis-tools and
// its presence says nothing about the server.
func NewRedisDriver(deps Deps) *RedisDriver {
	return &RedisDriver{packaged: packaged{
		deps:      deps,
		component: Cache,
		pkgName:   "redis",
		probe:     "redis-server",
		installBy: map[string]pkgCommand{
			"apt":    {line: "apt-get update && apt-get install -y redis-server", compound: true},
			"dnf":    {line: "dnf install -y redis"},
			"yum":    {line: "yum install -y redis"},
			"pacman": {line: "pacman -Sy --noconfirm redis"},
			"apk":    {line: "apk add redis"},
			"brew":   {line: "brew install redis"},
			"choco":  {line: "choco install redis-64 -y"},
			"winget": {line: "winget install --id Redis.Redis -e"},
		},
		removeBy: map[string]pkgCommand{
			"apt":    {line: "apt-get remove -y redis-server"},
			"dnf":    {line: "dnf remove -y redis"},
			"yum":    {line: "yum remove -y redis"},
			"pacman": {line: "pacman -Rns --noconfirm redis"},
		},
	}}
}

// Install installs Redis through the detected package manager. An already
// present server still gets a best-effort service enable+start so a stopped
// instance comes back up.
func (d *RedisDriver) Install(ctx context.Context, opts InstallOptions) Result {
	if d.IsInstalled(ctx) && !opts.DryRun {
		out := Result{Installed: true, Skipped: true, Message: "redis-server already available"}
		d.startService(ctx, &out)
		return out
	}
	return d.install(ctx, opts)
}

// Uninstall stops and disables the service, and removes packages when data
// preservation is off.
func (d *RedisDriver) Uninstall(ctx context.Context, opts UninstallOptions) Result {
	return d.uninstall(ctx, opts)
}
