package components

import (
	"context"
	"fmt"
	"path/filepath"
)

// NginxDriver manages the nginx reverse proxy.
type NginxDriver struct {
	packaged

	// Config layout roots, overridable for tests. Debian's
	// sites-available/sites-enabled pair is preferred when present.
	SitesAvailable string
	SitesEnabled   string
	ConfDir        string
}

// NewNginxDriver returns the proxy component driver.
func NewNginxDriver(deps Deps) *NginxDriver {
	return &NginxDriver{
		packaged: packaged{
			deps:      deps,
			component: Proxy,
			pkgName:   "nginx",
			probe:     "nginx",
			installBy: map[string]pkgCommand{
				"apt":    {line: "apt-get update && apt-get install -y nginx", compound: true},
				"dnf":    {line: "dnf install -y nginx"},
				"yum":    {line: "yum install -y nginx"},
				"pacman": {line: "pacman -Sy --noconfirm nginx"},
				"apk":    {line: "apk add nginx"},
				"brew":   {line: "brew install nginx"},
				"choco":  {line: "choco install nginx -y"},
				"winget": {line: "winget install --id nginx -e"},
			},
			removeBy: map[string]pkgCommand{
				"apt":    {line: "apt-get remove -y nginx"},
				"dnf":    {line: "dnf remove -y nginx"},
				"yum":    {line: "yum remove -y nginx"},
				"pacman": {line: "pacman -Rns --noconfirm nginx"},
			},
		},
		SitesAvailable: "/etc/nginx/sites-available",
		SitesEnabled:   "/etc/nginx/sites-enabled",
		ConfDir:        "/etc/nginx/conf.d",
	}
}

// Install installs nginx through the detected package manager.
func (d *NginxDriver) Install(ctx context.Context, opts InstallOptions) Result {
	return d.install(ctx, opts)
}

// Uninstall stops and disables the service, and removes packages when data
// preservation is off.
func (d *NginxDriver) Uninstall(ctx context.Context, opts UninstallOptions) Result {
	return d.uninstall(ctx, opts)
}

// ProxySite describes the vhost that fronts the panel.
type ProxySite struct {
	Domain       string
	UpstreamHost string
	UpstreamPort int
	ListenPort   int
	DryRun       bool
	Elevate      bool
}

// configPaths picks the vhost file location: sites-available plus an enable
// symlink on Debian-style layouts, conf.d elsewhere.
func (d *NginxDriver) configPaths() (cfg, enable string) {
	if d.deps.FS.Exists(d.SitesAvailable) && d.deps.FS.Exists(d.SitesEnabled) {
		return filepath.Join(d.SitesAvailable, "forge-panel.conf"), filepath.Join(d.SitesEnabled, "forge-panel.conf")
	}
	return filepath.Join(d.ConfDir, "forge-panel.conf"), ""
}

// ConfigureReverseProxy writes a vhost proxying the listen port to the panel
// upstream, validates it with nginx -t and reloads nginx. WebSocket upgrade
// headers are included for the panel's socket traffic.
func (d *NginxDriver) ConfigureReverseProxy(ctx context.Context, site ProxySite) Result {
	if d.deps.GOOS != "linux" && d.deps.GOOS != "darwin" {
		return Result{Error: "nginx config automation not supported on this OS"}
	}
	if !site.Elevate {
		return Result{
			Error: "elevation required to write nginx config",
			Hint:  "Re-run with elevation or configure nginx manually",
		}
	}

	domain := site.Domain
	if domain == "" {
		domain = "localhost"
	}
	if site.UpstreamHost == "" {
		site.UpstreamHost = "127.0.0.1"
	}
	if site.UpstreamPort == 0 {
		site.UpstreamPort = 8080
	}
	if site.ListenPort == 0 {
		site.ListenPort = 80
	}

	cfgPath, enablePath := d.configPaths()
	upstream := fmt.Sprintf("%s:%d", site.UpstreamHost, site.UpstreamPort)

	content := fmt.Sprintf(`# Managed by forge
server {
    listen %d;
    server_name %s;

    location / {
        proxy_pass http://%s;
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;

        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`, site.ListenPort, domain, upstream)

	if site.DryRun {
		return Result{Installed: true, Skipped: true, Path: cfgPath, Command: "write " + cfgPath, Message: "dry-run"}
	}

	if err := d.deps.FS.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return Result{Error: err.Error(), Path: cfgPath}
	}
	if err := d.deps.FS.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		return Result{Error: err.Error(), Path: cfgPath}
	}

	if enablePath != "" {
		if d.deps.FS.Exists(enablePath) {
			_ = d.deps.FS.Remove(enablePath)
		}
		if err := d.deps.FS.Symlink(cfgPath, enablePath); err != nil {
			return Result{Error: fmt.Sprintf("failed to enable nginx site: %v", err), Path: cfgPath}
		}
	}

	// Validate before touching the running instance.
	if res := d.deps.Runner.Run(ctx, "nginx", "-t"); !res.OK {
		return Result{Error: "nginx config test failed: " + res.Stderr, Path: cfgPath}
	}

	reloaded := false
	if res := d.deps.Runner.Run(ctx, "systemctl", "reload", "nginx"); res.OK {
		reloaded = true
	} else if res := d.deps.Runner.Run(ctx, "nginx", "-s", "reload"); res.OK {
		reloaded = true
	}

	out := Result{Installed: true, Path: cfgPath, Message: "reverse proxy configured for " + domain}
	if !reloaded {
		out.ServiceError = "nginx reload failed"
	}
	return out
}
