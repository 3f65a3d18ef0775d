// Package config loads and validates the install profile. Profiles are YAML
// documents; a handful of sensitive or machine-specific values can come from
// the environment instead.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Profile is the full install profile.
type Profile struct {
	// Domain is the public hostname the proxy serves. Empty means localhost.
	Domain string `yaml:"domain" env:"FORGE_DOMAIN"`

	// Components lists what to install. Empty means all installable
	// components in canonical order.
	Components []string `yaml:"components" validate:"dive,oneof=database cache proxy runtime"`

	Database  DatabaseConfig  `yaml:"database"`
	Admin     AdminConfig     `yaml:"admin"`
	App       AppConfig       `yaml:"app"`
	Paths     PathsConfig     `yaml:"paths"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig names the panel's database objects.
type DatabaseConfig struct {
	Name     string `yaml:"name" env:"FORGE_DB_NAME" envDefault:"forge_panel" validate:"required"`
	User     string `yaml:"user" env:"FORGE_DB_USER" envDefault:"forge" validate:"required"`
	Password string `yaml:"password" env:"FORGE_DB_PASSWORD"`
	Host     string `yaml:"host" env:"FORGE_DB_HOST" envDefault:"127.0.0.1"`
	Port     int    `yaml:"port" env:"FORGE_DB_PORT" envDefault:"5432" validate:"min=1,max=65535"`
}

// URL renders the database connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

// AdminConfig describes the bootstrap administrator account.
type AdminConfig struct {
	Email    string `yaml:"email" env:"FORGE_ADMIN_EMAIL" envDefault:"admin@localhost" validate:"required,email"`
	Name     string `yaml:"name" env:"FORGE_ADMIN_NAME" envDefault:"Administrator"`
	Password string `yaml:"password" env:"FORGE_ADMIN_PASSWORD"`
}

// AppConfig describes the panel application the installer fronts.
type AppConfig struct {
	// Port is the panel's upstream HTTP port behind the proxy.
	Port int `yaml:"port" env:"FORGE_APP_PORT" envDefault:"8080" validate:"min=1,max=65535"`

	// ExecStart is the command line the service unit runs.
	ExecStart string `yaml:"execStart" env:"FORGE_APP_EXEC"`

	// WorkingDir is the unit's working directory.
	WorkingDir string `yaml:"workingDir" env:"FORGE_APP_DIR" envDefault:"/opt/forge"`

	// AutoStart enables the app unit step after install.
	AutoStart bool `yaml:"autoStart" env:"FORGE_APP_AUTOSTART"`

	// SecretKey signs panel sessions; generated when empty.
	SecretKey string `yaml:"secretKey" env:"FORGE_SECRET_KEY"`
}

// TelemetryConfig toggles the optional observability surfaces. Both are off
// by default; installs are short-lived so traces go to stdout and metrics
// are served only while a run is in flight.
type TelemetryConfig struct {
	Tracing       bool   `yaml:"tracing" env:"FORGE_TRACING"`
	Metrics       bool   `yaml:"metrics" env:"FORGE_METRICS"`
	MetricsListen string `yaml:"metricsListen" env:"FORGE_METRICS_LISTEN" envDefault:":9090"`
}

// PathsConfig overrides filesystem locations, mostly for tests.
type PathsConfig struct {
	State   string `yaml:"state" env:"FORGE_STATE_PATH"`
	Venv    string `yaml:"venv" env:"FORGE_VENV_PATH"`
	EnvFile string `yaml:"envFile" env:"FORGE_ENV_FILE"`
	History string `yaml:"history" env:"FORGE_HISTORY_PATH"`
}

// Default returns a profile with environment-derived defaults applied.
func Default() (*Profile, error) {
	p := &Profile{}
	if err := env.Parse(p); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return p, nil
}

// Load reads a YAML profile from path, layers environment values over it and
// validates the result. An empty path yields the environment defaults alone.
func Load(path string) (*Profile, error) {
	p := &Profile{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}

	// Environment fills gaps and supplies defaults; YAML wins when set.
	defaults := &Profile{}
	if err := env.Parse(defaults); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	merge(p, defaults)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile against its struct tags.
func (p *Profile) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return nil
}

func merge(dst, src *Profile) {
	if dst.Domain == "" {
		dst.Domain = src.Domain
	}
	if dst.Database.Name == "" {
		dst.Database.Name = src.Database.Name
	}
	if dst.Database.User == "" {
		dst.Database.User = src.Database.User
	}
	if dst.Database.Password == "" {
		dst.Database.Password = src.Database.Password
	}
	if dst.Database.Host == "" {
		dst.Database.Host = src.Database.Host
	}
	if dst.Database.Port == 0 {
		dst.Database.Port = src.Database.Port
	}
	if dst.Admin.Email == "" {
		dst.Admin.Email = src.Admin.Email
	}
	if dst.Admin.Name == "" {
		dst.Admin.Name = src.Admin.Name
	}
	if dst.Admin.Password == "" {
		dst.Admin.Password = src.Admin.Password
	}
	if dst.App.Port == 0 {
		dst.App.Port = src.App.Port
	}
	if dst.App.ExecStart == "" {
		dst.App.ExecStart = src.App.ExecStart
	}
	if dst.App.WorkingDir == "" {
		dst.App.WorkingDir = src.App.WorkingDir
	}
	if !dst.App.AutoStart {
		dst.App.AutoStart = src.App.AutoStart
	}
	if dst.App.SecretKey == "" {
		dst.App.SecretKey = src.App.SecretKey
	}
	if dst.Paths.State == "" {
		dst.Paths.State = src.Paths.State
	}
	if dst.Paths.Venv == "" {
		dst.Paths.Venv = src.Paths.Venv
	}
	if dst.Paths.EnvFile == "" {
		dst.Paths.EnvFile = src.Paths.EnvFile
	}
	if dst.Paths.History == "" {
		dst.Paths.History = src.Paths.History
	}
	if !dst.Telemetry.Tracing {
		dst.Telemetry.Tracing = src.Telemetry.Tracing
	}
	if !dst.Telemetry.Metrics {
		dst.Telemetry.Metrics = src.Telemetry.Metrics
	}
	if dst.Telemetry.MetricsListen == "" {
		dst.Telemetry.MetricsListen = src.Telemetry.MetricsListen
	}
}
