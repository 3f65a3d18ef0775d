package components

import (
	"context"
	"fmt"
	"strings"
)

// PostgresDriver manages the PostgreSQL database engine.
type PostgresDriver struct {
	packaged
}

// NewPostgresDriver returns the database component driver.
func NewPostgresDriver(deps Deps) *PostgresDriver {
	return &PostgresDriver{packaged: packaged{
		deps:      deps,
		component: Database,
		pkgName:   "postgresql",
		probe:     "psql",
		installBy: map[string]pkgCommand{
			"apt":    {line: "apt-get update && apt-get install -y postgresql postgresql-contrib", compound: true},
			"dnf":    {line: "dnf install -y postgresql-server postgresql-contrib"},
			"yum":    {line: "yum install -y postgresql-server postgresql-contrib"},
			"pacman": {line: "pacman -Sy --noconfirm postgresql"},
			"apk":    {line: "apk add postgresql postgresql-contrib"},
			"brew":   {line: "brew install postgresql"},
			"choco":  {line: "choco install postgresql -y"},
			"winget": {line: "winget install --id PostgreSQL -e"},
		},
		removeBy: map[string]pkgCommand{
			"apt":    {line: "apt-get remove -y postgresql postgresql-contrib"},
			"dnf":    {line: "dnf remove -y postgresql-server"},
			"yum":    {line: "yum remove -y postgresql-server"},
			"pacman": {line: "pacman -Rns --noconfirm postgresql"},
		},
	}}
}

// Install installs PostgreSQL through the detected package manager.
func (d *PostgresDriver) Install(ctx context.Context, opts InstallOptions) Result {
	return d.install(ctx, opts)
}

// Uninstall stops and disables the service, and removes packages when data
// preservation is off.
func (d *PostgresDriver) Uninstall(ctx context.Context, opts UninstallOptions) Result {
	return d.uninstall(ctx, opts)
}

// SetupDatabase idempotently creates the application role and database using
// the postgres OS superuser. Statement failures for pre-existing objects are
// tolerated.
func (d *PostgresDriver) SetupDatabase(ctx context.Context, dbName, dbUser, dbPass string) Result {
	createUser := fmt.Sprintf("CREATE USER %s;", dbUser)
	if dbPass != "" {
		createUser = fmt.Sprintf("CREATE USER %s WITH PASSWORD '%s';", dbUser, dbPass)
	}
	createDB := fmt.Sprintf("CREATE DATABASE %s OWNER %s;", dbName, dbUser)

	userRes := d.deps.Runner.Run(ctx, "sudo", "-u", "postgres", "psql", "-c", createUser)
	dbRes := d.deps.Runner.Run(ctx, "sudo", "-u", "postgres", "psql", "-c", createDB)

	if !userRes.OK && !alreadyExists(userRes.Stderr) {
		return Result{Error: userRes.Stderr, Command: createUser}
	}
	if !dbRes.OK && !alreadyExists(dbRes.Stderr) {
		return Result{Error: dbRes.Stderr, Command: createDB}
	}
	return Result{Installed: true, Message: fmt.Sprintf("database %s owned by %s ready", dbName, dbUser)}
}

// VerifyConnection checks that the application role can reach its database.
func (d *PostgresDriver) VerifyConnection(ctx context.Context, dbName, dbUser, dbPass, host, port string) Result {
	res := d.deps.Runner.RunShell(ctx, fmt.Sprintf(
		"PGPASSWORD='%s' psql -h %s -p %s -U %s -d %s -c 'SELECT 1'",
		dbPass, host, port, dbUser, dbName,
	))
	if !res.OK {
		msg := res.Stderr
		if msg == "" {
			msg = res.Error
		}
		return Result{Error: msg}
	}
	return Result{Installed: true}
}

func alreadyExists(stderr string) bool {
	return strings.Contains(stderr, "already exists")
}
