package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// BootstrapResult reports the outcome of the admin-account bootstrap.
type BootstrapResult struct {
	Created bool   `json:"created"`
	Reason  string `json:"reason,omitempty"`
	Email   string `json:"email,omitempty"`

	// GeneratedPassword is set only when no password was supplied and an
	// account was created. It is returned exactly once and not re-derivable.
	GeneratedPassword string `json:"-"`
}

// AdminStore is the narrow slice of the panel's user storage the bootstrap
// touches. The production implementation speaks PostgreSQL via pgx; tests
// substitute fakes.
type AdminStore interface {
	// HasAdmin reports whether any administrative account exists.
	HasAdmin(ctx context.Context) (bool, error)

	// FindUserID returns the id of the user with the given email, if any.
	FindUserID(ctx context.Context, email string) (string, bool, error)

	// PromoteUser makes an existing user an administrator with the given
	// password hash.
	PromoteUser(ctx context.Context, id, passwordHash string) error

	// CreateAdmin inserts a new administrative account.
	CreateAdmin(ctx context.Context, id, email, name, passwordHash string) error

	Close(ctx context.Context) error
}

// BootstrapRequest carries the admin bootstrap parameters.
type BootstrapRequest struct {
	Email    string
	Name     string
	Password string
}

// EnsureAdmin makes sure the panel has exactly one administrative account.
// If any admin already exists this is a no-op; otherwise it promotes a user
// matched by email or creates a fresh account. A missing password is
// generated against the complexity policy and returned in the result.
func EnsureAdmin(ctx context.Context, store AdminStore, req BootstrapRequest) (BootstrapResult, error) {
	exists, err := store.HasAdmin(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("check for existing admin: %w", err)
	}
	if exists {
		return BootstrapResult{Created: false, Reason: "admin_exists"}, nil
	}

	email := req.Email
	if email == "" {
		email = "admin@localhost"
	}
	name := req.Name
	if name == "" {
		name = "Administrator"
	}

	password := req.Password
	generated := ""
	if password == "" {
		password, err = GeneratePassword()
		if err != nil {
			return BootstrapResult{}, fmt.Errorf("generate admin password: %w", err)
		}
		generated = password
	} else if err := ValidatePassword(password); err != nil {
		return BootstrapResult{}, fmt.Errorf("admin password rejected: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("hash admin password: %w", err)
	}

	if id, ok, err := store.FindUserID(ctx, email); err != nil {
		return BootstrapResult{}, fmt.Errorf("look up user %s: %w", email, err)
	} else if ok {
		if err := store.PromoteUser(ctx, id, string(hash)); err != nil {
			return BootstrapResult{}, fmt.Errorf("promote user %s: %w", email, err)
		}
		return BootstrapResult{Created: true, Reason: "promoted", Email: email, GeneratedPassword: generated}, nil
	}

	if err := store.CreateAdmin(ctx, uuid.NewString(), email, name, string(hash)); err != nil {
		return BootstrapResult{}, fmt.Errorf("create admin %s: %w", email, err)
	}
	return BootstrapResult{Created: true, Reason: "created", Email: email, GeneratedPassword: generated}, nil
}

// pgxAdminStore is the PostgreSQL implementation of AdminStore.
type pgxAdminStore struct {
	conn *pgx.Conn
}

// OpenAdminStore connects to the panel database.
func OpenAdminStore(ctx context.Context, databaseURL string) (AdminStore, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to panel database: %w", err)
	}
	return &pgxAdminStore{conn: conn}, nil
}

func (s *pgxAdminStore) HasAdmin(ctx context.Context) (bool, error) {
	var count int
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE role = 'system_admin'`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *pgxAdminStore) FindUserID(ctx context.Context, email string) (string, bool, error) {
	var id string
	err := s.conn.QueryRow(ctx,
		`SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *pgxAdminStore) PromoteUser(ctx context.Context, id, passwordHash string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE users SET role = 'system_admin', password_hash = $2 WHERE id = $1`,
		id, passwordHash)
	return err
}

func (s *pgxAdminStore) CreateAdmin(ctx context.Context, id, email, name, passwordHash string) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4, 'system_admin')`,
		id, email, name, passwordHash)
	return err
}

func (s *pgxAdminStore) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
