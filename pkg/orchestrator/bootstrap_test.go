package orchestrator

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/opsforge/opsforge/pkg/components"
)

type fakeAdminStore struct {
	hasAdmin bool
	users    map[string]string // email -> id

	promoted map[string]string // id -> hash
	created  []string          // emails
	hashes   map[string]string // email -> hash
	hasErr   error
	closed   bool
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		users:    map[string]string{},
		promoted: map[string]string{},
		hashes:   map[string]string{},
	}
}

func (f *fakeAdminStore) HasAdmin(_ context.Context) (bool, error) {
	return f.hasAdmin, f.hasErr
}

func (f *fakeAdminStore) FindUserID(_ context.Context, email string) (string, bool, error) {
	id, ok := f.users[email]
	return id, ok, nil
}

func (f *fakeAdminStore) PromoteUser(_ context.Context, id, hash string) error {
	f.promoted[id] = hash
	f.hasAdmin = true
	return nil
}

func (f *fakeAdminStore) CreateAdmin(_ context.Context, id, email, _, hash string) error {
	f.created = append(f.created, email)
	f.hashes[email] = hash
	f.hasAdmin = true
	return nil
}

func (f *fakeAdminStore) Close(_ context.Context) error {
	f.closed = true
	return nil
}

func TestEnsureAdminCreatesAccount(t *testing.T) {
	store := newFakeAdminStore()

	res, err := EnsureAdmin(context.Background(), store, BootstrapRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.Reason != "created" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Email != "admin@localhost" {
		t.Errorf("expected default email, got %q", res.Email)
	}
	if res.GeneratedPassword == "" {
		t.Fatal("expected a generated password")
	}
	if err := ValidatePassword(res.GeneratedPassword); err != nil {
		t.Errorf("generated password fails policy: %v", err)
	}

	hash := store.hashes["admin@localhost"]
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(res.GeneratedPassword)); err != nil {
		t.Errorf("stored hash does not match generated password: %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	store := newFakeAdminStore()

	if _, err := EnsureAdmin(context.Background(), store, BootstrapRequest{}); err != nil {
		t.Fatal(err)
	}
	res, err := EnsureAdmin(context.Background(), store, BootstrapRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created || res.Reason != "admin_exists" {
		t.Fatalf("second bootstrap must be a no-op: %+v", res)
	}
	if len(store.created) != 1 {
		t.Errorf("admin created %d times", len(store.created))
	}
}

func TestEnsureAdminPromotesExistingUser(t *testing.T) {
	store := newFakeAdminStore()
	store.users["ops@example.com"] = "user-42"

	res, err := EnsureAdmin(context.Background(), store, BootstrapRequest{Email: "ops@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.Reason != "promoted" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := store.promoted["user-42"]; !ok {
		t.Error("existing user not promoted")
	}
	if len(store.created) != 0 {
		t.Error("no new account may be created when a user matches")
	}
}

func TestEnsureAdminSuppliedPassword(t *testing.T) {
	store := newFakeAdminStore()

	res, err := EnsureAdmin(context.Background(), store, BootstrapRequest{Password: "Str0ng&Secure!pw"})
	if err != nil {
		t.Fatal(err)
	}
	if res.GeneratedPassword != "" {
		t.Error("supplied password must not be echoed back")
	}
}

func TestEnsureAdminRejectsWeakPassword(t *testing.T) {
	store := newFakeAdminStore()

	if _, err := EnsureAdmin(context.Background(), store, BootstrapRequest{Password: "short"}); err == nil {
		t.Fatal("expected weak password rejection")
	}
	if len(store.created) != 0 {
		t.Error("no account may be created with a rejected password")
	}
}

func TestEnsureAdminStoreError(t *testing.T) {
	store := newFakeAdminStore()
	store.hasErr = errors.New("connection refused")

	if _, err := EnsureAdmin(context.Background(), store, BootstrapRequest{}); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestInstallAllBootstrapsAdmin(t *testing.T) {
	env := newTestEnv(t, components.Cache)
	admins := newFakeAdminStore()
	env.orch.admins = admins

	res := env.orch.InstallAll(context.Background(), InstallRequest{
		Profile:            testProfile(),
		Components:         []components.Component{components.Cache},
		CreateDefaultAdmin: true,
	})
	if res.Status != "ok" {
		t.Fatalf("status = %q, errors = %v", res.Status, res.Errors)
	}
	if res.Admin == nil || !res.Admin.Created {
		t.Fatalf("admin not bootstrapped: %+v", res.Admin)
	}
	if res.AdminPassword == "" {
		t.Error("generated password must surface on the result")
	}
}
