package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Fabian0270/library-system/pkg/domain"
)

func TestAdminCreateAndLookupUser(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com", "Password1")
	ctx := context.Background()

	cases := []struct {
		name string
		in   NewUser
		want error
	}{
		{"missing password", NewUser{FirstName: "Bo", LastName: "Ek", Email: "bo@example.com"}, ErrEmailAndPasswordRequired},
		{"bad role", NewUser{FirstName: "Bo", LastName: "Ek", Email: "bo@example.com", Password: "Password1", Roles: []domain.UserRole{"librarian"}}, ErrInvalidRole},
		{"duplicate", NewUser{FirstName: "Bo", LastName: "Ek", Email: "Admin@example.com", Password: "Password1"}, ErrEmailAlreadyExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.app.CreateUser(ctx, admin, tc.in, testMeta); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	created, err := f.app.CreateUser(ctx, admin, NewUser{
		FirstName: "Bo",
		LastName:  "Ek",
		Email:     " Bo@Example.com ",
		Password:  "Password1",
		Roles:     []domain.UserRole{domain.RoleUser, domain.RoleAdmin, domain.RoleUser},
	}, testMeta)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !slices.Equal(created.Roles, []domain.UserRole{domain.RoleAdmin, domain.RoleUser}) || !created.Enabled {
		t.Fatalf("unexpected created user: %+v", created)
	}
	last, ok, err := f.store.LastEvent(ctx, "bo@example.com", domain.EventRegistration)
	if err != nil || !ok || last.Details["createdBy"] != admin.Email {
		t.Fatalf("expected registration audited with creator, got %+v ok=%v err=%v", last, ok, err)
	}

	view, err := f.app.GetUserByEmail(ctx, "BO@example.com", testMeta)
	if err != nil || view.ID != created.ID {
		t.Fatalf("get by email: %v %+v", err, view)
	}
	if _, err := f.app.GetUserByEmail(ctx, "nobody@example.com", testMeta); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := f.app.Authenticate(ctx, "bo@example.com", "Password1", testMeta); err != nil {
		t.Fatalf("created user must log in: %v", err)
	}
}

func TestAdminUpdateUser(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com", "Password1")
	user := f.register(t, "ada@example.com", "Password1")
	f.register(t, "taken@example.com", "Password1")
	ctx := context.Background()

	session, err := f.app.Authenticate(ctx, "ada@example.com", "Password1", testMeta)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := f.app.UpdateUser(ctx, admin, user.ID, UserUpdate{FirstName: "Ada", LastName: "King", Email: "taken@example.com"}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	renamed, err := f.app.UpdateUser(ctx, admin, user.ID, UserUpdate{FirstName: "Ada", LastName: "King", Email: "countess@example.com"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.LastName != "King" || renamed.Email != "countess@example.com" {
		t.Fatalf("unexpected rename result: %+v", renamed)
	}
	if _, ok := f.app.UserFromToken(ctx, session.Token); !ok {
		t.Fatalf("profile edits must keep sessions")
	}
	if _, err := f.app.Authenticate(ctx, "countess@example.com", "Password1", testMeta); err != nil {
		t.Fatalf("login under new email: %v", err)
	}

	disabled := false
	if _, err := f.app.UpdateUser(ctx, admin, user.ID, UserUpdate{FirstName: "Ada", LastName: "King", Enabled: &disabled}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, ok := f.app.UserFromToken(ctx, session.Token); ok {
		t.Fatalf("disabling must revoke sessions")
	}
	if _, err := f.app.Authenticate(ctx, "countess@example.com", "Password1", testMeta); !errors.Is(err, domain.ErrBadCredential) {
		t.Fatalf("disabled user must not log in, got %v", err)
	}

	if _, err := f.app.UpdateUser(ctx, admin, admin.ID, UserUpdate{FirstName: "Ad", LastName: "Min", Roles: []domain.UserRole{domain.RoleUser}}); !errors.Is(err, ErrCannotDemoteSelf) {
		t.Fatalf("expected self demotion rejected, got %v", err)
	}
	if _, err := f.app.UpdateUser(ctx, admin, admin.ID, UserUpdate{FirstName: "Ad", LastName: "Min", Enabled: &disabled}); !errors.Is(err, ErrCannotDemoteSelf) {
		t.Fatalf("expected self disable rejected, got %v", err)
	}
	if _, err := f.app.UpdateUser(ctx, admin, "missing", UserUpdate{FirstName: "Ad", LastName: "Min"}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
