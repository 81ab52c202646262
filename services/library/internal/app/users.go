package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/Fabian0270/library-system/pkg/auth"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/security"
)

const recentFailureWindow = 24 * time.Hour

// UserView is the admin view of an account.
type UserView struct {
	domain.User
	RecentFailures int        `json:"recentFailures"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// ListUsers returns every account with its recent failure count. Expired
// locks are lifted before they are reported.
func (a *App) ListUsers(ctx context.Context, meta domain.ClientMeta) ([]UserView, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	since := a.now().Add(-recentFailureWindow)
	views := make([]UserView, 0, len(users))
	for _, user := range users {
		view, err := a.userView(ctx, user, since, meta)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetUser returns the admin view of one account.
func (a *App) GetUser(ctx context.Context, id string, meta domain.ClientMeta) (UserView, error) {
	user, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return UserView{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return UserView{}, domain.ErrUserNotFound
	}
	return a.userView(ctx, user, a.now().Add(-recentFailureWindow), meta)
}

// GetUserByEmail returns the admin view of the account registered under email.
func (a *App) GetUserByEmail(ctx context.Context, email string, meta domain.ClientMeta) (UserView, error) {
	user, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return UserView{}, fmt.Errorf("get user by email: %w", err)
	}
	if !ok {
		return UserView{}, domain.ErrUserNotFound
	}
	return a.userView(ctx, user, a.now().Add(-recentFailureWindow), meta)
}

// NewUser is an account created by an admin. Roles default to user.
type NewUser struct {
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Email     string            `json:"email"`
	Password  string            `json:"password"`
	Roles     []domain.UserRole `json:"roles"`
}

// UserUpdate edits an account. Empty Email or Password and nil Roles or
// Enabled keep the current value.
type UserUpdate struct {
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Email     string            `json:"email"`
	Password  string            `json:"password"`
	Roles     []domain.UserRole `json:"roles"`
	Enabled   *bool             `json:"enabled"`
}

// CreateUser adds an account on behalf of admin. The password follows the
// same rules as self-registration.
func (a *App) CreateUser(ctx context.Context, admin domain.User, in NewUser, meta domain.ClientMeta) (domain.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, ErrInvalidEmail
	}
	firstName, lastName := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if !validName(firstName) || !validName(lastName) {
		return domain.User{}, ErrInvalidName
	}
	roles, err := normalizeRoles(in.Roles)
	if err != nil {
		return domain.User{}, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, err
	}
	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.createUser(ctx, firstName, lastName, email, passwordHash, roles)
	if err != nil {
		return domain.User{}, err
	}
	a.record(ctx, domain.SecurityEvent{
		Type:      domain.EventRegistration,
		Principal: user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		Details:   map[string]string{"createdBy": admin.Email},
	})
	return user, nil
}

// UpdateUser edits names, email, password, roles and the enabled flag.
// Sessions are revoked when the password, roles or enabled flag change.
// Admins cannot disable themselves or drop their own admin role.
func (a *App) UpdateUser(ctx context.Context, admin domain.User, id string, in UserUpdate) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	firstName, lastName := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if !validName(firstName) || !validName(lastName) {
		return domain.User{}, ErrInvalidName
	}
	email := normalizeEmail(in.Email)
	if email == "" {
		email = user.Email
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, ErrInvalidEmail
	}
	revoke := false
	if in.Password != "" {
		if err := auth.ValidatePassword(in.Password); err != nil {
			return domain.User{}, err
		}
		if user.PasswordHash, err = auth.HashPassword(in.Password); err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		revoke = true
	}
	if in.Roles != nil {
		roles, err := normalizeRoles(in.Roles)
		if err != nil {
			return domain.User{}, err
		}
		if admin.ID == id && !slices.Contains(roles, domain.RoleAdmin) {
			return domain.User{}, ErrCannotDemoteSelf
		}
		revoke = revoke || !slices.Equal(roles, user.Roles)
		user.Roles = roles
	}
	if in.Enabled != nil {
		if admin.ID == id && !*in.Enabled {
			return domain.User{}, ErrCannotDemoteSelf
		}
		revoke = revoke || *in.Enabled != user.Enabled
		user.Enabled = *in.Enabled
	}
	user.FirstName, user.LastName, user.Email = firstName, lastName, email
	user.UpdatedAt = a.now().UTC()
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	if revoke {
		if err := a.revokeAllUserSessions(ctx, id); err != nil {
			return domain.User{}, fmt.Errorf("revoke user sessions: %w", err)
		}
	}
	return user, nil
}

// normalizeRoles validates roles and returns them deduplicated in a fixed
// order. An empty list means role user.
func normalizeRoles(in []domain.UserRole) ([]domain.UserRole, error) {
	if len(in) == 0 {
		return []domain.UserRole{domain.RoleUser}, nil
	}
	var roles []domain.UserRole
	for _, role := range []domain.UserRole{domain.RoleAdmin, domain.RoleUser} {
		if slices.Contains(in, role) {
			roles = append(roles, role)
		}
	}
	for _, role := range in {
		if !slices.Contains(roles, role) {
			return nil, ErrInvalidRole
		}
	}
	return roles, nil
}

func (a *App) userView(ctx context.Context, user domain.User, since time.Time, meta domain.ClientMeta) (UserView, error) {
	_, user, err := a.lockout.ReviewLock(ctx, user, meta)
	if err != nil {
		return UserView{}, err
	}
	failures, err := a.audit.CountFailures(ctx, user.Email, domain.EventLoginFailure, since)
	if err != nil {
		return UserView{}, err
	}
	view := UserView{User: user, RecentFailures: failures}
	if until, locked := a.lockout.LockedUntil(user); locked && !until.IsZero() {
		view.LockedUntil = &until
	}
	return view, nil
}

// DeleteUser removes an account without open loans and ends its sessions.
func (a *App) DeleteUser(ctx context.Context, admin domain.User, id string) error {
	if admin.ID == id {
		return ErrCannotDeleteSelf
	}
	if err := a.store.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := a.revokeAllUserSessions(ctx, id); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// UnlockUser clears a lock on behalf of admin.
func (a *App) UnlockUser(ctx context.Context, admin domain.User, id string, meta domain.ClientMeta) (domain.User, error) {
	return a.lockout.Unlock(ctx, id, admin.Email, meta)
}

// AuditEvents lists the audit trail for admins.
func (a *App) AuditEvents(ctx context.Context, filter store.EventFilter) ([]domain.SecurityEvent, error) {
	return a.audit.List(ctx, filter)
}

// ExportAudit uploads the audit trail since the given time.
func (a *App) ExportAudit(ctx context.Context, since time.Time) (security.ExportResult, error) {
	return a.audit.Export(ctx, since)
}

// RecordAccessDenied audits a request rejected by the authorization table.
func (a *App) RecordAccessDenied(ctx context.Context, principal, operation string, meta domain.ClientMeta) {
	a.record(ctx, domain.SecurityEvent{
		Type:      domain.EventAccessDenied,
		Principal: principal,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Reason:    "operation not permitted",
		Details:   map[string]string{"operation": operation},
	})
}
