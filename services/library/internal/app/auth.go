package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/auth"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
)

// AuthResult is returned by a successful Authenticate.
type AuthResult struct {
	User          domain.User `json:"user"`
	Token         string      `json:"token"`
	PreviousLogin *time.Time  `json:"previousLogin,omitempty"`
}

// Registration carries the fields of a sign-up request.
type Registration struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Authenticate validates credentials and issues a session. The lock state is
// reviewed before anything else is decided about the attempt.
func (a *App) Authenticate(ctx context.Context, email, password string, meta domain.ClientMeta) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		a.recordLoginFailure(ctx, email, meta, "missing credentials")
		return AuthResult{}, domain.ErrBadCredential
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		a.recordLoginFailure(ctx, email, meta, "unknown principal")
		return AuthResult{}, domain.ErrBadCredential
	}

	_, user, err = a.lockout.ReviewLock(ctx, user, meta)
	if err != nil {
		return AuthResult{}, err
	}
	if !user.Enabled {
		a.recordLoginFailure(ctx, email, meta, "account disabled")
		return AuthResult{}, domain.ErrBadCredential
	}
	if user.AccountLocked {
		a.recordLoginFailure(ctx, email, meta, "account locked")
		return AuthResult{}, domain.ErrAccountLocked
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		state, err := a.lockout.RecordFailure(ctx, user, meta)
		if err != nil {
			return AuthResult{}, err
		}
		if state == domain.LockStateLocked {
			return AuthResult{}, domain.ErrAccountLocked
		}
		return AuthResult{}, domain.ErrBadCredential
	}

	var previous *time.Time
	if last, found, err := a.audit.LastSuccessfulLogin(ctx, user.Email); err != nil {
		util.LoggerFromContext(ctx).Warn("last login lookup failed", "user_id", user.ID, "err", err)
	} else if found {
		previous = &last
	}
	user, err = a.lockout.RecordSuccess(ctx, user, meta)
	if errors.Is(err, domain.ErrAccountLocked) {
		a.recordLoginFailure(ctx, email, meta, "account locked")
		return AuthResult{}, domain.ErrAccountLocked
	}
	if err != nil {
		return AuthResult{}, err
	}
	token, err := a.sessions.NewSession(ctx, user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session: %w", err)
	}
	return AuthResult{User: user, Token: token, PreviousLogin: previous}, nil
}

// Register creates an account with role user. The first account ever created
// also receives the admin role.
func (a *App) Register(ctx context.Context, reg Registration, meta domain.ClientMeta) (domain.User, error) {
	email := normalizeEmail(reg.Email)
	if email == "" || reg.Password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, ErrInvalidEmail
	}
	firstName, lastName := strings.TrimSpace(reg.FirstName), strings.TrimSpace(reg.LastName)
	if !validName(firstName) || !validName(lastName) {
		return domain.User{}, ErrInvalidName
	}
	if err := auth.ValidatePassword(reg.Password); err != nil {
		return domain.User{}, err
	}
	if reg.ConfirmPassword != "" && reg.ConfirmPassword != reg.Password {
		return domain.User{}, ErrPasswordMismatch
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, ErrEmailAlreadyExists
	}
	count, err := a.store.UserCount(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("count users: %w", err)
	}
	roles := []domain.UserRole{domain.RoleUser}
	if count == 0 {
		roles = []domain.UserRole{domain.RoleAdmin, domain.RoleUser}
	}
	passwordHash, err := auth.HashPassword(reg.Password)
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
	})
	return user, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(ctx, uid)
	if err != nil || !found || !user.Enabled {
		return domain.User{}, false
	}
	return user, true
}

// Logout invalidates the session token.
func (a *App) Logout(ctx context.Context, user domain.User, token string, meta domain.ClientMeta) error {
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	a.record(ctx, domain.SecurityEvent{
		Type:      domain.EventLogout,
		Principal: user.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
	})
	return nil
}

// ChangePassword updates the user's password after verifying the current
// one and revokes every session of the user.
func (a *App) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return ErrNewPasswordRequired
	}
	if strings.TrimSpace(currentPassword) == "" {
		return ErrCurrentPasswordRequired
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.ErrUserNotFound
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return domain.ErrBadCredential
	}
	if currentPassword == newPassword {
		return ErrPasswordUnchanged
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = a.now().UTC()
	if err := a.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := a.revokeAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (a *App) revokeAllUserSessions(ctx context.Context, userID string) error {
	revoker, ok := a.sessions.(store.UserSessionRevoker)
	if !ok {
		return errors.New("session store does not support user session revocation")
	}
	return revoker.RevokeUserSessions(ctx, userID)
}

func (a *App) createUser(ctx context.Context, firstName, lastName, email, passwordHash string, roles []domain.UserRole) (domain.User, error) {
	now := a.now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        roles,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return domain.User{}, ErrEmailAlreadyExists
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func (a *App) recordLoginFailure(ctx context.Context, email string, meta domain.ClientMeta, reason string) {
	if email == "" {
		email = "anonymous"
	}
	a.record(ctx, domain.SecurityEvent{
		Type:      domain.EventLoginFailure,
		Principal: email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Reason:    reason,
	})
}

// record writes an audit event outside any state change, tagged with the
// request id when there is one. Failures are logged and do not fail the request.
func (a *App) record(ctx context.Context, event domain.SecurityEvent) {
	if id := util.RequestID(ctx); id != "" {
		details := make(map[string]string, len(event.Details)+1)
		for k, v := range event.Details {
			details[k] = v
		}
		details["requestId"] = id
		event.Details = details
	}
	if err := a.audit.Record(ctx, event); err != nil {
		util.LoggerFromContext(ctx).Error("audit write failed", "event", event.Type, "principal", event.Principal, "err", err)
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 2 && n <= 50
}
