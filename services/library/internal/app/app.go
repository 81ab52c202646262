// Package app wires storage, sessions, the lending ledger and the lockout
// policy into the operations the HTTP server exposes.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/lending"
	"github.com/Fabian0270/library-system/services/library/internal/security"
)

// Config holds the collaborators of App. Store, Sessions, Ledger, Lockout
// and Audit are required.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Ledger   *lending.Ledger
	Lockout  *security.LockoutPolicy
	Audit    *security.AuditTrail
	Now      func() time.Time
}

// App is the core application service.
type App struct {
	store    store.Store
	sessions store.SessionStore
	ledger   *lending.Ledger
	lockout  *security.LockoutPolicy
	audit    *security.AuditTrail
	now      func() time.Time
}

// New constructs the application from already built services.
func New(cfg Config) (*App, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("store required")
	case cfg.Sessions == nil:
		return nil, errors.New("session store required")
	case cfg.Ledger == nil:
		return nil, errors.New("lending ledger required")
	case cfg.Lockout == nil:
		return nil, errors.New("lockout policy required")
	case cfg.Audit == nil:
		return nil, errors.New("audit trail required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		ledger:   cfg.Ledger,
		lockout:  cfg.Lockout,
		audit:    cfg.Audit,
		now:      cfg.Now,
	}, nil
}

// Ping checks the backing store when it supports health checks.
func (a *App) Ping(ctx context.Context) error {
	pinger, ok := a.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping(ctx)
}
