package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 24 * time.Hour
)

// Observer is told about lockout events after they are committed.
type Observer interface {
	Observe(ctx context.Context, events ...domain.SecurityEvent)
}

// LockoutConfig wires a LockoutPolicy. Store is required.
type LockoutConfig struct {
	Store     store.UserStore
	Observer  Observer
	Threshold int
	Duration  time.Duration
	Now       func() time.Time
}

// LockoutPolicy turns repeated authentication failures into temporary
// account locks. Every transition goes through store.UpdateLockout, so the
// new lockout fields and the audit events describing them commit together.
type LockoutPolicy struct {
	store     store.UserStore
	observer  Observer
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutPolicy builds a LockoutPolicy.
func NewLockoutPolicy(cfg LockoutConfig) (*LockoutPolicy, error) {
	if cfg.Store == nil {
		return nil, errors.New("lockout store required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultLockoutDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LockoutPolicy{
		store:     cfg.Store,
		observer:  cfg.Observer,
		threshold: cfg.Threshold,
		duration:  cfg.Duration,
		now:       cfg.Now,
	}, nil
}

// Threshold returns the number of consecutive failures that locks an account.
func (p *LockoutPolicy) Threshold() int { return p.threshold }

// RecordFailure counts one failed attempt and locks the account once the
// threshold is reached. The LOGIN_FAILURE event is written with the count.
func (p *LockoutPolicy) RecordFailure(ctx context.Context, user domain.User, meta domain.ClientMeta) (domain.LockState, error) {
	state := domain.LockStateOpen
	_, err := p.update(ctx, user.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		now := p.now().UTC()
		u.FailedLoginAttempts++
		events := []domain.SecurityEvent{
			newEvent(domain.EventLoginFailure, u.Email, meta, now, false, "bad credentials"),
		}
		switch {
		case u.AccountLocked:
			state = domain.LockStateLocked
		case u.FailedLoginAttempts >= p.threshold:
			u.AccountLocked = true
			u.LockTime = &now
			state = domain.LockStateLocked
			events = append(events, newEvent(domain.EventAccountLocked, u.Email, meta, now, false,
				fmt.Sprintf("%d consecutive failed attempts", u.FailedLoginAttempts)))
		default:
			state = domain.LockStateOpen
		}
		return events, nil
	})
	if err != nil {
		return domain.LockStateOpen, fmt.Errorf("record failure: %w", err)
	}
	return state, nil
}

// RecordSuccess resets the failure count and stamps the login time. It fails
// with domain.ErrAccountLocked, writing nothing, when the current row holds an
// unexpired lock.
func (p *LockoutPolicy) RecordSuccess(ctx context.Context, user domain.User, meta domain.ClientMeta) (domain.User, error) {
	updated, err := p.update(ctx, user.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		now := p.now().UTC()
		var events []domain.SecurityEvent
		if u.AccountLocked {
			if !p.expired(*u) {
				return nil, domain.ErrAccountLocked
			}
			clearLock(u)
			events = append(events, newEvent(domain.EventAccountUnlocked, u.Email, meta, now, true, "lock expired"))
		}
		u.FailedLoginAttempts = 0
		u.LastLogin = &now
		return append(events, newEvent(domain.EventLoginSuccess, u.Email, meta, now, true, "")), nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("record success: %w", err)
	}
	return updated, nil
}

// ReviewLock lifts an expired lock. It reports whether the account was
// unlocked by this call and returns the current user state.
func (p *LockoutPolicy) ReviewLock(ctx context.Context, user domain.User, meta domain.ClientMeta) (bool, domain.User, error) {
	if !user.AccountLocked || !p.expired(user) {
		return false, user, nil
	}
	unlocked := false
	updated, err := p.update(ctx, user.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		if !u.AccountLocked || !p.expired(*u) {
			return nil, nil
		}
		unlocked = true
		clearLock(u)
		return []domain.SecurityEvent{
			newEvent(domain.EventAccountUnlocked, u.Email, meta, p.now().UTC(), true, "lock expired"),
		}, nil
	})
	if err != nil {
		return false, user, fmt.Errorf("review lock: %w", err)
	}
	return unlocked, updated, nil
}

// Unlock clears a lock on behalf of an administrator.
func (p *LockoutPolicy) Unlock(ctx context.Context, userID, actor string, meta domain.ClientMeta) (domain.User, error) {
	updated, err := p.update(ctx, userID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		if !u.AccountLocked && u.FailedLoginAttempts == 0 {
			return nil, nil
		}
		clearLock(u)
		event := newEvent(domain.EventAccountUnlocked, u.Email, meta, p.now().UTC(), true, "unlocked by administrator")
		event.Details = map[string]string{"actor": actor}
		return []domain.SecurityEvent{event}, nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("unlock: %w", err)
	}
	return updated, nil
}

// LockedUntil returns when the user's lock expires, if it is locked.
func (p *LockoutPolicy) LockedUntil(user domain.User) (time.Time, bool) {
	if !user.AccountLocked || user.LockTime == nil {
		return time.Time{}, user.AccountLocked
	}
	return user.LockTime.Add(p.duration), true
}

// expired reports whether a lock has outlived its duration. Locks without a
// lock time never expire on their own.
func (p *LockoutPolicy) expired(u domain.User) bool {
	if u.LockTime == nil {
		return false
	}
	return p.now().After(u.LockTime.Add(p.duration))
}

func (p *LockoutPolicy) update(ctx context.Context, userID string, fn store.LockoutFunc) (domain.User, error) {
	var committed []domain.SecurityEvent
	updated, err := p.store.UpdateLockout(ctx, userID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		events, err := fn(u)
		committed = events
		return events, err
	})
	if err != nil {
		return domain.User{}, err
	}
	if p.observer != nil && len(committed) > 0 {
		p.observer.Observe(ctx, committed...)
	}
	return updated, nil
}

func clearLock(u *domain.User) {
	u.AccountLocked = false
	u.FailedLoginAttempts = 0
	u.LockTime = nil
}

func newEvent(eventType domain.SecurityEventType, principal string, meta domain.ClientMeta, at time.Time, success bool, reason string) domain.SecurityEvent {
	return domain.SecurityEvent{
		Type:      eventType,
		Principal: principal,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Timestamp: at,
		Success:   success,
		Reason:    reason,
	}
}
