package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type observedEvents struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (o *observedEvents) Observe(_ context.Context, events ...domain.SecurityEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, events...)
}

func (o *observedEvents) count(eventType domain.SecurityEventType) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var meta = domain.ClientMeta{IPAddress: "10.0.0.7", UserAgent: "test"}

func newLockoutFixture(t *testing.T) (*LockoutPolicy, *store.MemoryStore, *testClock, *observedEvents, domain.User) {
	t.Helper()
	st := store.NewMemoryStore()
	user := domain.User{
		ID:        "user-1",
		Email:     "ada@example.com",
		Roles:     []domain.UserRole{domain.RoleUser},
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.SaveUser(context.Background(), user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	observer := &observedEvents{}
	policy, err := NewLockoutPolicy(LockoutConfig{Store: st, Observer: observer, Now: clock.Now})
	if err != nil {
		t.Fatalf("new lockout policy: %v", err)
	}
	return policy, st, clock, observer, user
}

func TestLockoutLocksAtThreshold(t *testing.T) {
	policy, st, _, observer, user := newLockoutFixture(t)
	ctx := context.Background()

	for i := 1; i < DefaultLockoutThreshold; i++ {
		state, err := policy.RecordFailure(ctx, user, meta)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if state != domain.LockStateOpen {
			t.Fatalf("failure %d: expected open, got %s", i, state)
		}
	}
	state, err := policy.RecordFailure(ctx, user, meta)
	if err != nil {
		t.Fatalf("final failure: %v", err)
	}
	if state != domain.LockStateLocked {
		t.Fatalf("expected locked after threshold, got %s", state)
	}

	got, _, _ := st.GetUserByID(ctx, user.ID)
	if !got.AccountLocked || got.LockTime == nil || got.FailedLoginAttempts != DefaultLockoutThreshold {
		t.Fatalf("unexpected lock state: %+v", got)
	}
	failures, _ := st.CountEvents(ctx, user.Email, domain.EventLoginFailure, time.Time{})
	locks, _ := st.CountEvents(ctx, user.Email, domain.EventAccountLocked, time.Time{})
	if failures != DefaultLockoutThreshold || locks != 1 {
		t.Fatalf("expected %d failures and 1 lock event, got %d and %d", DefaultLockoutThreshold, failures, locks)
	}
	if observer.count(domain.EventAccountLocked) != 1 {
		t.Fatalf("expected observer to see the lock")
	}
}

func TestLockoutFailuresWhileLockedStayLocked(t *testing.T) {
	policy, st, _, _, user := newLockoutFixture(t)
	ctx := context.Background()
	for i := 0; i < DefaultLockoutThreshold+2; i++ {
		if _, err := policy.RecordFailure(ctx, user, meta); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	locks, _ := st.CountEvents(ctx, user.Email, domain.EventAccountLocked, time.Time{})
	if locks != 1 {
		t.Fatalf("expected a single lock event, got %d", locks)
	}
	got, _, _ := st.GetUserByID(ctx, user.ID)
	if got.FailedLoginAttempts != DefaultLockoutThreshold+2 {
		t.Fatalf("expected counter to keep counting, got %d", got.FailedLoginAttempts)
	}
}

func TestLockoutConcurrentFailuresAreNotLost(t *testing.T) {
	policy, st, _, _, user := newLockoutFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < DefaultLockoutThreshold; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := policy.RecordFailure(ctx, user, meta); err != nil {
				t.Errorf("failure: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _, _ := st.GetUserByID(ctx, user.ID)
	if !got.AccountLocked || got.FailedLoginAttempts != DefaultLockoutThreshold {
		t.Fatalf("expected locked with %d attempts, got %+v", DefaultLockoutThreshold, got)
	}
	locks, _ := st.CountEvents(ctx, user.Email, domain.EventAccountLocked, time.Time{})
	if locks != 1 {
		t.Fatalf("expected exactly one lock event, got %d", locks)
	}
}

func TestLockoutSuccessResetsCounter(t *testing.T) {
	policy, st, clock, _, user := newLockoutFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := policy.RecordFailure(ctx, user, meta); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	updated, err := policy.RecordSuccess(ctx, user, meta)
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if updated.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", updated.FailedLoginAttempts)
	}
	if updated.LastLogin == nil || !updated.LastLogin.Equal(clock.Now()) {
		t.Fatalf("expected last login stamped, got %v", updated.LastLogin)
	}
	if n, _ := st.CountEvents(ctx, user.Email, domain.EventLoginSuccess, time.Time{}); n != 1 {
		t.Fatalf("expected one success event, got %d", n)
	}
}

func TestRecordSuccessRejectsLockedRow(t *testing.T) {
	policy, st, clock, _, user := newLockoutFixture(t)
	ctx := context.Background()
	// user is the snapshot taken before the lock, as Authenticate holds it.
	for i := 0; i < DefaultLockoutThreshold; i++ {
		if _, err := policy.RecordFailure(ctx, user, meta); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	if _, err := policy.RecordSuccess(ctx, user, meta); !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	stored, _, _ := st.GetUserByID(ctx, user.ID)
	if !stored.AccountLocked || stored.FailedLoginAttempts != DefaultLockoutThreshold || stored.LastLogin != nil {
		t.Fatalf("expected locked row untouched, got %+v", stored)
	}
	if n, _ := st.CountEvents(ctx, user.Email, domain.EventLoginSuccess, time.Time{}); n != 0 {
		t.Fatalf("expected no success event, got %d", n)
	}

	clock.Advance(DefaultLockoutDuration + time.Second)
	updated, err := policy.RecordSuccess(ctx, stored, meta)
	if err != nil {
		t.Fatalf("success after expiry: %v", err)
	}
	if updated.AccountLocked || updated.LockTime != nil || updated.FailedLoginAttempts != 0 {
		t.Fatalf("expected expired lock cleared, got %+v", updated)
	}
	if n, _ := st.CountEvents(ctx, user.Email, domain.EventAccountUnlocked, time.Time{}); n != 1 {
		t.Fatalf("expected one unlock event, got %d", n)
	}
}

func TestReviewLockExpires(t *testing.T) {
	policy, st, clock, observer, user := newLockoutFixture(t)
	ctx := context.Background()
	for i := 0; i < DefaultLockoutThreshold; i++ {
		if _, err := policy.RecordFailure(ctx, user, meta); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	locked, _, _ := st.GetUserByID(ctx, user.ID)

	clock.Advance(DefaultLockoutDuration)
	unlocked, current, err := policy.ReviewLock(ctx, locked, meta)
	if err != nil {
		t.Fatalf("review at boundary: %v", err)
	}
	if unlocked || !current.AccountLocked {
		t.Fatalf("expected lock to hold at exactly the duration")
	}

	clock.Advance(time.Second)
	unlocked, current, err = policy.ReviewLock(ctx, locked, meta)
	if err != nil {
		t.Fatalf("review after expiry: %v", err)
	}
	if !unlocked || current.AccountLocked || current.FailedLoginAttempts != 0 || current.LockTime != nil {
		t.Fatalf("expected lock cleared, got unlocked=%v user=%+v", unlocked, current)
	}
	if observer.count(domain.EventAccountUnlocked) != 1 {
		t.Fatalf("expected unlock event")
	}

	// A stale snapshot must not unlock twice.
	unlocked, _, err = policy.ReviewLock(ctx, locked, meta)
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if unlocked {
		t.Fatalf("expected second review to be a no-op")
	}
}

func TestReviewLockWithoutLockTimeNeverExpires(t *testing.T) {
	policy, st, clock, _, user := newLockoutFixture(t)
	ctx := context.Background()
	locked, err := st.UpdateLockout(ctx, user.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
		u.AccountLocked = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	clock.Advance(30 * 24 * time.Hour)
	unlocked, current, err := policy.ReviewLock(ctx, locked, meta)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if unlocked || !current.AccountLocked {
		t.Fatalf("expected lock without lock time to persist")
	}

	current, err = policy.Unlock(ctx, user.ID, "admin@example.com", meta)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if current.AccountLocked {
		t.Fatalf("expected admin unlock to clear the lock")
	}
}

func TestLockoutUnknownUser(t *testing.T) {
	policy, _, _, _, _ := newLockoutFixture(t)
	_, err := policy.RecordFailure(context.Background(), domain.User{ID: "ghost"}, meta)
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestLockedUntil(t *testing.T) {
	policy, _, _, _, _ := newLockoutFixture(t)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	until, locked := policy.LockedUntil(domain.User{AccountLocked: true, LockTime: &at})
	if !locked || !until.Equal(at.Add(24*time.Hour)) {
		t.Fatalf("unexpected lock expiry %v %v", until, locked)
	}
	if _, locked := policy.LockedUntil(domain.User{}); locked {
		t.Fatalf("expected open account")
	}
}
