// Package lending owns the loan state machine and its coupling to book inventory.
package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fabian0270/library-system/internal/keylock"
	"github.com/Fabian0270/library-system/internal/retry"
	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
)

const (
	defaultLoanPeriodDays = 14
	defaultReleaseTimeout = 5 * time.Second
)

// Store is the persistence the ledger needs.
type Store interface {
	store.InventoryStore
	store.LoanStore
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
}

// Recorder receives lending audit events.
type Recorder interface {
	Record(ctx context.Context, event domain.SecurityEvent) error
}

// Config wires a Ledger. Store is required.
type Config struct {
	Store          Store
	Audit          Recorder
	Now            func() time.Time
	Location       *time.Location
	LoanPeriodDays int
	ReleaseTimeout time.Duration
}

// Ledger creates, returns and extends loans.
type Ledger struct {
	store          Store
	audit          Recorder
	now            func() time.Time
	loc            *time.Location
	period         int
	releaseTimeout time.Duration
	locks          *keylock.Locker
}

// New builds a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("lending store required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LoanPeriodDays <= 0 {
		cfg.LoanPeriodDays = defaultLoanPeriodDays
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	return &Ledger{
		store:          cfg.Store,
		audit:          cfg.Audit,
		now:            cfg.Now,
		loc:            cfg.Location,
		period:         cfg.LoanPeriodDays,
		releaseTimeout: cfg.ReleaseTimeout,
		locks:          keylock.New(),
	}, nil
}

// Today returns the current calendar day in the ledger's location, encoded
// as midnight UTC so it compares and persists without zone drift.
func (l *Ledger) Today() time.Time {
	return civilDay(l.now(), l.loc)
}

func civilDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CreateLoan checks out one copy of bookID to userID. A reservation taken
// here is released again on every path that does not persist the loan.
func (l *Ledger) CreateLoan(ctx context.Context, userID, bookID string) (domain.Loan, error) {
	unlock, err := l.locks.Lock(ctx, userID+"/"+bookID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	defer unlock()

	user, ok, err := l.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	if !ok {
		return domain.Loan{}, domain.ErrUserNotFound
	}
	if _, ok, err := l.store.GetBook(ctx, bookID); err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	} else if !ok {
		return domain.Loan{}, domain.ErrBookNotFound
	}

	reserved, err := l.store.TryReserve(ctx, bookID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	if !reserved {
		return domain.Loan{}, domain.ErrNotAvailable
	}
	persisted := false
	defer func() {
		if !persisted {
			l.releaseReservation(ctx, bookID)
		}
	}()

	open, err := l.store.HasOpenLoan(ctx, userID, bookID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	if open {
		return domain.Loan{}, domain.ErrDuplicateLoan
	}

	now := l.now()
	today := civilDay(now, l.loc)
	loan := domain.Loan{
		ID:           uuid.NewString(),
		UserID:       userID,
		BookID:       bookID,
		BorrowedDate: today,
		DueDate:      today.AddDate(0, 0, l.period),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if err := l.store.CreateLoan(ctx, loan); err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	persisted = true

	l.record(ctx, domain.EventLoanCreated, user.Email, loan, now)
	return loan, nil
}

// releaseReservation hands a copy back after a failed checkout. It runs on a
// context detached from the caller so cancellation cannot leak the copy.
func (l *Ledger) releaseReservation(ctx context.Context, bookID string) {
	logger := util.LoggerFromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.releaseTimeout)
	defer cancel()
	released, err := l.store.Release(ctx, bookID)
	if err != nil {
		logger.Error("release reservation failed", "book_id", bookID, "err", err)
		return
	}
	if !released {
		logger.Error("inventory invariant violated", "book_id", bookID, "err", domain.ErrInventoryOverflow)
	}
}

// ReturnLoan closes an open loan and puts its copy back in one transaction.
func (l *Ledger) ReturnLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	now := l.now()
	loan, err := l.store.CloseLoan(ctx, loanID, civilDay(now, l.loc))
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			util.LoggerFromContext(ctx).Error("inventory invariant violated", "loan_id", loanID, "err", err)
		}
		return domain.Loan{}, fmt.Errorf("return loan: %w", err)
	}
	l.record(ctx, domain.EventLoanReturned, l.principal(ctx, loan.UserID), loan, now)
	return loan, nil
}

// ExtendLoan pushes the due date of a loan that is not yet overdue. The
// update is a compare-and-swap on the previous due date; a lost race is
// re-evaluated from fresh state.
func (l *Ledger) ExtendLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	now := l.now()
	today := civilDay(now, l.loc)
	var extended domain.Loan
	err := retry.Do(ctx, func(ctx context.Context) error {
		loan, ok, err := l.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrLoanNotFound
		}
		if !loan.Open() {
			return domain.ErrAlreadyReturned
		}
		if loan.DueDate.Before(today) {
			return domain.ErrOverdue
		}
		next := loan.DueDate.AddDate(0, 0, l.period)
		swapped, err := l.store.UpdateDueDate(ctx, loanID, loan.DueDate, next)
		if err != nil {
			return err
		}
		if !swapped {
			return retry.ErrConflict
		}
		loan.DueDate = next
		loan.UpdatedAt = now.UTC()
		extended = loan
		return nil
	})
	if retry.IsConflict(err) {
		return domain.Loan{}, fmt.Errorf("extend loan: %w: %w", domain.ErrUnavailable, err)
	}
	if err != nil {
		return domain.Loan{}, fmt.Errorf("extend loan: %w", err)
	}
	l.record(ctx, domain.EventLoanExtended, l.principal(ctx, extended.UserID), extended, now)
	return extended, nil
}

// ListOverdue returns open loans whose due date is before today.
func (l *Ledger) ListOverdue(ctx context.Context) ([]domain.Loan, error) {
	loans, err := l.store.ListOverdueLoans(ctx, l.Today())
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	return loans, nil
}

// GetLoan returns one loan.
func (l *Ledger) GetLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	loan, ok, err := l.store.GetLoan(ctx, loanID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("get loan: %w", err)
	}
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	return loan, nil
}

// ListLoans returns every loan.
func (l *Ledger) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	loans, err := l.store.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// ListLoansByUser returns the loans of one user.
func (l *Ledger) ListLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	if _, ok, err := l.store.GetUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("list user loans: %w", err)
	} else if !ok {
		return nil, domain.ErrUserNotFound
	}
	loans, err := l.store.ListLoansByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user loans: %w", err)
	}
	return loans, nil
}

func (l *Ledger) principal(ctx context.Context, userID string) string {
	if user, ok, err := l.store.GetUserByID(ctx, userID); err == nil && ok {
		return user.Email
	}
	return userID
}

func (l *Ledger) record(ctx context.Context, eventType domain.SecurityEventType, principal string, loan domain.Loan, at time.Time) {
	if l.audit == nil {
		return
	}
	event := domain.SecurityEvent{
		Type:      eventType,
		Principal: principal,
		Timestamp: at.UTC(),
		Success:   true,
		Details: map[string]string{
			"loanId":  loan.ID,
			"bookId":  loan.BookID,
			"userId":  loan.UserID,
			"dueDate": loan.DueDate.Format(time.DateOnly),
		},
	}
	if err := l.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		util.LoggerFromContext(ctx).Error("audit lending event failed", "event", eventType, "loan_id", loan.ID, "err", err)
	}
}
