package store

import (
	"context"
	"time"

	"github.com/Fabian0270/library-system/pkg/domain"
)

// Store defines persistence for users, the catalog, inventory, loans and the audit trail.
type Store interface {
	UserStore
	AuthorStore
	BookStore
	InventoryStore
	LoanStore
	AuditStore
}

// LockoutFunc mutates the lockout fields of u and returns the audit events that
// must be written together with the change. Returning an error discards both.
type LockoutFunc func(u *domain.User) ([]domain.SecurityEvent, error)

type UserStore interface {
	// SaveUser inserts a user or updates its profile. Lockout fields are only
	// written on insert; afterwards they change through UpdateLockout.
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UserCount(ctx context.Context) (int, error)
	// DeleteUser fails with domain.ErrOpenLoansExist while the user has open loans.
	DeleteUser(ctx context.Context, id string) error
	// UpdateLockout runs fn on the locked current row and persists the result
	// and its events atomically.
	UpdateLockout(ctx context.Context, userID string, fn LockoutFunc) (domain.User, error)
}

type AuthorStore interface {
	// SaveAuthor inserts an author or updates its profile.
	SaveAuthor(ctx context.Context, a domain.Author) error
	GetAuthor(ctx context.Context, id string) (domain.Author, bool, error)
	ListAuthors(ctx context.Context) ([]domain.Author, error)
	// ListAuthorsByLastName matches the whole last name, ignoring case.
	ListAuthorsByLastName(ctx context.Context, lastName string) ([]domain.Author, error)
	// DeleteAuthor fails with domain.ErrAuthorHasBooks while a book references it.
	DeleteAuthor(ctx context.Context, id string) error
}

type BookStore interface {
	// SaveBook inserts a book with AvailableCopies = TotalCopies, or updates
	// catalog metadata of an existing book. Copy counts are never touched on
	// update. A non-empty AuthorID must reference an existing author, otherwise
	// it fails with domain.ErrAuthorNotFound.
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	SearchBooksByTitle(ctx context.Context, query string) ([]domain.Book, error)
	// ListBookDetails returns the catalog joined with referenced authors, in
	// the same order as ListBooks.
	ListBookDetails(ctx context.Context) ([]domain.BookDetails, error)
	// DeleteBook fails with domain.ErrOpenLoansExist while copies are on loan.
	DeleteBook(ctx context.Context, id string) error
}

// InventoryStore owns the available-copies counter. Every mutation is a single
// atomic step at the storage layer.
type InventoryStore interface {
	// TryReserve takes one copy. It returns false when the book is missing or
	// has no copy left.
	TryReserve(ctx context.Context, bookID string) (bool, error)
	// Release returns one copy. It returns false when the book is already at
	// capacity, which callers must treat as an invariant violation.
	Release(ctx context.Context, bookID string) (bool, error)
	// Availability is a snapshot for display; it is never used for decisions.
	Availability(ctx context.Context, bookID string) (available, total int, found bool, err error)
	// SetTotalCopies changes the total and shifts availability by the same delta.
	SetTotalCopies(ctx context.Context, bookID string, total int) (domain.Book, error)
}

type LoanStore interface {
	// CreateLoan inserts an open loan. It fails with domain.ErrDuplicateLoan when
	// the user already has an open loan for the book, and with
	// domain.ErrUserNotFound or domain.ErrBookNotFound when a reference is gone.
	CreateLoan(ctx context.Context, l domain.Loan) error
	GetLoan(ctx context.Context, id string) (domain.Loan, bool, error)
	HasOpenLoan(ctx context.Context, userID, bookID string) (bool, error)
	ListLoans(ctx context.Context) ([]domain.Loan, error)
	ListLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error)
	// ListOverdueLoans returns open loans whose due date is before today.
	ListOverdueLoans(ctx context.Context, today time.Time) ([]domain.Loan, error)
	// CloseLoan marks the loan returned and releases its copy in one transaction.
	CloseLoan(ctx context.Context, id string, returned time.Time) (domain.Loan, error)
	// UpdateDueDate moves an open loan's due date from expected to next. It
	// reports false when the loan no longer matches expected.
	UpdateDueDate(ctx context.Context, id string, expected, next time.Time) (bool, error)
}

// EventFilter narrows ListEvents. Zero values match everything; Limit keeps
// the most recent events.
type EventFilter struct {
	Principal string
	Type      domain.SecurityEventType
	Since     time.Time
	Limit     int
}

// AuditStore is append-only.
type AuditStore interface {
	AppendEvents(ctx context.Context, events ...domain.SecurityEvent) error
	CountEvents(ctx context.Context, principal string, eventType domain.SecurityEventType, since time.Time) (int, error)
	LastEvent(ctx context.Context, principal string, eventType domain.SecurityEventType) (domain.SecurityEvent, bool, error)
	// ListEvents returns events in non-decreasing timestamp order.
	ListEvents(ctx context.Context, filter EventFilter) ([]domain.SecurityEvent, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
}
