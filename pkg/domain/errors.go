package domain

import "errors"

// Error kinds. Every specific error below unwraps to exactly one of them.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrUnavailable        = errors.New("temporarily unavailable")
)

var (
	ErrUserNotFound   = kindError(ErrNotFound, "user not found")
	ErrBookNotFound   = kindError(ErrNotFound, "book not found")
	ErrLoanNotFound   = kindError(ErrNotFound, "loan not found")
	ErrAuthorNotFound = kindError(ErrNotFound, "author not found")

	ErrNotAvailable    = kindError(ErrPreconditionFailed, "book is not available")
	ErrDuplicateLoan   = kindError(ErrPreconditionFailed, "user already has an open loan for this book")
	ErrAlreadyReturned = kindError(ErrPreconditionFailed, "loan already returned")
	ErrOverdue         = kindError(ErrPreconditionFailed, "loan is overdue and cannot be extended")
	ErrAccountLocked   = kindError(ErrPreconditionFailed, "account is locked")
	ErrOpenLoansExist  = kindError(ErrPreconditionFailed, "open loans reference this record")
	ErrCopiesInUse     = kindError(ErrPreconditionFailed, "total copies cannot drop below copies on loan")
	ErrAuthorHasBooks  = kindError(ErrPreconditionFailed, "books still reference this author")

	ErrInventoryOverflow = kindError(ErrInvariantViolation, "release would exceed total copies")

	// ErrBadCredential is intentionally vague so it cannot be used for account enumeration.
	ErrBadCredential = errors.New("incorrect email address or password")
)

type kindErr struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindErr{kind: kind, msg: msg}
}

func (e *kindErr) Error() string { return e.msg }

func (e *kindErr) Unwrap() error { return e.kind }

// Kind returns the kind sentinel err belongs to and the message of the most
// specific domain error in its chain. ok is false for errors outside the taxonomy.
func Kind(err error) (kind error, msg string, ok bool) {
	var ke *kindErr
	if errors.As(err, &ke) {
		return ke.kind, ke.msg, true
	}
	for _, k := range []error{ErrNotFound, ErrPreconditionFailed, ErrInvariantViolation, ErrUnavailable} {
		if errors.Is(err, k) {
			return k, k.Error(), true
		}
	}
	return nil, "", false
}
