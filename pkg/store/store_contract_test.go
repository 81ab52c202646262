package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Fabian0270/library-system/pkg/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedUserAndBook(t *testing.T, s Store, copies int) (domain.User, domain.Book) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	u := domain.User{
		ID:           "user-1",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        "ada@example.com",
		PasswordHash: "hash",
		Roles:        []domain.UserRole{domain.RoleUser},
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	b := domain.Book{
		ID:              "book-1",
		Title:           "The Difference Engine",
		Author:          "Gibson",
		PublicationYear: 1990,
		TotalCopies:     copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.SaveBook(ctx, b); err != nil {
		t.Fatalf("save book: %v", err)
	}
	return u, b
}

func newAuthor(id, first, last string) domain.Author {
	now := time.Now().UTC()
	return domain.Author{ID: id, FirstName: first, LastName: last, CreatedAt: now, UpdatedAt: now}
}

func openLoan(id string, u domain.User, b domain.Book) domain.Loan {
	now := time.Now().UTC()
	return domain.Loan{
		ID:           id,
		UserID:       u.ID,
		BookID:       b.ID,
		BorrowedDate: day(2024, 5, 1),
		DueDate:      day(2024, 5, 15),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveBookSetsAvailability", func(t *testing.T) {
		s := newStore(t)
		_, b := seedUserAndBook(t, s, 3)
		got, ok, err := s.GetBook(context.Background(), b.ID)
		if err != nil || !ok {
			t.Fatalf("get book: ok=%v err=%v", ok, err)
		}
		if got.AvailableCopies != 3 || got.TotalCopies != 3 {
			t.Fatalf("unexpected copies: %+v", got)
		}

		b.Title = "Renamed"
		b.TotalCopies = 9
		if err := s.SaveBook(context.Background(), b); err != nil {
			t.Fatalf("update book: %v", err)
		}
		got, _, _ = s.GetBook(context.Background(), b.ID)
		if got.Title != "Renamed" || got.TotalCopies != 3 {
			t.Fatalf("update must only touch metadata: %+v", got)
		}
	})

	t.Run("DuplicateEmailRejected", func(t *testing.T) {
		s := newStore(t)
		u, _ := seedUserAndBook(t, s, 1)
		other := u
		other.ID = "user-2"
		if err := s.SaveUser(context.Background(), other); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("ReserveAndRelease", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, b := seedUserAndBook(t, s, 1)
		ok, err := s.TryReserve(ctx, b.ID)
		if err != nil || !ok {
			t.Fatalf("first reserve: ok=%v err=%v", ok, err)
		}
		ok, err = s.TryReserve(ctx, b.ID)
		if err != nil || ok {
			t.Fatalf("second reserve should fail: ok=%v err=%v", ok, err)
		}
		ok, err = s.Release(ctx, b.ID)
		if err != nil || !ok {
			t.Fatalf("release: ok=%v err=%v", ok, err)
		}
		ok, err = s.Release(ctx, b.ID)
		if err != nil || ok {
			t.Fatalf("release past total should report false: ok=%v err=%v", ok, err)
		}
		if ok, _ := s.TryReserve(ctx, "missing"); ok {
			t.Fatalf("reserve on missing book succeeded")
		}
	})

	t.Run("ConcurrentReserveNeverOversells", func(t *testing.T) {
		s := newStore(t)
		_, b := seedUserAndBook(t, s, 3)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryReserve(context.Background(), b.ID)
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 3 {
			t.Fatalf("expected 3 reservations, got %d", wins.Load())
		}
		available, total, _, _ := s.Availability(context.Background(), b.ID)
		if available != 0 || total != 3 {
			t.Fatalf("unexpected availability %d/%d", available, total)
		}
	})

	t.Run("SetTotalCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, b := seedUserAndBook(t, s, 2)
		if ok, _ := s.TryReserve(ctx, b.ID); !ok {
			t.Fatalf("reserve failed")
		}
		got, err := s.SetTotalCopies(ctx, b.ID, 5)
		if err != nil {
			t.Fatalf("grow: %v", err)
		}
		if got.TotalCopies != 5 || got.AvailableCopies != 4 {
			t.Fatalf("unexpected counters after grow: %+v", got)
		}
		if _, err := s.SetTotalCopies(ctx, b.ID, 0); !errors.Is(err, domain.ErrCopiesInUse) {
			t.Fatalf("expected ErrCopiesInUse, got %v", err)
		}
		if _, err := s.SetTotalCopies(ctx, "missing", 1); !errors.Is(err, domain.ErrBookNotFound) {
			t.Fatalf("expected ErrBookNotFound, got %v", err)
		}
		if _, err := s.SetTotalCopies(ctx, b.ID, -1); !errors.Is(err, ErrNegativeCopies) {
			t.Fatalf("expected ErrNegativeCopies, got %v", err)
		}
	})

	t.Run("OneOpenLoanPerUserAndBook", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 2)
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		if err := s.CreateLoan(ctx, openLoan("loan-2", u, b)); !errors.Is(err, domain.ErrDuplicateLoan) {
			t.Fatalf("expected ErrDuplicateLoan, got %v", err)
		}
		open, err := s.HasOpenLoan(ctx, u.ID, b.ID)
		if err != nil || !open {
			t.Fatalf("expected open loan: open=%v err=%v", open, err)
		}
		if _, err := s.CloseLoan(ctx, "loan-1", day(2024, 5, 3)); err != nil {
			t.Fatalf("close loan: %v", err)
		}
		if err := s.CreateLoan(ctx, openLoan("loan-3", u, b)); err != nil {
			t.Fatalf("loan after return should be allowed: %v", err)
		}
	})

	t.Run("CreateLoanChecksReferences", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 1)
		ghost := u
		ghost.ID = "ghost"
		if err := s.CreateLoan(ctx, openLoan("loan-1", ghost, b)); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		missing := b
		missing.ID = "missing"
		if err := s.CreateLoan(ctx, openLoan("loan-2", u, missing)); !errors.Is(err, domain.ErrBookNotFound) {
			t.Fatalf("expected ErrBookNotFound, got %v", err)
		}
	})

	t.Run("CloseLoanReleasesOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 1)
		if ok, _ := s.TryReserve(ctx, b.ID); !ok {
			t.Fatalf("reserve failed")
		}
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		closed, err := s.CloseLoan(ctx, "loan-1", day(2024, 5, 10))
		if err != nil {
			t.Fatalf("close: %v", err)
		}
		if closed.ReturnedDate == nil || !closed.ReturnedDate.Equal(day(2024, 5, 10)) {
			t.Fatalf("unexpected returned date: %+v", closed.ReturnedDate)
		}
		if _, err := s.CloseLoan(ctx, "loan-1", day(2024, 5, 11)); !errors.Is(err, domain.ErrAlreadyReturned) {
			t.Fatalf("expected ErrAlreadyReturned, got %v", err)
		}
		if _, err := s.CloseLoan(ctx, "missing", day(2024, 5, 11)); !errors.Is(err, domain.ErrLoanNotFound) {
			t.Fatalf("expected ErrLoanNotFound, got %v", err)
		}
		available, _, _, _ := s.Availability(ctx, b.ID)
		if available != 1 {
			t.Fatalf("expected copy back on shelf, got %d", available)
		}
	})

	t.Run("CloseLoanOverflowIsInvariantViolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 1)
		// loan created without reserving, so availability is already full
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		_, err := s.CloseLoan(ctx, "loan-1", day(2024, 5, 2))
		if !errors.Is(err, domain.ErrInvariantViolation) {
			t.Fatalf("expected invariant violation, got %v", err)
		}
		got, _, _ := s.GetLoan(ctx, "loan-1")
		if !got.Open() {
			t.Fatalf("failed close must leave the loan open")
		}
	})

	t.Run("UpdateDueDateCompareAndSwap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 1)
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		ok, err := s.UpdateDueDate(ctx, "loan-1", day(2024, 5, 15), day(2024, 5, 29))
		if err != nil || !ok {
			t.Fatalf("first swap: ok=%v err=%v", ok, err)
		}
		ok, err = s.UpdateDueDate(ctx, "loan-1", day(2024, 5, 15), day(2024, 5, 29))
		if err != nil || ok {
			t.Fatalf("stale swap must fail: ok=%v err=%v", ok, err)
		}
		got, _, _ := s.GetLoan(ctx, "loan-1")
		if !got.DueDate.Equal(day(2024, 5, 29)) {
			t.Fatalf("unexpected due date %v", got.DueDate)
		}
	})

	t.Run("ListOverdueLoans", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 2)
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		due, err := s.ListOverdueLoans(ctx, day(2024, 5, 15))
		if err != nil {
			t.Fatalf("list overdue: %v", err)
		}
		if len(due) != 0 {
			t.Fatalf("loan due today is not overdue: %+v", due)
		}
		due, err = s.ListOverdueLoans(ctx, day(2024, 5, 16))
		if err != nil {
			t.Fatalf("list overdue: %v", err)
		}
		if len(due) != 1 || due[0].ID != "loan-1" {
			t.Fatalf("expected loan-1 overdue, got %+v", due)
		}
		mine, err := s.ListLoansByUser(ctx, u.ID)
		if err != nil || len(mine) != 1 {
			t.Fatalf("list by user: %v %+v", err, mine)
		}
	})

	t.Run("DeleteWithOpenLoans", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, b := seedUserAndBook(t, s, 1)
		if err := s.CreateLoan(ctx, openLoan("loan-1", u, b)); err != nil {
			t.Fatalf("create loan: %v", err)
		}
		if err := s.DeleteBook(ctx, b.ID); !errors.Is(err, domain.ErrOpenLoansExist) {
			t.Fatalf("expected ErrOpenLoansExist for book, got %v", err)
		}
		if err := s.DeleteUser(ctx, u.ID); !errors.Is(err, domain.ErrOpenLoansExist) {
			t.Fatalf("expected ErrOpenLoansExist for user, got %v", err)
		}
		if err := s.DeleteBook(ctx, "missing"); !errors.Is(err, domain.ErrBookNotFound) {
			t.Fatalf("expected ErrBookNotFound, got %v", err)
		}
	})

	t.Run("AuthorsByLastName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, a := range []domain.Author{
			newAuthor("author-2", "Terry", "Pratchett"),
			newAuthor("author-1", "Ursula", "Le Guin"),
			newAuthor("author-3", "Rhianna", "Pratchett"),
		} {
			if err := s.SaveAuthor(ctx, a); err != nil {
				t.Fatalf("save author: %v", err)
			}
		}
		all, err := s.ListAuthors(ctx)
		if err != nil || len(all) != 3 || all[0].LastName != "Le Guin" {
			t.Fatalf("list authors: %v %+v", err, all)
		}
		got, err := s.ListAuthorsByLastName(ctx, " pratchett ")
		if err != nil || len(got) != 2 || got[0].FirstName != "Rhianna" || got[1].FirstName != "Terry" {
			t.Fatalf("by last name: %v %+v", err, got)
		}
		if got, _ := s.ListAuthorsByLastName(ctx, "pratch"); len(got) != 0 {
			t.Fatalf("last name must match whole, got %+v", got)
		}

		updated := all[0]
		updated.Nationality = "American"
		updated.BirthYear = 1929
		if err := s.SaveAuthor(ctx, updated); err != nil {
			t.Fatalf("update author: %v", err)
		}
		a, ok, err := s.GetAuthor(ctx, updated.ID)
		if err != nil || !ok || a.Nationality != "American" || a.BirthYear != 1929 {
			t.Fatalf("get author: ok=%v err=%v %+v", ok, err, a)
		}
		if _, ok, _ := s.GetAuthor(ctx, "missing"); ok {
			t.Fatalf("missing author reported as found")
		}
	})

	t.Run("BookAuthorReference", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, b := seedUserAndBook(t, s, 2)

		orphan := b
		orphan.ID = "book-2"
		orphan.AuthorID = "missing"
		if err := s.SaveBook(ctx, orphan); !errors.Is(err, domain.ErrAuthorNotFound) {
			t.Fatalf("expected ErrAuthorNotFound, got %v", err)
		}
		if _, ok, _ := s.GetBook(ctx, orphan.ID); ok {
			t.Fatalf("book with unknown author was stored")
		}

		author := newAuthor("author-1", "William", "Gibson")
		author.Nationality = "American"
		if err := s.SaveAuthor(ctx, author); err != nil {
			t.Fatalf("save author: %v", err)
		}
		b.AuthorID = author.ID
		if err := s.SaveBook(ctx, b); err != nil {
			t.Fatalf("link author: %v", err)
		}
		if got, _, _ := s.GetBook(ctx, b.ID); got.AuthorID != author.ID {
			t.Fatalf("author id not persisted: %+v", got)
		}
		unlinked := b
		unlinked.ID = "book-3"
		unlinked.AuthorID = ""
		if err := s.SaveBook(ctx, unlinked); err != nil {
			t.Fatalf("save unlinked book: %v", err)
		}

		details, err := s.ListBookDetails(ctx)
		if err != nil || len(details) != 2 {
			t.Fatalf("book details: %v %+v", err, details)
		}
		want := domain.BookDetails{
			BookID:            b.ID,
			Title:             b.Title,
			PublicationYear:   b.PublicationYear,
			AvailableCopies:   2,
			TotalCopies:       2,
			AuthorID:          author.ID,
			AuthorFirstName:   "William",
			AuthorLastName:    "Gibson",
			AuthorNationality: "American",
		}
		if details[0] != want {
			t.Fatalf("details[0] = %+v, want %+v", details[0], want)
		}
		if details[1].BookID != unlinked.ID || details[1].AuthorID != "" || details[1].AuthorLastName != "" {
			t.Fatalf("book without author must have empty author fields: %+v", details[1])
		}

		if err := s.DeleteAuthor(ctx, author.ID); !errors.Is(err, domain.ErrAuthorHasBooks) {
			t.Fatalf("expected ErrAuthorHasBooks, got %v", err)
		}
		b.AuthorID = ""
		if err := s.SaveBook(ctx, b); err != nil {
			t.Fatalf("unlink author: %v", err)
		}
		if err := s.DeleteAuthor(ctx, author.ID); err != nil {
			t.Fatalf("delete author: %v", err)
		}
		if err := s.DeleteAuthor(ctx, author.ID); !errors.Is(err, domain.ErrAuthorNotFound) {
			t.Fatalf("expected ErrAuthorNotFound, got %v", err)
		}
	})

	t.Run("SearchBooksByTitle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedUserAndBook(t, s, 1)
		got, err := s.SearchBooksByTitle(ctx, "difference")
		if err != nil || len(got) != 1 {
			t.Fatalf("search: %v %+v", err, got)
		}
		got, err = s.SearchBooksByTitle(ctx, "100%")
		if err != nil || len(got) != 0 {
			t.Fatalf("wildcards must be literal: %v %+v", err, got)
		}
	})

	t.Run("UpdateLockoutPersistsFieldsAndEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, _ := seedUserAndBook(t, s, 1)
		lockedAt := time.Now().UTC().Truncate(time.Second)
		got, err := s.UpdateLockout(ctx, u.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
			u.FailedLoginAttempts = 5
			u.AccountLocked = true
			u.LockTime = &lockedAt
			return []domain.SecurityEvent{{Type: domain.EventAccountLocked, Principal: u.Email, Timestamp: lockedAt}}, nil
		})
		if err != nil {
			t.Fatalf("update lockout: %v", err)
		}
		if !got.AccountLocked || got.FailedLoginAttempts != 5 {
			t.Fatalf("unexpected user: %+v", got)
		}
		stored, _, _ := s.GetUserByID(ctx, u.ID)
		if !stored.AccountLocked || stored.LockTime == nil || !stored.LockTime.Equal(lockedAt) {
			t.Fatalf("lockout not persisted: %+v", stored)
		}
		n, err := s.CountEvents(ctx, u.Email, domain.EventAccountLocked, lockedAt.Add(-time.Minute))
		if err != nil || n != 1 {
			t.Fatalf("expected one lock event, got %d err=%v", n, err)
		}

		// profile saves must not clobber lockout state
		stored.FirstName = "Augusta"
		if err := s.SaveUser(ctx, stored); err != nil {
			t.Fatalf("save user: %v", err)
		}
		again, _, _ := s.GetUserByID(ctx, u.ID)
		if again.FirstName != "Augusta" || !again.AccountLocked {
			t.Fatalf("unexpected user after save: %+v", again)
		}
	})

	t.Run("UpdateLockoutCleansClientText", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, _ := seedUserAndBook(t, s, 1)
		agent := strings.Repeat("a", 511) + "é\xff"
		_, err := s.UpdateLockout(ctx, u.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
			u.FailedLoginAttempts++
			return []domain.SecurityEvent{{
				Type:      domain.EventLoginFailure,
				Principal: u.Email,
				IPAddress: "10.0.0.1\x00",
				UserAgent: agent,
				Reason:    "bad\xc3credentials",
				Details:   map[string]string{"note\xfe": "v\xc3"},
			}}, nil
		})
		if err != nil {
			t.Fatalf("update lockout: %v", err)
		}
		stored, _, _ := s.GetUserByID(ctx, u.ID)
		if stored.FailedLoginAttempts != 1 {
			t.Fatalf("expected failure counted, got %d", stored.FailedLoginAttempts)
		}
		events, err := s.ListEvents(ctx, EventFilter{Principal: u.Email, Type: domain.EventLoginFailure})
		if err != nil || len(events) != 1 {
			t.Fatalf("expected one failure event, got %d err=%v", len(events), err)
		}
		e := events[0]
		for name, v := range map[string]string{"ip": e.IPAddress, "agent": e.UserAgent, "reason": e.Reason} {
			if !utf8.ValidString(v) || strings.ContainsRune(v, 0) {
				t.Fatalf("%s not cleaned: %q", name, v)
			}
		}
		if e.UserAgent != strings.Repeat("a", 511) {
			t.Fatalf("expected agent cut on rune boundary, got len=%d", len(e.UserAgent))
		}
		if e.IPAddress != "10.0.0.1" {
			t.Fatalf("unexpected ip %q", e.IPAddress)
		}
		for k, v := range e.Details {
			if !utf8.ValidString(k) || !utf8.ValidString(v) {
				t.Fatalf("details not cleaned: %q=%q", k, v)
			}
		}
	})

	t.Run("UpdateLockoutErrorDiscardsChanges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, _ := seedUserAndBook(t, s, 1)
		boom := errors.New("boom")
		_, err := s.UpdateLockout(ctx, u.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
			u.FailedLoginAttempts = 3
			return []domain.SecurityEvent{{Type: domain.EventLoginFailure, Principal: u.Email}}, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		stored, _, _ := s.GetUserByID(ctx, u.ID)
		if stored.FailedLoginAttempts != 0 {
			t.Fatalf("failed update leaked: %+v", stored)
		}
		events, _ := s.ListEvents(ctx, EventFilter{Principal: u.Email})
		if len(events) != 0 {
			t.Fatalf("failed update leaked events: %+v", events)
		}
		if _, err := s.UpdateLockout(ctx, "missing", func(*domain.User) ([]domain.SecurityEvent, error) { return nil, nil }); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentLockoutUpdatesNotLost", func(t *testing.T) {
		s := newStore(t)
		u, _ := seedUserAndBook(t, s, 1)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateLockout(context.Background(), u.ID, func(u *domain.User) ([]domain.SecurityEvent, error) {
					u.FailedLoginAttempts++
					return nil, nil
				})
				if err != nil {
					t.Errorf("update lockout: %v", err)
				}
			}()
		}
		wg.Wait()
		stored, _, _ := s.GetUserByID(context.Background(), u.ID)
		if stored.FailedLoginAttempts != 10 {
			t.Fatalf("expected 10 failures, got %d", stored.FailedLoginAttempts)
		}
	})

	t.Run("AuditQueries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		events := []domain.SecurityEvent{
			{Type: domain.EventLoginSuccess, Principal: "a@example.com", Timestamp: base, Success: true},
			{Type: domain.EventLoginFailure, Principal: "a@example.com", Timestamp: base.Add(time.Minute)},
			{Type: domain.EventLoginSuccess, Principal: "a@example.com", Timestamp: base.Add(2 * time.Minute), Success: true, Details: map[string]string{"k": "v"}},
			{Type: domain.EventLoginFailure, Principal: "b@example.com", Timestamp: base.Add(3 * time.Minute)},
		}
		if err := s.AppendEvents(ctx, events...); err != nil {
			t.Fatalf("append: %v", err)
		}
		n, err := s.CountEvents(ctx, "a@example.com", domain.EventLoginFailure, base)
		if err != nil || n != 1 {
			t.Fatalf("count: %d %v", n, err)
		}
		last, ok, err := s.LastEvent(ctx, "a@example.com", domain.EventLoginSuccess)
		if err != nil || !ok {
			t.Fatalf("last event: ok=%v err=%v", ok, err)
		}
		if !last.Timestamp.Equal(base.Add(2*time.Minute)) || last.Details["k"] != "v" {
			t.Fatalf("unexpected last event: %+v", last)
		}
		if _, ok, _ := s.LastEvent(ctx, "nobody", domain.EventLoginSuccess); ok {
			t.Fatalf("expected no event for unknown principal")
		}
		tail, err := s.ListEvents(ctx, EventFilter{Limit: 2})
		if err != nil || len(tail) != 2 {
			t.Fatalf("list tail: %v %+v", err, tail)
		}
		if !tail[0].Timestamp.Before(tail[1].Timestamp) || tail[1].Principal != "b@example.com" {
			t.Fatalf("tail must be the newest events in order: %+v", tail)
		}
		for _, e := range tail {
			if e.ID == "" {
				t.Fatalf("event id not assigned")
			}
		}
	})
}
