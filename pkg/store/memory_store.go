package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
)

// MemoryStore keeps everything in-process behind one lock. Each method is a
// single critical section, which gives it the same atomicity as GormStore.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	authors  map[string]domain.Author
	books    map[string]domain.Book
	bookList []string
	loans    map[string]domain.Loan
	loanList []string
	open     map[string]string // user/book key -> open loan ID
	events   []domain.SecurityEvent
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email:   make(map[string]string),
		authors: make(map[string]domain.Author),
		books:   make(map[string]domain.Book),
		loans:   make(map[string]domain.Loan),
		open:    make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func openLoanKey(userID, bookID string) string {
	return userID + "/" + bookID
}

// users

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.email[u.Email]; ok && owner != u.ID {
		return ErrEmailTaken
	}
	if existing, ok := m.users[u.ID]; ok {
		delete(m.email, existing.Email)
		u.AccountLocked = existing.AccountLocked
		u.FailedLoginAttempts = existing.FailedLoginAttempts
		u.LockTime = existing.LockTime
		u.LastLogin = existing.LastLogin
		u.CreatedAt = existing.CreatedAt
	}
	u.Roles = slices.Clone(u.Roles)
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return cloneUser(u), ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return cloneUser(u), ok, nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, cloneUser(u))
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Email < res[j].Email
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// DeleteUser removes a user without open loans.
func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	for key := range m.open {
		if strings.HasPrefix(key, id+"/") {
			return domain.ErrOpenLoansExist
		}
	}
	delete(m.users, id)
	delete(m.email, u.Email)
	return nil
}

// UpdateLockout applies fn and its events under the store lock.
func (m *MemoryStore) UpdateLockout(_ context.Context, userID string, fn LockoutFunc) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	u := cloneUser(current)
	events, err := fn(&u)
	if err != nil {
		return domain.User{}, err
	}
	current.AccountLocked = u.AccountLocked
	current.FailedLoginAttempts = u.FailedLoginAttempts
	current.LockTime = u.LockTime
	current.LastLogin = u.LastLogin
	current.UpdatedAt = time.Now().UTC()
	m.users[userID] = current
	m.appendEventsLocked(events)
	return cloneUser(current), nil
}

func cloneUser(u domain.User) domain.User {
	u.Roles = slices.Clone(u.Roles)
	return u
}

// authors

// SaveAuthor inserts an author or updates its profile.
func (m *MemoryStore) SaveAuthor(_ context.Context, a domain.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.authors[a.ID]; ok {
		a.CreatedAt = existing.CreatedAt
	}
	m.authors[a.ID] = a
	return nil
}

// GetAuthor retrieves an author by ID.
func (m *MemoryStore) GetAuthor(_ context.Context, id string) (domain.Author, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.authors[id]
	return a, ok, nil
}

// ListAuthors returns all authors ordered by last and first name.
func (m *MemoryStore) ListAuthors(_ context.Context) ([]domain.Author, error) {
	return m.filterAuthors(func(domain.Author) bool { return true }), nil
}

// ListAuthorsByLastName matches last names case-insensitively.
func (m *MemoryStore) ListAuthorsByLastName(_ context.Context, lastName string) ([]domain.Author, error) {
	lastName = strings.TrimSpace(lastName)
	return m.filterAuthors(func(a domain.Author) bool {
		return strings.EqualFold(a.LastName, lastName)
	}), nil
}

func (m *MemoryStore) filterAuthors(keep func(domain.Author) bool) []domain.Author {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Author, 0, len(m.authors))
	for _, a := range m.authors {
		if keep(a) {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LastName != res[j].LastName {
			return res[i].LastName < res[j].LastName
		}
		if res[i].FirstName != res[j].FirstName {
			return res[i].FirstName < res[j].FirstName
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// DeleteAuthor removes an author no book references.
func (m *MemoryStore) DeleteAuthor(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authors[id]; !ok {
		return domain.ErrAuthorNotFound
	}
	for _, b := range m.books {
		if b.AuthorID == id {
			return domain.ErrAuthorHasBooks
		}
	}
	delete(m.authors, id)
	return nil
}

// books

// SaveBook stores a new book or updates catalog metadata.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authors[b.AuthorID]; b.AuthorID != "" && !ok {
		return domain.ErrAuthorNotFound
	}
	existing, ok := m.books[b.ID]
	if !ok {
		if b.TotalCopies < 0 {
			return ErrNegativeCopies
		}
		b.AvailableCopies = b.TotalCopies
		m.books[b.ID] = b
		m.bookList = append(m.bookList, b.ID)
		return nil
	}
	existing.Title = b.Title
	existing.Author = b.Author
	existing.AuthorID = b.AuthorID
	existing.ISBN = b.ISBN
	existing.PublicationYear = b.PublicationYear
	existing.UpdatedAt = b.UpdatedAt
	m.books[b.ID] = existing
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns books in insertion order.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	return m.filterBooks(func(domain.Book) bool { return true }), nil
}

// SearchBooksByTitle matches a case-insensitive title substring.
func (m *MemoryStore) SearchBooksByTitle(_ context.Context, query string) ([]domain.Book, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	return m.filterBooks(func(b domain.Book) bool {
		return strings.Contains(strings.ToLower(b.Title), query)
	}), nil
}

// ListBookDetails joins books with their authors in insertion order.
func (m *MemoryStore) ListBookDetails(_ context.Context) ([]domain.BookDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BookDetails, 0, len(m.bookList))
	for _, id := range m.bookList {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		d := domain.BookDetails{
			BookID:          b.ID,
			Title:           b.Title,
			PublicationYear: b.PublicationYear,
			AvailableCopies: b.AvailableCopies,
			TotalCopies:     b.TotalCopies,
		}
		if a, ok := m.authors[b.AuthorID]; ok {
			d.AuthorID = a.ID
			d.AuthorFirstName = a.FirstName
			d.AuthorLastName = a.LastName
			d.AuthorNationality = a.Nationality
		}
		res = append(res, d)
	}
	return res, nil
}

func (m *MemoryStore) filterBooks(keep func(domain.Book) bool) []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookList))
	for _, id := range m.bookList {
		if b, ok := m.books[id]; ok && keep(b) {
			res = append(res, b)
		}
	}
	return res
}

// DeleteBook removes a book with no copies on loan.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return domain.ErrBookNotFound
	}
	for key := range m.open {
		if strings.HasSuffix(key, "/"+id) {
			return domain.ErrOpenLoansExist
		}
	}
	delete(m.books, id)
	m.bookList = slices.DeleteFunc(m.bookList, func(item string) bool { return item == id })
	return nil
}

// inventory

// TryReserve decrements availability when a copy is left.
func (m *MemoryStore) TryReserve(_ context.Context, bookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok || b.AvailableCopies <= 0 {
		return false, nil
	}
	b.AvailableCopies--
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return true, nil
}

// Release increments availability up to the total.
func (m *MemoryStore) Release(_ context.Context, bookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(bookID), nil
}

func (m *MemoryStore) releaseLocked(bookID string) bool {
	b, ok := m.books[bookID]
	if !ok || b.AvailableCopies >= b.TotalCopies {
		return false
	}
	b.AvailableCopies++
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return true
}

// Availability returns the current counters.
func (m *MemoryStore) Availability(_ context.Context, bookID string) (int, int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[bookID]
	if !ok {
		return 0, 0, false, nil
	}
	return b.AvailableCopies, b.TotalCopies, true, nil
}

// SetTotalCopies changes the total and shifts availability by the same delta.
func (m *MemoryStore) SetTotalCopies(_ context.Context, bookID string, total int) (domain.Book, error) {
	if total < 0 {
		return domain.Book{}, ErrNegativeCopies
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	available := b.AvailableCopies + (total - b.TotalCopies)
	if available < 0 {
		return domain.Book{}, domain.ErrCopiesInUse
	}
	b.TotalCopies = total
	b.AvailableCopies = available
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return b, nil
}

// loans

// CreateLoan inserts an open loan, enforcing one open loan per user and book.
func (m *MemoryStore) CreateLoan(_ context.Context, l domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[l.UserID]; !ok {
		return domain.ErrUserNotFound
	}
	if _, ok := m.books[l.BookID]; !ok {
		return domain.ErrBookNotFound
	}
	key := openLoanKey(l.UserID, l.BookID)
	if _, ok := m.open[key]; ok && l.Open() {
		return domain.ErrDuplicateLoan
	}
	m.loans[l.ID] = l
	m.loanList = append(m.loanList, l.ID)
	if l.Open() {
		m.open[key] = l.ID
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	return l, ok, nil
}

// HasOpenLoan reports whether the user holds an open loan for the book.
func (m *MemoryStore) HasOpenLoan(_ context.Context, userID, bookID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.open[openLoanKey(userID, bookID)]
	return ok, nil
}

// ListLoans returns all loans in creation order.
func (m *MemoryStore) ListLoans(_ context.Context) ([]domain.Loan, error) {
	return m.filterLoans(func(domain.Loan) bool { return true }), nil
}

// ListLoansByUser returns the loans of one user.
func (m *MemoryStore) ListLoansByUser(_ context.Context, userID string) ([]domain.Loan, error) {
	return m.filterLoans(func(l domain.Loan) bool { return l.UserID == userID }), nil
}

// ListOverdueLoans returns open loans due before today.
func (m *MemoryStore) ListOverdueLoans(_ context.Context, today time.Time) ([]domain.Loan, error) {
	return m.filterLoans(func(l domain.Loan) bool { return l.OverdueOn(today) }), nil
}

func (m *MemoryStore) filterLoans(keep func(domain.Loan) bool) []domain.Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Loan, 0)
	for _, id := range m.loanList {
		if l, ok := m.loans[id]; ok && keep(l) {
			res = append(res, l)
		}
	}
	return res
}

// CloseLoan marks a loan returned and releases its copy atomically.
func (m *MemoryStore) CloseLoan(_ context.Context, id string, returned time.Time) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	if !l.Open() {
		return domain.Loan{}, domain.ErrAlreadyReturned
	}
	if !m.releaseLocked(l.BookID) {
		return domain.Loan{}, domain.ErrInventoryOverflow
	}
	l.ReturnedDate = &returned
	l.UpdatedAt = time.Now().UTC()
	m.loans[id] = l
	delete(m.open, openLoanKey(l.UserID, l.BookID))
	return l, nil
}

// UpdateDueDate moves the due date when the loan still matches expected.
func (m *MemoryStore) UpdateDueDate(_ context.Context, id string, expected, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok || !l.Open() || !l.DueDate.Equal(expected) {
		return false, nil
	}
	l.DueDate = next
	l.UpdatedAt = time.Now().UTC()
	m.loans[id] = l
	return true, nil
}

// audit

// AppendEvents appends events to the trail.
func (m *MemoryStore) AppendEvents(_ context.Context, events ...domain.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEventsLocked(events)
	return nil
}

func (m *MemoryStore) appendEventsLocked(events []domain.SecurityEvent) {
	for _, e := range events {
		m.events = append(m.events, normalizeEvent(e))
	}
}

// CountEvents counts events of a type for a principal since a point in time.
func (m *MemoryStore) CountEvents(_ context.Context, principal string, eventType domain.SecurityEventType, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.Principal == principal && e.Type == eventType && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// LastEvent returns the most recent event of a type for a principal.
func (m *MemoryStore) LastEvent(_ context.Context, principal string, eventType domain.SecurityEventType) (domain.SecurityEvent, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		last  domain.SecurityEvent
		found bool
	)
	for _, e := range m.events {
		if e.Principal != principal || e.Type != eventType {
			continue
		}
		if !found || !e.Timestamp.Before(last.Timestamp) {
			last, found = e, true
		}
	}
	return last, found, nil
}

// ListEvents returns matching events ordered by timestamp.
func (m *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]domain.SecurityEvent, error) {
	m.mu.RLock()
	res := make([]domain.SecurityEvent, 0)
	for _, e := range m.events {
		if filter.Principal != "" && e.Principal != filter.Principal {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		res = append(res, e)
	}
	m.mu.RUnlock()
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[len(res)-filter.Limit:]
	}
	return res, nil
}

// Limits for client-supplied event text.
const (
	maxPrincipalLength = 320
	maxIPLength        = 64
	maxUserAgentLength = 512
	maxReasonLength    = 512
)

// normalizeEvent fills defaults and cleans client-supplied text; Postgres
// rejects invalid UTF-8 in text columns.
func normalizeEvent(e domain.SecurityEvent) domain.SecurityEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Principal = util.CleanText(e.Principal, maxPrincipalLength)
	e.IPAddress = util.CleanText(e.IPAddress, maxIPLength)
	e.UserAgent = util.CleanText(e.UserAgent, maxUserAgentLength)
	e.Reason = util.CleanText(e.Reason, maxReasonLength)
	if len(e.Details) > 0 {
		details := make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			details[util.CleanText(k, 0)] = util.CleanText(v, 0)
		}
		e.Details = details
	}
	return e
}
