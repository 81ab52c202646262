package domain

import (
	"slices"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Roles               []UserRole `json:"roles"`
	Enabled             bool       `json:"enabled"`
	AccountLocked       bool       `json:"accountLocked"`
	FailedLoginAttempts int        `json:"failedLoginAttempts"`
	LockTime            *time.Time `json:"lockTime,omitempty"`
	LastLogin           *time.Time `json:"lastLogin,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role UserRole) bool {
	return slices.Contains(u.Roles, role)
}

type Author struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	BirthYear   int       `json:"birthYear,omitempty"`
	Nationality string    `json:"nationality,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Book.Author is a free-text byline; AuthorID, when set, references an Author.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author,omitempty"`
	AuthorID        string    `json:"authorId,omitempty"`
	ISBN            string    `json:"isbn,omitempty"`
	PublicationYear int       `json:"publicationYear"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BookDetails is a catalog row joined with its referenced author. The author
// fields are empty for books without one.
type BookDetails struct {
	BookID            string `json:"bookId"`
	Title             string `json:"title"`
	PublicationYear   int    `json:"publicationYear"`
	AvailableCopies   int    `json:"availableCopies"`
	TotalCopies       int    `json:"totalCopies"`
	AuthorID          string `json:"authorId,omitempty"`
	AuthorFirstName   string `json:"authorFirstName,omitempty"`
	AuthorLastName    string `json:"authorLastName,omitempty"`
	AuthorNationality string `json:"authorNationality,omitempty"`
}

// Loan dates are calendar days encoded as midnight UTC.
type Loan struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	BookID       string     `json:"bookId"`
	BorrowedDate time.Time  `json:"borrowedDate"`
	DueDate      time.Time  `json:"dueDate"`
	ReturnedDate *time.Time `json:"returnedDate,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool {
	return l.ReturnedDate == nil
}

// OverdueOn reports whether an open loan is past due on the given day.
func (l Loan) OverdueOn(today time.Time) bool {
	return l.Open() && l.DueDate.Before(today)
}

type SecurityEventType string

const (
	EventLoginSuccess    SecurityEventType = "LOGIN_SUCCESS"
	EventLoginFailure    SecurityEventType = "LOGIN_FAILURE"
	EventAccountLocked   SecurityEventType = "ACCOUNT_LOCKED"
	EventAccountUnlocked SecurityEventType = "ACCOUNT_UNLOCKED"
	EventLogout          SecurityEventType = "LOGOUT"
	EventRegistration    SecurityEventType = "REGISTRATION"
	EventAccessDenied    SecurityEventType = "ACCESS_DENIED"
	EventLoanCreated     SecurityEventType = "LOAN_CREATED"
	EventLoanReturned    SecurityEventType = "LOAN_RETURNED"
	EventLoanExtended    SecurityEventType = "LOAN_EXTENDED"
	EventOverdueReminder SecurityEventType = "OVERDUE_REMINDER"
)

type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      SecurityEventType `json:"eventType"`
	Principal string            `json:"principal"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// ClientMeta describes where a request came from.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type LockState string

const (
	LockStateOpen   LockState = "open"
	LockStateLocked LockState = "locked"
)
