package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                  string `gorm:"primaryKey"`
	FirstName           string
	LastName            string
	Email               string `gorm:"uniqueIndex;not null"`
	PasswordHash        string `gorm:"not null"`
	Roles               string `gorm:"not null"`
	Enabled             bool   `gorm:"not null"`
	AccountLocked       bool   `gorm:"not null"`
	FailedLoginAttempts int    `gorm:"not null;check:chk_users_failed_attempts,failed_login_attempts >= 0"`
	LockTime            *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time
}

func (UserModel) TableName() string { return "users" }

type AuthorModel struct {
	ID          string `gorm:"primaryKey"`
	FirstName   string `gorm:"not null"`
	LastName    string `gorm:"not null;index"`
	BirthYear   int
	Nationality string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (AuthorModel) TableName() string { return "authors" }

type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null;index"`
	Author          string
	AuthorID        *string `gorm:"index"`
	ISBN            string `gorm:"column:isbn"`
	PublicationYear int
	TotalCopies     int       `gorm:"not null;check:chk_books_total_copies,total_copies >= 0"`
	AvailableCopies int       `gorm:"not null;check:chk_books_available_copies,available_copies >= 0 AND available_copies <= total_copies"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (BookModel) TableName() string { return "books" }

// LoanModel dates are calendar days. The partial unique index on open loans
// is created by NewGormStore because GORM tags cannot express its WHERE clause.
type LoanModel struct {
	ID           string     `gorm:"primaryKey"`
	UserID       string     `gorm:"not null;index"`
	BookID       string     `gorm:"not null;index"`
	BorrowedDate time.Time  `gorm:"type:date;not null"`
	DueDate      time.Time  `gorm:"type:date;not null;index"`
	ReturnedDate *time.Time `gorm:"type:date"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (LoanModel) TableName() string { return "loans" }

type SecurityEventModel struct {
	ID        string `gorm:"primaryKey"`
	EventType string `gorm:"not null;index:idx_security_events_principal_type,priority:2"`
	Principal string `gorm:"not null;index:idx_security_events_principal_type,priority:1"`
	IPAddress string `gorm:"column:ip_address"`
	UserAgent string
	EventTime time.Time `gorm:"not null;index"`
	Success   bool      `gorm:"not null"`
	Reason    string
	Details   datatypes.JSON
}

func (SecurityEventModel) TableName() string { return "security_events" }
