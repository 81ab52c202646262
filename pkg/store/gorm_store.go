package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Fabian0270/library-system/internal/retry"
	"github.com/Fabian0270/library-system/pkg/domain"
)

const migrateLockID int64 = 58213307

// SQLiteScheme prefixes DSNs that should open a SQLite file instead of Postgres.
const SQLiteScheme = "sqlite:"

// GormStore implements Store using GORM + Postgres. SQLite is supported for
// local runs and tests; its connection pool is pinned to one connection so
// writers never see "database is locked".
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, SQLiteScheme); ok {
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000"
		}
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AuthorModel{}, &BookModel{}, &LoanModel{}, &SecurityEventModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_one_open
			ON loans (user_id, book_id)
			WHERE returned_date IS NULL
		`).Error; err != nil {
			return fmt.Errorf("ensure open loan index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return wrapErr("ping", sqlDB.PingContext(ctx))
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// transaction runs fn in a DB transaction, re-running it on serialization
// failures and deadlocks. fn must not have side effects outside tx.
func (s *GormStore) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}, retry.WithRetryIf(isRetryableTx))
	return wrapErr(op, err)
}

// lockRow selects the row id with the given lock strength. SQLite ignores the
// locking clause; its single connection already serializes transactions.
func lockRow(tx *gorm.DB, model any, strength, id string) (bool, error) {
	err := tx.Clauses(clause.Locking{Strength: strength}).Select("id").Where("id = ?", id).Take(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// users

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "email", "password_hash", "roles", "enabled", "updated_at"}),
	}).Create(&model).Error
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return wrapErr("save user", err)
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, wrapErr("check email", err)
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, wrapErr("get user by email", err)
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, wrapErr("get user", err)
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("email ASC").Find(&models).Error; err != nil {
		return nil, wrapErr("list users", err)
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, wrapErr("count users", err)
	}
	return int(count), nil
}

// DeleteUser removes a user without open loans.
func (s *GormStore) DeleteUser(ctx context.Context, id string) error {
	return s.transaction(ctx, "delete user", func(tx *gorm.DB) error {
		found, err := lockRow(tx, &UserModel{}, clause.LockingStrengthUpdate, id)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrUserNotFound
		}
		var open int64
		if err := tx.Model(&LoanModel{}).Where("user_id = ? AND returned_date IS NULL", id).Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrOpenLoansExist
		}
		return tx.Delete(&UserModel{}, "id = ?", id).Error
	})
}

// UpdateLockout applies fn to the row-locked user and writes the lockout
// fields and events in the same transaction.
func (s *GormStore) UpdateLockout(ctx context.Context, userID string, fn LockoutFunc) (domain.User, error) {
	var updated domain.User
	err := s.transaction(ctx, "update lockout", func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).First(&model, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		u := userFromModel(model)
		events, err := fn(&u)
		if err != nil {
			return err
		}
		u.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]any{
			"account_locked":        u.AccountLocked,
			"failed_login_attempts": u.FailedLoginAttempts,
			"lock_time":             u.LockTime,
			"last_login":            u.LastLogin,
			"updated_at":            u.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		if err := insertEvents(tx, events); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return updated, nil
}

// authors

// SaveAuthor inserts an author or updates its profile.
func (s *GormStore) SaveAuthor(ctx context.Context, a domain.Author) error {
	model := authorToModel(a)
	return wrapErr("save author", s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "birth_year", "nationality", "updated_at"}),
	}).Create(&model).Error)
}

// GetAuthor retrieves an author.
func (s *GormStore) GetAuthor(ctx context.Context, id string) (domain.Author, bool, error) {
	var model AuthorModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Author{}, false, nil
		}
		return domain.Author{}, false, wrapErr("get author", err)
	}
	return authorFromModel(model), true, nil
}

// ListAuthors returns all authors ordered by last and first name.
func (s *GormStore) ListAuthors(ctx context.Context) ([]domain.Author, error) {
	return s.listAuthors(ctx)
}

// ListAuthorsByLastName matches last names case-insensitively.
func (s *GormStore) ListAuthorsByLastName(ctx context.Context, lastName string) ([]domain.Author, error) {
	return s.listAuthors(ctx, "LOWER(last_name) = ?", strings.ToLower(strings.TrimSpace(lastName)))
}

func (s *GormStore) listAuthors(ctx context.Context, conds ...any) ([]domain.Author, error) {
	var models []AuthorModel
	tx := s.db.WithContext(ctx).Order("last_name ASC").Order("first_name ASC").Order("id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, wrapErr("list authors", err)
	}
	res := make([]domain.Author, 0, len(models))
	for _, m := range models {
		res = append(res, authorFromModel(m))
	}
	return res, nil
}

// DeleteAuthor removes an author no book references.
func (s *GormStore) DeleteAuthor(ctx context.Context, id string) error {
	return s.transaction(ctx, "delete author", func(tx *gorm.DB) error {
		found, err := lockRow(tx, &AuthorModel{}, clause.LockingStrengthUpdate, id)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrAuthorNotFound
		}
		var refs int64
		if err := tx.Model(&BookModel{}).Where("author_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return domain.ErrAuthorHasBooks
		}
		return tx.Delete(&AuthorModel{}, "id = ?", id).Error
	})
}

// books

// SaveBook inserts a book or updates its catalog metadata. The referenced
// author is share-locked so a concurrent DeleteAuthor cannot orphan the book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	if b.TotalCopies < 0 {
		return ErrNegativeCopies
	}
	b.AvailableCopies = b.TotalCopies
	model := bookToModel(b)
	return s.transaction(ctx, "save book", func(tx *gorm.DB) error {
		if model.AuthorID != nil {
			found, err := lockRow(tx, &AuthorModel{}, clause.LockingStrengthShare, *model.AuthorID)
			if err != nil {
				return err
			}
			if !found {
				return domain.ErrAuthorNotFound
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "author", "author_id", "isbn", "publication_year", "updated_at"}),
		}).Create(&model).Error
	})
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, wrapErr("get book", err)
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.listBooks(ctx)
}

// SearchBooksByTitle matches a case-insensitive title substring.
func (s *GormStore) SearchBooksByTitle(ctx context.Context, query string) ([]domain.Book, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	return s.listBooks(ctx, `LOWER(title) LIKE ? ESCAPE '\'`, pattern)
}

func (s *GormStore) listBooks(ctx context.Context, conds ...any) ([]domain.Book, error) {
	var models []BookModel
	tx := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, wrapErr("list books", err)
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// bookDetailsRow receives the books/authors join; author columns are NULL
// for books without an author.
type bookDetailsRow struct {
	BookID            string
	Title             string
	PublicationYear   int
	AvailableCopies   int
	TotalCopies       int
	AuthorID          *string
	AuthorFirstName   *string
	AuthorLastName    *string
	AuthorNationality *string
}

// ListBookDetails joins every book with its author in one query.
func (s *GormStore) ListBookDetails(ctx context.Context) ([]domain.BookDetails, error) {
	var rows []bookDetailsRow
	err := s.db.WithContext(ctx).Table("books").
		Select(`books.id AS book_id, books.title, books.publication_year, books.available_copies, books.total_copies,
			authors.id AS author_id, authors.first_name AS author_first_name,
			authors.last_name AS author_last_name, authors.nationality AS author_nationality`).
		Joins("LEFT JOIN authors ON authors.id = books.author_id").
		Order("books.created_at ASC").Order("books.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapErr("list book details", err)
	}
	res := make([]domain.BookDetails, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.BookDetails{
			BookID:            r.BookID,
			Title:             r.Title,
			PublicationYear:   r.PublicationYear,
			AvailableCopies:   r.AvailableCopies,
			TotalCopies:       r.TotalCopies,
			AuthorID:          deref(r.AuthorID),
			AuthorFirstName:   deref(r.AuthorFirstName),
			AuthorLastName:    deref(r.AuthorLastName),
			AuthorNationality: deref(r.AuthorNationality),
		})
	}
	return res, nil
}

// DeleteBook removes a book with no copies on loan.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.transaction(ctx, "delete book", func(tx *gorm.DB) error {
		found, err := lockRow(tx, &BookModel{}, clause.LockingStrengthUpdate, id)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrBookNotFound
		}
		var open int64
		if err := tx.Model(&LoanModel{}).Where("book_id = ? AND returned_date IS NULL", id).Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrOpenLoansExist
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// inventory

// TryReserve decrements availability in one conditional UPDATE.
func (s *GormStore) TryReserve(ctx context.Context, bookID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ? AND available_copies > 0", bookID).
		Updates(map[string]any{
			"available_copies": gorm.Expr("available_copies - 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, wrapErr("reserve copy", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release increments availability in one conditional UPDATE capped at total.
func (s *GormStore) Release(ctx context.Context, bookID string) (bool, error) {
	released, err := releaseCopy(s.db.WithContext(ctx), bookID)
	if err != nil {
		return false, wrapErr("release copy", err)
	}
	return released, nil
}

func releaseCopy(tx *gorm.DB, bookID string) (bool, error) {
	res := tx.Model(&BookModel{}).
		Where("id = ? AND available_copies < total_copies", bookID).
		Updates(map[string]any{
			"available_copies": gorm.Expr("available_copies + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Availability returns the current counters.
func (s *GormStore) Availability(ctx context.Context, bookID string) (int, int, bool, error) {
	book, ok, err := s.GetBook(ctx, bookID)
	if err != nil || !ok {
		return 0, 0, ok, err
	}
	return book.AvailableCopies, book.TotalCopies, true, nil
}

// SetTotalCopies changes the total and shifts availability by the same delta.
func (s *GormStore) SetTotalCopies(ctx context.Context, bookID string, total int) (domain.Book, error) {
	if total < 0 {
		return domain.Book{}, ErrNegativeCopies
	}
	var book domain.Book
	err := s.transaction(ctx, "set total copies", func(tx *gorm.DB) error {
		res := tx.Model(&BookModel{}).
			Where("id = ? AND available_copies + (? - total_copies) >= 0", bookID, total).
			Updates(map[string]any{
				"available_copies": gorm.Expr("available_copies + (? - total_copies)", total),
				"total_copies":     total,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		var model BookModel
		if err := tx.First(&model, "id = ?", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBookNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return domain.ErrCopiesInUse
		}
		book = bookFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

// loans

// CreateLoan inserts an open loan. The partial unique index rejects a second
// open loan for the same user and book.
func (s *GormStore) CreateLoan(ctx context.Context, l domain.Loan) error {
	model := loanToModel(l)
	return s.transaction(ctx, "create loan", func(tx *gorm.DB) error {
		found, err := lockRow(tx, &UserModel{}, clause.LockingStrengthShare, l.UserID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrUserNotFound
		}
		found, err = lockRow(tx, &BookModel{}, clause.LockingStrengthShare, l.BookID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrBookNotFound
		}
		if err := tx.Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateLoan
			}
			return err
		}
		return nil
	})
}

// GetLoan retrieves a loan by ID.
func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, wrapErr("get loan", err)
	}
	return loanFromModel(model), true, nil
}

// HasOpenLoan reports whether the user holds an open loan for the book.
func (s *GormStore) HasOpenLoan(ctx context.Context, userID, bookID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LoanModel{}).
		Where("user_id = ? AND book_id = ? AND returned_date IS NULL", userID, bookID).
		Count(&count).Error; err != nil {
		return false, wrapErr("check open loan", err)
	}
	return count > 0, nil
}

// ListLoans returns all loans ordered by creation.
func (s *GormStore) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	return s.listLoans(ctx, "created_at ASC")
}

// ListLoansByUser returns the loans of one user.
func (s *GormStore) ListLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	return s.listLoans(ctx, "created_at ASC", "user_id = ?", userID)
}

// ListOverdueLoans returns open loans due before today.
func (s *GormStore) ListOverdueLoans(ctx context.Context, today time.Time) ([]domain.Loan, error) {
	return s.listLoans(ctx, "due_date ASC", "returned_date IS NULL AND due_date < ?", today)
}

func (s *GormStore) listLoans(ctx context.Context, order string, conds ...any) ([]domain.Loan, error) {
	var models []LoanModel
	tx := s.db.WithContext(ctx).Order(order).Order("id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, wrapErr("list loans", err)
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

// CloseLoan marks a loan returned and releases its copy in one transaction.
func (s *GormStore) CloseLoan(ctx context.Context, id string, returned time.Time) (domain.Loan, error) {
	var loan domain.Loan
	err := s.transaction(ctx, "close loan", func(tx *gorm.DB) error {
		var model LoanModel
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrLoanNotFound
			}
			return err
		}
		if model.ReturnedDate != nil {
			return domain.ErrAlreadyReturned
		}
		now := time.Now().UTC()
		res := tx.Model(&LoanModel{}).
			Where("id = ? AND returned_date IS NULL", id).
			Updates(map[string]any{"returned_date": returned, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyReturned
		}
		released, err := releaseCopy(tx, model.BookID)
		if err != nil {
			return err
		}
		if !released {
			return domain.ErrInventoryOverflow
		}
		model.ReturnedDate = &returned
		model.UpdatedAt = now
		loan = loanFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loan, nil
}

// UpdateDueDate moves the due date when the loan still matches expected.
func (s *GormStore) UpdateDueDate(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&LoanModel{}).
		Where("id = ? AND returned_date IS NULL AND due_date = ?", id, expected).
		Updates(map[string]any{"due_date": next, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, wrapErr("update due date", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// audit

// AppendEvents inserts events; existing rows are never updated.
func (s *GormStore) AppendEvents(ctx context.Context, events ...domain.SecurityEvent) error {
	return wrapErr("append events", insertEvents(s.db.WithContext(ctx), events))
}

func insertEvents(tx *gorm.DB, events []domain.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]SecurityEventModel, 0, len(events))
	for _, e := range events {
		model, err := eventToModel(normalizeEvent(e))
		if err != nil {
			return err
		}
		models = append(models, model)
	}
	return tx.Create(&models).Error
}

// CountEvents counts events of a type for a principal since a point in time.
func (s *GormStore) CountEvents(ctx context.Context, principal string, eventType domain.SecurityEventType, since time.Time) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SecurityEventModel{}).
		Where("principal = ? AND event_type = ? AND event_time >= ?", principal, string(eventType), since.UTC()).
		Count(&count).Error; err != nil {
		return 0, wrapErr("count events", err)
	}
	return int(count), nil
}

// LastEvent returns the most recent event of a type for a principal.
func (s *GormStore) LastEvent(ctx context.Context, principal string, eventType domain.SecurityEventType) (domain.SecurityEvent, bool, error) {
	var model SecurityEventModel
	err := s.db.WithContext(ctx).
		Where("principal = ? AND event_type = ?", principal, string(eventType)).
		Order("event_time DESC").Order("id DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SecurityEvent{}, false, nil
	}
	if err != nil {
		return domain.SecurityEvent{}, false, wrapErr("last event", err)
	}
	return eventFromModel(model), true, nil
}

// ListEvents returns matching events ordered by timestamp.
func (s *GormStore) ListEvents(ctx context.Context, filter EventFilter) ([]domain.SecurityEvent, error) {
	tx := s.db.WithContext(ctx).Model(&SecurityEventModel{})
	if filter.Principal != "" {
		tx = tx.Where("principal = ?", filter.Principal)
	}
	if filter.Type != "" {
		tx = tx.Where("event_type = ?", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		tx = tx.Where("event_time >= ?", filter.Since.UTC())
	}
	var models []SecurityEventModel
	if filter.Limit > 0 {
		tx = tx.Order("event_time DESC").Order("id DESC").Limit(filter.Limit)
	} else {
		tx = tx.Order("event_time ASC").Order("id ASC")
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, wrapErr("list events", err)
	}
	res := make([]domain.SecurityEvent, len(models))
	for i, m := range models {
		res[i] = eventFromModel(m)
	}
	if filter.Limit > 0 {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	return res, nil
}

// errors

// wrapErr adds the operation name and marks transient failures as
// domain.ErrUnavailable. Domain errors pass through untouched.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPreconditionFailed) ||
		errors.Is(err, domain.ErrInvariantViolation) || errors.Is(err, domain.ErrUnavailable) ||
		errors.Is(err, ErrNegativeCopies) || errors.Is(err, ErrEmailTaken) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014", "53300":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return isSQLiteBusy(err)
}

// isRetryableTx reports failures after which the whole transaction may be re-run.
func isRetryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return isSQLiteBusy(err)
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func escapeLike(in string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(in)
}

// mappers

func userToModel(u domain.User) UserModel {
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, string(r))
	}
	return UserModel{
		ID:                  u.ID,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Email:               u.Email,
		PasswordHash:        u.PasswordHash,
		Roles:               strings.Join(roles, ","),
		Enabled:             u.Enabled,
		AccountLocked:       u.AccountLocked,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockTime:            utcPtr(u.LockTime),
		LastLogin:           utcPtr(u.LastLogin),
		CreatedAt:           u.CreatedAt.UTC(),
		UpdatedAt:           u.UpdatedAt.UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	var roles []domain.UserRole
	for _, r := range strings.Split(m.Roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, domain.UserRole(r))
		}
	}
	return domain.User{
		ID:                  m.ID,
		FirstName:           m.FirstName,
		LastName:            m.LastName,
		Email:               m.Email,
		PasswordHash:        m.PasswordHash,
		Roles:               roles,
		Enabled:             m.Enabled,
		AccountLocked:       m.AccountLocked,
		FailedLoginAttempts: m.FailedLoginAttempts,
		LockTime:            utcPtr(m.LockTime),
		LastLogin:           utcPtr(m.LastLogin),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

func authorToModel(a domain.Author) AuthorModel {
	return AuthorModel{
		ID:          a.ID,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		BirthYear:   a.BirthYear,
		Nationality: a.Nationality,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func authorFromModel(m AuthorModel) domain.Author {
	return domain.Author{
		ID:          m.ID,
		FirstName:   m.FirstName,
		LastName:    m.LastName,
		BirthYear:   m.BirthYear,
		Nationality: m.Nationality,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func bookToModel(b domain.Book) BookModel {
	var authorID *string
	if b.AuthorID != "" {
		authorID = &b.AuthorID
	}
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		AuthorID:        authorID,
		ISBN:            b.ISBN,
		PublicationYear: b.PublicationYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		AuthorID:        deref(m.AuthorID),
		ISBN:            m.ISBN,
		PublicationYear: m.PublicationYear,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:           l.ID,
		UserID:       l.UserID,
		BookID:       l.BookID,
		BorrowedDate: l.BorrowedDate.UTC(),
		DueDate:      l.DueDate.UTC(),
		ReturnedDate: utcPtr(l.ReturnedDate),
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:           m.ID,
		UserID:       m.UserID,
		BookID:       m.BookID,
		BorrowedDate: m.BorrowedDate.UTC(),
		DueDate:      m.DueDate.UTC(),
		ReturnedDate: utcPtr(m.ReturnedDate),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func eventToModel(e domain.SecurityEvent) (SecurityEventModel, error) {
	var details datatypes.JSON
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return SecurityEventModel{}, fmt.Errorf("encode event details: %w", err)
		}
		details = datatypes.JSON(raw)
	}
	return SecurityEventModel{
		ID:        e.ID,
		EventType: string(e.Type),
		Principal: e.Principal,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		EventTime: e.Timestamp.UTC(),
		Success:   e.Success,
		Reason:    e.Reason,
		Details:   details,
	}, nil
}

func eventFromModel(m SecurityEventModel) domain.SecurityEvent {
	var details map[string]string
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &details)
	}
	return domain.SecurityEvent{
		ID:        m.ID,
		Type:      domain.SecurityEventType(m.EventType),
		Principal: m.Principal,
		IPAddress: m.IPAddress,
		UserAgent: m.UserAgent,
		Timestamp: m.EventTime.UTC(),
		Success:   m.Success,
		Reason:    m.Reason,
		Details:   details,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ Store = (*GormStore)(nil)
