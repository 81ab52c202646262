package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Fabian0270/library-system/pkg/domain"
)

const (
	minPublicationYear = 0
	maxPublicationYear = 9999
)

// BookInput carries editable catalog fields.
type BookInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	AuthorID        string `json:"authorId"`
	ISBN            string `json:"isbn"`
	PublicationYear int    `json:"publicationYear"`
	TotalCopies     int    `json:"totalCopies"`
}

func (in BookInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrTitleRequired
	}
	if in.TotalCopies < 0 {
		return ErrInvalidCopies
	}
	if in.PublicationYear < minPublicationYear || in.PublicationYear > maxPublicationYear {
		return ErrInvalidPublication
	}
	return nil
}

// ListBooks returns the whole catalog.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// ListBookDetails returns the catalog with author names and nationality.
func (a *App) ListBookDetails(ctx context.Context) ([]domain.BookDetails, error) {
	details, err := a.store.ListBookDetails(ctx)
	if err != nil {
		return nil, fmt.Errorf("list book details: %w", err)
	}
	return details, nil
}

// GetBook returns one book.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

// SearchBooks matches titles case-insensitively by substring.
func (a *App) SearchBooks(ctx context.Context, title string) ([]domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	books, err := a.store.SearchBooksByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// CreateBook adds a title with all of its copies available.
func (a *App) CreateBook(ctx context.Context, in BookInput) (domain.Book, error) {
	if err := in.validate(); err != nil {
		return domain.Book{}, err
	}
	now := a.now().UTC()
	book := domain.Book{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(in.Title),
		Author:          strings.TrimSpace(in.Author),
		AuthorID:        strings.TrimSpace(in.AuthorID),
		ISBN:            strings.TrimSpace(in.ISBN),
		PublicationYear: in.PublicationYear,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBook edits catalog metadata. A changed total shifts availability by
// the same delta and fails while it would drop below the copies on loan.
func (a *App) UpdateBook(ctx context.Context, id string, in BookInput) (domain.Book, error) {
	if err := in.validate(); err != nil {
		return domain.Book{}, err
	}
	book, err := a.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	// The copy count is written first, so a dangling author must fail before it.
	if authorID := strings.TrimSpace(in.AuthorID); authorID != "" {
		if _, err := a.GetAuthor(ctx, authorID); err != nil {
			return domain.Book{}, err
		}
	}
	if in.TotalCopies != book.TotalCopies {
		if book, err = a.store.SetTotalCopies(ctx, id, in.TotalCopies); err != nil {
			return domain.Book{}, fmt.Errorf("set total copies: %w", err)
		}
	}
	book.Title = strings.TrimSpace(in.Title)
	book.Author = strings.TrimSpace(in.Author)
	book.AuthorID = strings.TrimSpace(in.AuthorID)
	book.ISBN = strings.TrimSpace(in.ISBN)
	book.PublicationYear = in.PublicationYear
	book.UpdatedAt = a.now().UTC()
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a title that has no copies on loan.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	if err := a.store.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}
