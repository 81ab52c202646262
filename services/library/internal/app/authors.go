package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Fabian0270/library-system/pkg/domain"
)

const (
	maxAuthorNameLength  = 100
	maxNationalityLength = 60
)

// AuthorInput carries editable author fields.
type AuthorInput struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	BirthYear   int    `json:"birthYear"`
	Nationality string `json:"nationality"`
}

func (in AuthorInput) validate() error {
	for _, name := range []string{in.FirstName, in.LastName} {
		n := utf8.RuneCountInString(strings.TrimSpace(name))
		if n == 0 || n > maxAuthorNameLength {
			return ErrAuthorNameRequired
		}
	}
	if in.BirthYear < minPublicationYear || in.BirthYear > maxPublicationYear {
		return ErrInvalidBirthYear
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Nationality)) > maxNationalityLength {
		return ErrInvalidNationality
	}
	return nil
}

func (in AuthorInput) apply(a *domain.Author) {
	a.FirstName = strings.TrimSpace(in.FirstName)
	a.LastName = strings.TrimSpace(in.LastName)
	a.BirthYear = in.BirthYear
	a.Nationality = strings.TrimSpace(in.Nationality)
}

// ListAuthors returns every author.
func (a *App) ListAuthors(ctx context.Context) ([]domain.Author, error) {
	authors, err := a.store.ListAuthors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	return authors, nil
}

// AuthorsByLastName returns the authors whose last name matches, ignoring case.
func (a *App) AuthorsByLastName(ctx context.Context, lastName string) ([]domain.Author, error) {
	lastName = strings.TrimSpace(lastName)
	if lastName == "" {
		return nil, ErrAuthorNameRequired
	}
	authors, err := a.store.ListAuthorsByLastName(ctx, lastName)
	if err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	return authors, nil
}

// GetAuthor returns one author.
func (a *App) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	author, ok, err := a.store.GetAuthor(ctx, id)
	if err != nil {
		return domain.Author{}, fmt.Errorf("get author: %w", err)
	}
	if !ok {
		return domain.Author{}, domain.ErrAuthorNotFound
	}
	return author, nil
}

func (a *App) CreateAuthor(ctx context.Context, in AuthorInput) (domain.Author, error) {
	if err := in.validate(); err != nil {
		return domain.Author{}, err
	}
	now := a.now().UTC()
	author := domain.Author{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	in.apply(&author)
	if err := a.store.SaveAuthor(ctx, author); err != nil {
		return domain.Author{}, fmt.Errorf("save author: %w", err)
	}
	return author, nil
}

func (a *App) UpdateAuthor(ctx context.Context, id string, in AuthorInput) (domain.Author, error) {
	if err := in.validate(); err != nil {
		return domain.Author{}, err
	}
	author, err := a.GetAuthor(ctx, id)
	if err != nil {
		return domain.Author{}, err
	}
	in.apply(&author)
	author.UpdatedAt = a.now().UTC()
	if err := a.store.SaveAuthor(ctx, author); err != nil {
		return domain.Author{}, fmt.Errorf("save author: %w", err)
	}
	return author, nil
}

// DeleteAuthor removes an author that no book references.
func (a *App) DeleteAuthor(ctx context.Context, id string) error {
	if err := a.store.DeleteAuthor(ctx, id); err != nil {
		return fmt.Errorf("delete author: %w", err)
	}
	return nil
}
