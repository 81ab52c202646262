package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Fabian0270/library-system/pkg/domain"
)

func TestAuthorLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.app.CreateAuthor(ctx, AuthorInput{FirstName: "Astrid"}); !errors.Is(err, ErrAuthorNameRequired) {
		t.Fatalf("expected name required, got %v", err)
	}
	if _, err := f.app.CreateAuthor(ctx, AuthorInput{FirstName: "Astrid", LastName: "Lindgren", BirthYear: -1}); !errors.Is(err, ErrInvalidBirthYear) {
		t.Fatalf("expected birth year error, got %v", err)
	}
	author, err := f.app.CreateAuthor(ctx, AuthorInput{FirstName: " Astrid ", LastName: "Lindgren", BirthYear: 1907, Nationality: "Swedish"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	if author.FirstName != "Astrid" || author.ID == "" {
		t.Fatalf("unexpected author: %+v", author)
	}

	found, err := f.app.AuthorsByLastName(ctx, "LINDGREN")
	if err != nil || len(found) != 1 || found[0].ID != author.ID {
		t.Fatalf("by last name: %v %+v", err, found)
	}
	if _, err := f.app.AuthorsByLastName(ctx, " "); !errors.Is(err, ErrAuthorNameRequired) {
		t.Fatalf("expected blank last name rejected, got %v", err)
	}

	f.clock.Advance(time.Minute)
	updated, err := f.app.UpdateAuthor(ctx, author.ID, AuthorInput{FirstName: "Astrid", LastName: "Lindgren", BirthYear: 1907, Nationality: "Sweden"})
	if err != nil {
		t.Fatalf("update author: %v", err)
	}
	if updated.Nationality != "Sweden" || !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if _, err := f.app.UpdateAuthor(ctx, "missing", AuthorInput{FirstName: "A", LastName: "B"}); !errors.Is(err, domain.ErrAuthorNotFound) {
		t.Fatalf("expected author not found, got %v", err)
	}

	book, err := f.app.CreateBook(ctx, BookInput{Title: "Pippi Långstrump", AuthorID: author.ID, PublicationYear: 1945, TotalCopies: 1})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	details, err := f.app.ListBookDetails(ctx)
	if err != nil || len(details) != 1 {
		t.Fatalf("details: %v %+v", err, details)
	}
	if d := details[0]; d.BookID != book.ID || d.AuthorLastName != "Lindgren" || d.AuthorNationality != "Sweden" {
		t.Fatalf("unexpected details: %+v", d)
	}

	if err := f.app.DeleteAuthor(ctx, author.ID); !errors.Is(err, domain.ErrAuthorHasBooks) {
		t.Fatalf("expected referenced author kept, got %v", err)
	}
	if err := f.app.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if err := f.app.DeleteAuthor(ctx, author.ID); err != nil {
		t.Fatalf("delete author: %v", err)
	}
	if _, err := f.app.GetAuthor(ctx, author.ID); !errors.Is(err, domain.ErrAuthorNotFound) {
		t.Fatalf("expected author gone, got %v", err)
	}
}

func TestUpdateBookUnknownAuthorLeavesCopiesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book, err := f.app.CreateBook(ctx, BookInput{Title: "Mio, min Mio", TotalCopies: 2})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := f.app.CreateBook(ctx, BookInput{Title: "Orphan", AuthorID: "missing", TotalCopies: 1}); !errors.Is(err, domain.ErrAuthorNotFound) {
		t.Fatalf("expected unknown author rejected on create, got %v", err)
	}
	_, err = f.app.UpdateBook(ctx, book.ID, BookInput{Title: "Mio, min Mio", AuthorID: "missing", TotalCopies: 5})
	if !errors.Is(err, domain.ErrAuthorNotFound) {
		t.Fatalf("expected unknown author rejected on update, got %v", err)
	}
	got, err := f.app.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.TotalCopies != 2 || got.AvailableCopies != 2 {
		t.Fatalf("copies changed by a rejected update: %+v", got)
	}
}
