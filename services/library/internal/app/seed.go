package app

import (
	"context"
	"fmt"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/auth"
	"github.com/Fabian0270/library-system/pkg/domain"
)

type demoUser struct {
	firstName string
	lastName  string
	email     string
	password  string
	roles     []domain.UserRole
}

var demoUsers = []demoUser{
	{"Admin", "Administratör", "admin@bibliotek.se", "Admin123", []domain.UserRole{domain.RoleAdmin, domain.RoleUser}},
	{"Test", "Användare", "user@bibliotek.se", "User123", []domain.UserRole{domain.RoleUser}},
}

// demoAuthors are keyed by the byline the demo books carry.
var demoAuthors = map[string]AuthorInput{
	"Astrid Lindgren": {FirstName: "Astrid", LastName: "Lindgren", BirthYear: 1907, Nationality: "Swedish"},
	"J.K. Rowling":    {FirstName: "J.K.", LastName: "Rowling", BirthYear: 1965, Nationality: "British"},
	"Stephen King":    {FirstName: "Stephen", LastName: "King", BirthYear: 1947, Nationality: "American"},
}

var demoBooks = []BookInput{
	{Title: "Pippi Långstrump", Author: "Astrid Lindgren", PublicationYear: 1945, TotalCopies: 5},
	{Title: "Ronja Rövardotter", Author: "Astrid Lindgren", PublicationYear: 1981, TotalCopies: 2},
	{Title: "Emil i Lönneberga", Author: "Astrid Lindgren", PublicationYear: 1963, TotalCopies: 3},
	{Title: "Bröderna Lejonhjärta", Author: "Astrid Lindgren", PublicationYear: 1973, TotalCopies: 2},
	{Title: "Harry Potter och De Vises Sten", Author: "J.K. Rowling", PublicationYear: 1997, TotalCopies: 5},
	{Title: "Harry Potter och Hemligheternas Kammare", Author: "J.K. Rowling", PublicationYear: 1998, TotalCopies: 4},
	{Title: "Harry Potter och Fången från Azkaban", Author: "J.K. Rowling", PublicationYear: 1999, TotalCopies: 0},
	{Title: "The Shining", Author: "Stephen King", PublicationYear: 1977, TotalCopies: 3},
	{Title: "IT", Author: "Stephen King", PublicationYear: 1986, TotalCopies: 2},
	{Title: "The Green Mile", Author: "Stephen King", PublicationYear: 1996, TotalCopies: 3},
}

// SeedDemoData creates the demo accounts that are missing and fills an empty
// catalog with sample authors and books. Running it again changes nothing.
func (a *App) SeedDemoData(ctx context.Context) error {
	logger := util.LoggerFromContext(ctx)
	for _, du := range demoUsers {
		exists, err := a.store.HasUserEmail(ctx, du.email)
		if err != nil {
			return fmt.Errorf("check demo user: %w", err)
		}
		if exists {
			continue
		}
		hash, err := auth.HashPassword(du.password)
		if err != nil {
			return fmt.Errorf("hash demo password: %w", err)
		}
		if _, err := a.createUser(ctx, du.firstName, du.lastName, du.email, hash, du.roles); err != nil {
			return err
		}
		logger.Info("demo user created", "email", du.email)
	}

	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	if len(books) > 0 {
		return nil
	}
	authorIDs := make(map[string]string, len(demoAuthors))
	for byline, in := range demoAuthors {
		author, err := a.CreateAuthor(ctx, in)
		if err != nil {
			return fmt.Errorf("seed author %q: %w", byline, err)
		}
		authorIDs[byline] = author.ID
	}
	for _, in := range demoBooks {
		in.AuthorID = authorIDs[in.Author]
		if _, err := a.CreateBook(ctx, in); err != nil {
			return fmt.Errorf("seed book %q: %w", in.Title, err)
		}
	}
	logger.Info("demo catalog created", "books", len(demoBooks))
	return nil
}
