package app

import (
	"context"

	"github.com/Fabian0270/library-system/pkg/domain"
)

func (a *App) CreateLoan(ctx context.Context, userID, bookID string) (domain.Loan, error) {
	return a.ledger.CreateLoan(ctx, userID, bookID)
}

func (a *App) ReturnLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	return a.ledger.ReturnLoan(ctx, loanID)
}

func (a *App) ExtendLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	return a.ledger.ExtendLoan(ctx, loanID)
}

func (a *App) GetLoan(ctx context.Context, loanID string) (domain.Loan, error) {
	return a.ledger.GetLoan(ctx, loanID)
}

func (a *App) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	return a.ledger.ListLoans(ctx)
}

func (a *App) ListLoansByUser(ctx context.Context, userID string) ([]domain.Loan, error) {
	return a.ledger.ListLoansByUser(ctx, userID)
}

func (a *App) ListOverdue(ctx context.Context) ([]domain.Loan, error) {
	return a.ledger.ListOverdue(ctx)
}
