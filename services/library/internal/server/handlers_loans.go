package server

import (
	"net/http"
	"strings"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/services/library/internal/policy"
)

type createLoanRequest struct {
	BookID string `json:"bookId"`
	UserID string `json:"userId"`
}

// handleListLoans returns every loan to callers allowed to list all of them
// and the caller's own loans otherwise.
func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	var (
		loans []domain.Loan
		err   error
	)
	if policy.Allowed(user.Roles, policy.OpLoanListAll) {
		loans, err = s.app.ListLoans(r.Context())
	} else {
		loans, err = s.app.ListLoansByUser(r.Context(), user.ID)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(loans))
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.BookID = strings.TrimSpace(req.BookID)
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = user.ID
	}
	if !policy.CanActForUser(user, userID) {
		s.deny(w, r, user, string(policy.OpLoanCreate))
		return
	}
	loan, err := s.app.CreateLoan(r.Context(), userID, req.BookID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, ok := s.ownedLoan(w, r, user, policy.OpLoanRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, ok := s.ownedLoan(w, r, user, policy.OpLoanReturn)
	if !ok {
		return
	}
	returned, err := s.app.ReturnLoan(r.Context(), loan.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, returned)
}

func (s *Server) handleExtendLoan(w http.ResponseWriter, r *http.Request, user domain.User) {
	loan, ok := s.ownedLoan(w, r, user, policy.OpLoanExtend)
	if !ok {
		return
	}
	extended, err := s.app.ExtendLoan(r.Context(), loan.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, extended)
}

func (s *Server) handleOverdueLoans(w http.ResponseWriter, r *http.Request, _ domain.User) {
	loans, err := s.app.ListOverdue(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(loans))
}

func (s *Server) handleUserLoans(w http.ResponseWriter, r *http.Request, user domain.User) {
	userID := r.PathValue("id")
	if !policy.CanActForUser(user, userID) {
		s.deny(w, r, user, string(policy.OpUserLoans))
		return
	}
	loans, err := s.app.ListLoansByUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(loans))
}

// ownedLoan loads the loan named in the path and checks the caller may act on it.
func (s *Server) ownedLoan(w http.ResponseWriter, r *http.Request, user domain.User, op policy.Operation) (domain.Loan, bool) {
	loan, err := s.app.GetLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return domain.Loan{}, false
	}
	if !policy.CanActOnLoan(user, loan) {
		s.deny(w, r, user, string(op))
		return domain.Loan{}, false
	}
	return loan, true
}
