package server

import (
	"net/http"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/services/library/internal/app"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(books))
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request, _ domain.User) {
	books, err := s.app.SearchBooks(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(books))
}

func (s *Server) handleBookDetails(w http.ResponseWriter, r *http.Request, _ domain.User) {
	details, err := s.app.ListBookDetails(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(details))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	book, err := s.app.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.BookInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.CreateBook(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.BookInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.UpdateBook(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.DeleteBook(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
