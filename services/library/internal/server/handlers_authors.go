package server

import (
	"net/http"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/services/library/internal/app"
)

func (s *Server) handleListAuthors(w http.ResponseWriter, r *http.Request, _ domain.User) {
	authors, err := s.app.ListAuthors(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(authors))
}

func (s *Server) handleAuthorsByLastName(w http.ResponseWriter, r *http.Request, _ domain.User) {
	authors, err := s.app.AuthorsByLastName(r.Context(), r.PathValue("lastName"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(authors))
}

func (s *Server) handleGetAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	author, err := s.app.GetAuthor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

func (s *Server) handleCreateAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.AuthorInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	author, err := s.app.CreateAuthor(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, author)
}

func (s *Server) handleUpdateAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.AuthorInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	author, err := s.app.UpdateAuthor(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

func (s *Server) handleDeleteAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.DeleteAuthor(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
