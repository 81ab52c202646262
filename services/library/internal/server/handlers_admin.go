package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/app"
)

const maxAuditLimit = 1000

type exportRequest struct {
	Since time.Time `json:"since"`
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	users, err := s.app.ListUsers(r.Context(), s.clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users))
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	user, err := s.app.GetUser(r.Context(), r.PathValue("id"), s.clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminUserByEmail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	user, err := s.app.GetUserByEmail(r.Context(), r.PathValue("email"), s.clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req app.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.CreateUser(r.Context(), admin, req, s.clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var req app.UserUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.UpdateUser(r.Context(), admin, r.PathValue("id"), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if err := s.app.DeleteUser(r.Context(), admin, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminUnlockUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	user, err := s.app.UnlockUser(r.Context(), admin, r.PathValue("id"), s.clientMeta(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request, _ domain.User) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Principal: strings.ToLower(strings.TrimSpace(q.Get("principal"))),
		Type:      domain.SecurityEventType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		Limit:     100,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	events, err := s.app.AuditEvents(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(events))
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	result, err := s.app.ExportAudit(r.Context(), req.Since)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
