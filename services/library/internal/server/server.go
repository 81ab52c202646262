package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Fabian0270/library-system/internal/ratelimit"
	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/services/library/internal/app"
	"github.com/Fabian0270/library-system/services/library/internal/policy"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

// Config wires required dependencies for the HTTP server. Limiters are
// optional; a nil limiter does not limit.
type Config struct {
	App             *app.App
	LoginLimiter    ratelimit.Limiter
	RegisterLimiter ratelimit.Limiter
	TrustedProxies  *util.TrustedProxies
	AllowedOrigins  []string
	RequestTimeout  time.Duration
}

// Server exposes the library REST API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	loginLimiter    ratelimit.Limiter
	registerLimiter ratelimit.Limiter
	trustedProxies  *util.TrustedProxies
	allowedOrigins  []string
	requestTimeout  time.Duration
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		loginLimiter:    cfg.LoginLimiter,
		registerLimiter: cfg.RegisterLimiter,
		trustedProxies:  cfg.TrustedProxies,
		allowedOrigins:  cfg.AllowedOrigins,
		requestTimeout:  cfg.RequestTimeout,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = s.withTimeout(h)
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("library", h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.Handle("POST /api/auth/logout", s.guard(policy.OpSessionManage, s.handleLogout))
	s.mux.HandleFunc("GET /api/auth/check", s.handleCheck)

	// catalog
	s.mux.Handle("GET /api/books", s.guard(policy.OpBookRead, s.handleListBooks))
	s.mux.Handle("GET /api/books/search", s.guard(policy.OpBookRead, s.handleSearchBooks))
	s.mux.Handle("GET /api/books/details", s.guard(policy.OpBookRead, s.handleBookDetails))
	s.mux.Handle("GET /api/books/{id}", s.guard(policy.OpBookRead, s.handleGetBook))
	s.mux.Handle("POST /api/books", s.guard(policy.OpBookWrite, s.handleCreateBook))
	s.mux.Handle("PUT /api/books/{id}", s.guard(policy.OpBookWrite, s.handleUpdateBook))
	s.mux.Handle("DELETE /api/books/{id}", s.guard(policy.OpBookWrite, s.handleDeleteBook))

	// authors
	s.mux.Handle("GET /api/authors", s.guard(policy.OpAuthorRead, s.handleListAuthors))
	s.mux.Handle("GET /api/authors/name/{lastName}", s.guard(policy.OpAuthorRead, s.handleAuthorsByLastName))
	s.mux.Handle("GET /api/authors/{id}", s.guard(policy.OpAuthorRead, s.handleGetAuthor))
	s.mux.Handle("POST /api/authors", s.guard(policy.OpAuthorWrite, s.handleCreateAuthor))
	s.mux.Handle("PUT /api/authors/{id}", s.guard(policy.OpAuthorWrite, s.handleUpdateAuthor))
	s.mux.Handle("DELETE /api/authors/{id}", s.guard(policy.OpAuthorWrite, s.handleDeleteAuthor))

	// loans
	s.mux.Handle("GET /api/loans", s.guard(policy.OpLoanRead, s.handleListLoans))
	s.mux.Handle("POST /api/loans", s.guard(policy.OpLoanCreate, s.handleCreateLoan))
	s.mux.Handle("GET /api/loans/overdue", s.guard(policy.OpLoanOverdue, s.handleOverdueLoans))
	s.mux.Handle("GET /api/loans/{id}", s.guard(policy.OpLoanRead, s.handleGetLoan))
	s.mux.Handle("PUT /api/loans/{id}/return", s.guard(policy.OpLoanReturn, s.handleReturnLoan))
	s.mux.Handle("PUT /api/loans/{id}/extend", s.guard(policy.OpLoanExtend, s.handleExtendLoan))
	s.mux.Handle("GET /api/users/{id}/loans", s.guard(policy.OpUserLoans, s.handleUserLoans))

	// profile
	s.mux.Handle("GET /api/profile", s.guard(policy.OpProfile, s.handleProfile))
	s.mux.Handle("POST /api/profile/password", s.guard(policy.OpProfile, s.handleChangePassword))

	// admin
	s.mux.Handle("GET /api/admin/users", s.guard(policy.OpUserAdmin, s.handleAdminUsers))
	s.mux.Handle("POST /api/admin/users", s.guard(policy.OpUserAdmin, s.handleAdminCreateUser))
	s.mux.Handle("GET /api/admin/users/email/{email}", s.guard(policy.OpUserAdmin, s.handleAdminUserByEmail))
	s.mux.Handle("GET /api/admin/users/{id}", s.guard(policy.OpUserAdmin, s.handleAdminGetUser))
	s.mux.Handle("PUT /api/admin/users/{id}", s.guard(policy.OpUserAdmin, s.handleAdminUpdateUser))
	s.mux.Handle("DELETE /api/admin/users/{id}", s.guard(policy.OpUserAdmin, s.handleAdminDeleteUser))
	s.mux.Handle("POST /api/admin/users/{id}/unlock", s.guard(policy.OpUserAdmin, s.handleAdminUnlockUser))
	s.mux.Handle("GET /api/admin/audit", s.guard(policy.OpAuditRead, s.handleAuditEvents))
	s.mux.Handle("POST /api/admin/audit/export", s.guard(policy.OpAuditExport, s.handleAuditExport))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// guard authenticates the caller and consults the policy table for op.
// Denials are audited.
func (s *Server) guard(op policy.Operation, next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !policy.Allowed(user.Roles, op) {
			s.deny(w, r, user, string(op))
			return
		}
		next(w, r, user)
	})
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, user domain.User, op string) {
	s.app.RecordAccessDenied(r.Context(), user.Email, op, s.clientMeta(r))
	writeError(w, http.StatusForbidden, "forbidden")
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(r.Context(), token)
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientMeta(r *http.Request) domain.ClientMeta {
	return domain.ClientMeta{
		IPAddress: util.ClientIP(r, s.trustedProxies),
		UserAgent: util.UserAgent(r),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func listResponse[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		"items": items,
		"count": len(items),
	}
}
