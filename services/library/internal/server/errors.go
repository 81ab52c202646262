package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/Fabian0270/library-system/internal/util"
	"github.com/Fabian0270/library-system/pkg/auth"
	"github.com/Fabian0270/library-system/pkg/domain"
	"github.com/Fabian0270/library-system/pkg/store"
	"github.com/Fabian0270/library-system/services/library/internal/app"
	"github.com/Fabian0270/library-system/services/library/internal/security"
)

var badRequestErrors = []error{
	app.ErrEmailAndPasswordRequired,
	app.ErrInvalidEmail,
	app.ErrInvalidName,
	app.ErrPasswordMismatch,
	app.ErrCurrentPasswordRequired,
	app.ErrNewPasswordRequired,
	app.ErrPasswordUnchanged,
	app.ErrTitleRequired,
	app.ErrInvalidCopies,
	app.ErrInvalidPublication,
	app.ErrAuthorNameRequired,
	app.ErrInvalidBirthYear,
	app.ErrInvalidNationality,
	app.ErrInvalidRole,
	app.ErrCannotDeleteSelf,
	app.ErrCannotDemoteSelf,
	auth.ErrPasswordTooShort,
	auth.ErrPasswordNeedsLetter,
	auth.ErrPasswordNeedsDigit,
	auth.ErrPasswordHasWhitespace,
	store.ErrNegativeCopies,
}

// writeAppError maps an application error onto an HTTP status. Messages of
// unexpected errors are never sent to the client.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, domain.ErrBadCredential):
		writeError(w, http.StatusUnauthorized, domain.ErrBadCredential.Error())
		return
	case errors.Is(err, domain.ErrAccountLocked):
		writeError(w, http.StatusForbidden, domain.ErrAccountLocked.Error())
		return
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, app.ErrEmailAlreadyExists.Error())
		return
	case errors.Is(err, security.ErrExportDisabled):
		writeError(w, http.StatusNotImplemented, security.ErrExportDisabled.Error())
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Warn("request did not complete", "err", err)
		writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable.Error())
		return
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			writeError(w, http.StatusBadRequest, target.Error())
			return
		}
	}
	kind, msg, ok := domain.Kind(err)
	if !ok {
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch kind {
	case domain.ErrNotFound:
		writeError(w, http.StatusNotFound, msg)
	case domain.ErrPreconditionFailed:
		writeError(w, http.StatusBadRequest, msg)
	case domain.ErrUnavailable:
		logger.Warn("request unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		logger.Error("invariant violation", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
