package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrInvalidEmail             = errors.New("email address is not valid")
	ErrInvalidName              = errors.New("first and last name must be between 2 and 50 characters")
	ErrPasswordMismatch         = errors.New("passwords do not match")

	ErrCurrentPasswordRequired = errors.New("current password required")
	ErrNewPasswordRequired     = errors.New("new password required")
	ErrPasswordUnchanged       = errors.New("new password must differ from current password")

	ErrTitleRequired      = errors.New("title required")
	ErrInvalidCopies      = errors.New("total copies must not be negative")
	ErrInvalidPublication = errors.New("publication year is out of range")

	ErrAuthorNameRequired = errors.New("author first and last name required, at most 100 characters each")
	ErrInvalidBirthYear   = errors.New("birth year is out of range")
	ErrInvalidNationality = errors.New("nationality must be at most 60 characters")

	ErrInvalidRole = errors.New("roles must be user or admin")

	ErrCannotDeleteSelf = errors.New("cannot delete own account")
	ErrCannotDemoteSelf = errors.New("cannot disable own account or remove own admin role")
)
