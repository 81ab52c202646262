package store

import "errors"

var (
	ErrEmailTaken     = errors.New("email already registered")
	ErrNegativeCopies = errors.New("total copies must not be negative")
)
