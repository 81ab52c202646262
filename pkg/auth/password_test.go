package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !CheckPassword("s3cretpass", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cretpass", "") {
		t.Fatalf("expected empty hash to never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Admin123"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	cases := []struct {
		password string
		want     error
	}{
		{"abc123", ErrPasswordTooShort},
		{"12345678", ErrPasswordNeedsLetter},
		{"abcdefgh", ErrPasswordNeedsDigit},
		{"abcd 1234", ErrPasswordHasWhitespace},
	}
	for _, tc := range cases {
		if err := ValidatePassword(tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.want)
		}
	}
}
