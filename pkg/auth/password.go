package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14
	MinPasswordLen = 12
	MaxPasswordLen = 72 // bcrypt ignores bytes past 72
)

// ErrPasswordMismatch is returned by ComparePassword for a wrong password.
var ErrPasswordMismatch = errors.New("password does not match")

// PasswordValidationError lists every rule a password broke. Error() stays
// generic so callers can return it to clients unchanged.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

var commonPasswords = map[string]bool{
	"password":      true,
	"password123":   true,
	"password123!":  true,
	"passw0rd":      true,
	"qwerty":        true,
	"letmein":       true,
	"welcome":       true,
	"trustno1":      true,
	"admin":         true,
	"administrator": true,
	"changeme":      true,
	"123456789012":  true,
}

// HashPassword hashes with BcryptCost.
func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword returns nil on match and ErrPasswordMismatch on a wrong
// password. Any other error means the stored hash is unusable.
func ComparePassword(hashedPassword, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// CompareDummy spends the same bcrypt work as ComparePassword against a
// throwaway hash. Used when the email has no account.
func CompareDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gatekeeper-dummy-password"), BcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// ValidatePassword enforces password rules for accounts created by the
// bootstrap admin command.
func ValidatePassword(password string) error {
	var problems []string

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower {
		problems = append(problems, "must mix upper and lower case")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}
	if !hasSpecial {
		problems = append(problems, "must contain a special character")
	}
	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
