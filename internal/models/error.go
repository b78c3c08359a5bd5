package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token errors
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrInvalidToken = errors.New("invalid token")

	// ErrStorage marks a failed read or append against the event store.
	// Callers gating authentication on the result must deny.
	ErrStorage = errors.New("storage unavailable")
)

// StorageError wraps a repository failure from a gating read or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// LockoutError is returned by login and refresh when the identity is locked.
type LockoutError struct {
	Status LockoutStatus
}

func (e *LockoutError) Error() string {
	if e.Status.IsAdminLocked {
		return "account is locked by an administrator"
	}
	return ErrAccountLocked.Error()
}

func (e *LockoutError) Is(target error) bool { return target == ErrAccountLocked }
