package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind classifies failures so transports can map them to responses.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAntiCheat   ErrorKind = "anti_cheat"
	KindConflict    ErrorKind = "conflict"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindStorage     ErrorKind = "storage"
	KindInternal    ErrorKind = "internal"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request later.
func (e *AppError) Retryable() bool {
	switch e.Kind {
	case KindStorage, KindInternal, KindRateLimited:
		return true
	}
	return false
}

func ValidationError(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AntiCheatRejection(reason string) *AppError {
	return &AppError{Kind: KindAntiCheat, Message: reason}
}

func ConflictError(msg string) *AppError {
	return &AppError{Kind: KindConflict, Message: msg}
}

func NotFoundError(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Message: msg}
}

func RateLimitError(msg string) *AppError {
	return &AppError{Kind: KindRateLimited, Message: msg}
}

func StorageError(op string, err error) *AppError {
	return &AppError{Kind: KindStorage, Message: op, Err: err}
}

func InternalError(op string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: op, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// storeError classifies a database error. Timeouts and cancellations are
// internal; anything else coming back from the driver is a storage error.
func storeError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return InternalError(op+": store timeout", err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundError(op + ": not found")
	}
	return StorageError(op, err)
}
