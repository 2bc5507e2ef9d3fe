package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок координации.
var (
	ErrCapture       = errors.New("media capture failed")
	ErrPersistence   = errors.New("session store failure")
	ErrPermission    = errors.New("permission denied")
	ErrFeedDisrupted = errors.New("realtime feed disrupted")
)

// Виды ошибок хранилища; всегда приходят обёрнутыми в PersistenceError.
var (
	ErrConflict  = errors.New("record already exists")
	ErrNotFound  = errors.New("record not found")
	ErrTransport = errors.New("store transport failure")
)

// Ошибки валидации и состояния.
var (
	ErrEmptyMessage      = errors.New("empty message")
	ErrMessageTooLong    = errors.New("message too long")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNotJoined         = errors.New("not joined to a room")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// PersistenceError: отказ вызова SessionStore. errors.Is(err, ErrPersistence) == true,
// а Unwrap отдаёт конкретный вид (ErrConflict, ErrNotFound, ErrTransport, ErrPermission).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Persistence оборачивает err, если он ещё не PersistenceError. nil остаётся nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// CaptureError оборачивает отказ устройства захвата.
func CaptureError(err error) error {
	return fmt.Errorf("%w: %v", ErrCapture, err)
}
