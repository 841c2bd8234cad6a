package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок Control Plane (см. также маппинг на HTTP-коды в server):
//   - валидация: отбой до любых мутаций
//   - конфликт: per-chip исход внутри bulk, батч не прерывает
//   - storage: ретраябельные сбои хранилища, наружу без маскировки
// Вырожденные входы (нулевой лимит, пустые счетчики) ошибками не являются.

var (
	ErrChipNotFound  = errors.New("chip not found")
	ErrAlertNotFound = errors.New("alert not found")

	ErrInvalidAction  = errors.New("unknown bulk action")
	ErrEmptySelection = errors.New("empty chip selection")

	// ErrTerminalStatus — попытка тронуть banned/cancelled чип.
	ErrTerminalStatus = errors.New("chip is in terminal status")

	// ErrConfirmationExpired — токен bulk-подтверждения истек или уже использован.
	ErrConfirmationExpired = errors.New("confirmation token expired or already consumed")
)

// StorageError оборачивает сбой персистентного слоя. Вызывающий различает
// его через errors.As и решает, ретраить или отдавать 503.
type StorageError struct {
	Op  string // операция репозитория, например "chips.save"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError — конструктор, чтобы репозитории не собирали структуру руками.
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsRetryable — true только для storage-ошибок. Валидация и конфликты
// ретраем не лечатся.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
