package ledger

import (
	"errors"
	"fmt"

	"github.com/suspectuso/commando-rewards/internal/storage"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrExternalUnavailable = errors.New("external service unavailable")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotSubscribed       = errors.New("not subscribed to required channels")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLimitReached        = errors.New("daily limit reached")
	ErrBusy                = errors.New("task already running")
)

// ErrAlreadyCredited is returned by CreditOnce for a replayed ledger key
var ErrAlreadyCredited = ErrAlreadyProcessed

// persistErr marks err as a storage failure that aborted op
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// storageErr translates storage sentinels into the ledger taxonomy
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%s: %w", op, ErrAlreadyProcessed)
	case errors.Is(err, storage.ErrLimitReached):
		return fmt.Errorf("%s: %w", op, ErrLimitReached)
	case errors.Is(err, storage.ErrInsufficientBalance):
		return fmt.Errorf("%s: %w", op, ErrInsufficientBalance)
	case errors.Is(err, storage.ErrInvalidField):
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidInput, err)
	}
	return persistErr(op, err)
}

var taxonomy = []error{
	ErrNotFound,
	ErrAlreadyProcessed,
	ErrUnauthorized,
	ErrExternalUnavailable,
	ErrPersistence,
	ErrInvalidInput,
	ErrNotSubscribed,
	ErrInsufficientBalance,
	ErrLimitReached,
	ErrBusy,
}

// commitErr passes taxonomy errors through and reports anything else, such
// as a failed commit, as a persistence failure
func commitErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return err
		}
	}
	return persistErr(op, err)
}
