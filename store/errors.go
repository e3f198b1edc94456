package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrInvalid  = errors.New("invalid store input")
)

// ErrStore marks a backend failure. Adapters wrap driver errors with it so
// callers can classify without importing driver packages.
var ErrStore = errors.New("store failure")

// Wrap tags err as a backend failure for op. Sentinel errors of this
// package pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalid) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalid, field)
}
