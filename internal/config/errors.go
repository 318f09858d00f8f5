package config

import "errors"

var (
	// ErrNotFound is returned when a requested resource does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousPrefix is returned when a key prefix matches more than one active key.
	ErrAmbiguousPrefix = errors.New("prefix matches more than one key")
)
