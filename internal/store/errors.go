package store

import "errors"

// ErrNotFound is returned when a pattern ID does not exist.
var ErrNotFound = errors.New("pattern not found")
