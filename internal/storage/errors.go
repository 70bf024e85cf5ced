package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrLockHeld is returned when a case's processing lock is already taken.
var ErrLockHeld = errors.New("storage: case lock held")
