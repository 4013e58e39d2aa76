package store

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint,
// including upserting a user with a different credential hash.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when a caller tries to mutate a row it does
// not own.
var ErrForbidden = errors.New("forbidden")

// ErrPastDate is returned when a subscription is created for a date that
// is already in the past in the configured zone.
var ErrPastDate = errors.New("date is in the past")
