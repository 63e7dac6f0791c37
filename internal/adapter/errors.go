package adapter

import "errors"

// ErrNotFound is returned by FindFirst, Update, and Delete when no row
// matches the given Where clause.
var ErrNotFound = errors.New("adapter: row not found")

// ErrUniqueConflict is the adapter-reported signal that a Create violated a
// unique constraint. Every concrete adapter must map its backend's native
// conflict error onto this sentinel; Upsert relies on errors.Is against it
// uniformly rather than inspecting backend-specific error codes.
var ErrUniqueConflict = errors.New("adapter: unique constraint conflict")
