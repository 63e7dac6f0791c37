// Package glue collects the small, non-core utilities the rest of the
// module leans on: identifier generation, executor filename admission, and
// the fixed-path convention for the external type-generation collaborator.
package glue

import "github.com/google/uuid"

// NewUID generates a unique task identifier. Tasks that arrive without a
// caller-supplied uid get one of these.
func NewUID() string {
	return uuid.NewString()
}
