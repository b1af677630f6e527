// Package postgres implements the bridge's repositories against PostgreSQL.
// Each repository wraps a *sql.DB and commits per record; no multi-stage
// transaction spans components.
package postgres

import "errors"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")
