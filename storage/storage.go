// Package storage defines the sentinel errors shared by all persistence
// backends. Services match on these with errors.Is and never on
// driver-specific error values.
package storage

import "errors"

var (
	ErrNotFound     = errors.New("record not found")
	ErrMemberExists = errors.New("member already exists")
)
