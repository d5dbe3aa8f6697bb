// Package id provides identifier generation for pipeline runs.
package id

import "github.com/google/uuid"

// NewAvatarID creates a new run identifier. The service keys every stage
// of a run by this value.
// Format: random UUID v4
// Example: 9b2f6c1e-3d4a-4c1b-8e8f-2a6d5b7c9e01
func NewAvatarID() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed avatar id.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
