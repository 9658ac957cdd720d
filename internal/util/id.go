package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally tagged with a short prefix ("prop_…").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns an opaque URL-safe token without separators.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
