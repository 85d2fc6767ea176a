package wire

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random, globally unique identifier for requests, realms,
// consumers, providers and references.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like an id produced by NewID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SplitPath splits a property path into its segments. The empty path is the
// provided root and has no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathSeparator)
}

// JoinPath is the inverse of SplitPath.
func JoinPath(segments []string) string {
	return strings.Join(segments, PathSeparator)
}
