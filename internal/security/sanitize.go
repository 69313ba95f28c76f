package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	repoPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	spacePattern = regexp.MustCompile(`^spaces/[a-zA-Z0-9_-]+$`)
)

// ValidateRepositorySlug ensures a repository slug has the form "owner/name".
// The slug ends up in CI API paths, so anything outside the safe
// character set is rejected.
func ValidateRepositorySlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("repository slug cannot be empty")
	}

	owner, name, ok := strings.Cut(slug, "/")
	if !ok {
		return fmt.Errorf("repository slug must have the form 'owner/name', got '%s'", slug)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("repository slug has too many path segments: '%s'", slug)
	}
	if strings.HasPrefix(owner, "-") || strings.HasPrefix(owner, ".") {
		return fmt.Errorf("repository owner cannot start with '-' or '.'")
	}
	if !ownerPattern.MatchString(owner) {
		return fmt.Errorf("repository owner contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "-") {
		return fmt.Errorf("repository name '%s' is not allowed", name)
	}
	if !repoPattern.MatchString(name) {
		return fmt.Errorf("repository name contains invalid characters (only a-z, A-Z, 0-9, _, ., - allowed)")
	}
	return nil
}

// ValidateSpaceName ensures a chat space resource name looks like "spaces/XXXX".
func ValidateSpaceName(space string) error {
	if space == "" {
		return fmt.Errorf("chat space cannot be empty")
	}
	if !spacePattern.MatchString(space) {
		return fmt.Errorf("chat space must have the form 'spaces/<id>', got '%s'", space)
	}
	return nil
}

// SanitizePath ensures a path is absolute and doesn't contain traversal attempts.
// Used for database, log and credential file locations.
func SanitizePath(path string) (string, error) {
	// Must be absolute
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be absolute: %s", path)
	}

	// Check for .. before cleaning (filepath.Clean removes them)
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains traversal elements: %s", path)
	}

	return filepath.Clean(path), nil
}
