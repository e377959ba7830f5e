package tools

import (
	"fmt"
	"strings"
)

// writeAllowedPrefixes is the allow-list of writable path prefixes,
// relative to the workspace root.
var writeAllowedPrefixes = []string{
	"src/",
	"src-tauri/",
	"public/",
	"docs/",
	"generated-guides/",
	"KnowledgeCompanion/",
}

// writeAllowedFiles are root files writable by exact match.
var writeAllowedFiles = []string{
	"README.md",
	"package.json",
}

// studentWritePrefixes further narrows writes in student mode.
var studentWritePrefixes = []string{
	"research",
	"generated-guides",
}

// ValidateWritePath checks a write target against the scope policy:
// no traversal segments and an allow-listed prefix. Student mode swaps
// in its own, narrower prefix list. Returns a descriptive error on any
// violation; callers must not write anything when it fails.
func ValidateWritePath(path string, mode Mode) error {
	normalized := strings.ReplaceAll(path, "\\", "/")

	if normalized == "" {
		return fmt.Errorf("write path is required")
	}

	if strings.Contains(normalized, "../") || strings.Contains(normalized, "..\\") || normalized == ".." {
		return fmt.Errorf("path traversal (../) is forbidden")
	}

	if mode == ModeStudent {
		for _, prefix := range studentWritePrefixes {
			if strings.HasPrefix(normalized, prefix) {
				return nil
			}
		}
		return fmt.Errorf("student mode can only write under: %s",
			strings.Join(studentWritePrefixes, ", "))
	}

	for _, prefix := range writeAllowedPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return nil
		}
	}
	for _, file := range writeAllowedFiles {
		if normalized == file {
			return nil
		}
	}
	return fmt.Errorf("writing to %q is not allowed; allowed directories: %s",
		path, strings.Join(writeAllowedPrefixes, ", "))
}
