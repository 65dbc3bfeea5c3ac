// Package security keeps report files written by the simulator inside the
// directory the operator chose for them.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned when a path resolves outside its directory.
var ErrPathEscapes = errors.New("path escapes output directory")

// maxFilenameLen caps sanitized names.
const maxFilenameLen = 96

// ValidatePathWithinDirectory reports ErrPathEscapes when path, after
// cleaning and symlink resolution of its deepest existing ancestor, is not
// inside dir.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	rel, err := filepath.Rel(realDir, resolveExisting(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s not in %s", ErrPathEscapes, path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of an
// absolute path and re-appends the rest.
func resolveExisting(p string) string {
	for cur := p; ; {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			rest, _ := filepath.Rel(cur, p)
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		cur = parent
	}
}

// SanitizeFilename maps a run label to a file name stem. Runs of characters
// outside [A-Za-z0-9._-] become a single underscore and leading or trailing
// dots and underscores are dropped. An empty result becomes "run".
func SanitizeFilename(label string) string {
	var b strings.Builder
	pending := false
	for _, r := range label {
		if b.Len() >= maxFilenameLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "run"
	}
	return out
}

// OutputPath joins dir with the sanitized label and suffix, and checks the
// result stays in dir.
func OutputPath(dir, label, suffix string) (string, error) {
	p := filepath.Join(dir, SanitizeFilename(label)+suffix)
	if err := ValidatePathWithinDirectory(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
