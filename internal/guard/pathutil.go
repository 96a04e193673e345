package guard

import (
	"os"
	"path/filepath"
	"strings"
)

// canonicalPath expands ~, makes the path absolute, then resolves symlinks
// with ancestor fallback: when the target does not exist, walk up to the
// deepest existing ancestor, resolve that, and reattach the missing suffix.
// Writes to not-yet-existing files therefore still canonicalize, and
// symlinks cannot escape an allowed prefix.
func canonicalPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Ancestor fallback: find the deepest existing ancestor.
	dir := abs
	var suffix []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		suffix = append([]string{filepath.Base(dir)}, suffix...)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
	}
	return abs, nil
}

// pathWithin reports whether target is base or inside it. Lookalike prefixes
// ("/workspace-evil" against "/workspace") do not match.
func pathWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
