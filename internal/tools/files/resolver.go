// Package files implements the workspace filesystem tools: reads,
// writes, unified-diff patching, and the edit history.
package files

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Resolver confines user-supplied paths to the workspace root. Every
// filesystem tool resolves through it; escape attempts fail closed.
type Resolver struct {
	root string
}

func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("files: resolve workspace root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string { return r.root }

// Resolve maps a user path (absolute or workspace-relative) to an
// absolute path inside the root, or fails.
func (r *Resolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("files: empty path")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.root, candidate)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("files: resolve %q: %w", path, err)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("files: resolve %q: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("files: path %q escapes workspace", path)
	}
	return abs, nil
}
