// Package project resolves user- and model-supplied path expressions against
// the project root. All path acceptance for the pipeline is centralized here:
// no other package may turn a path string into a filesystem read.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Path validation errors.
var (
	ErrPathEscape   = errors.New("path escapes project root")
	ErrAbsolutePath = errors.New("absolute paths not allowed")
	ErrInvalidPath  = errors.New("invalid path")
	ErrNotFound     = errors.New("no files matched")
	ErrNotDirectory = errors.New("path is not a directory")
)

// Resolver resolves path expressions (literal file, glob pattern, directory)
// to absolute file paths contained in the project root.
type Resolver struct {
	root string // absolute, symlink-resolved
}

// NewResolver creates a resolver rooted at dir. The root is fixed for the
// lifetime of the process.
func NewResolver(dir string) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s: %w", dir, ErrNotDirectory)
	}
	return &Resolver{root: resolved}, nil
}

// Root returns the absolute project root.
func (r *Resolver) Root() string { return r.root }

// Rel returns the root-relative form of an absolute path for display.
func (r *Resolver) Rel(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// IsPattern reports whether expr contains glob metacharacters.
func IsPattern(expr string) bool {
	return strings.ContainsAny(expr, "*?[")
}

// ResolveFiles expands a path expression to an ordered list of absolute file
// paths. A literal path names one file or a directory (recursed fully); a
// glob pattern matches files under the root. Results are sorted
// lexicographically. Any containment violation fails the whole expression.
func (r *Resolver) ResolveFiles(expr string) ([]string, error) {
	if IsPattern(expr) {
		return r.globFiles(expr)
	}

	abs, err := r.contain(expr)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, expr)
		}
		return nil, err
	}

	if info.IsDir() {
		files, err := r.walkFiles(abs)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%w: no files in directory %s", ErrNotFound, expr)
		}
		return files, nil
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, expr)
	}
	return []string{abs}, nil
}

// ResolveDir resolves a path expression to a single contained directory.
func (r *Resolver) ResolveDir(expr string) (string, error) {
	if IsPattern(expr) {
		return "", fmt.Errorf("%w: directory expression cannot be a pattern", ErrInvalidPath)
	}
	abs, err := r.contain(expr)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, expr)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, expr)
	}
	return abs, nil
}

// ValidateRequested checks a single model-requested relative path and returns
// its absolute form. Unlike ResolveFiles, callers are expected to drop
// offending paths individually rather than fail the whole request.
func (r *Resolver) ValidateRequested(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidPath
	}
	if IsPattern(path) {
		return "", fmt.Errorf("%w: patterns not allowed in file requests", ErrInvalidPath)
	}
	abs, err := r.contain(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, path)
	}
	return abs, nil
}

// globFiles matches a glob pattern against the root-scoped filesystem. The
// fs.FS view cannot name anything above the root, so matches are contained by
// construction; symlinked entries are still re-checked.
func (r *Resolver) globFiles(pattern string) ([]string, error) {
	if filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("%w: %s", ErrAbsolutePath, pattern)
	}
	pattern = filepath.ToSlash(filepath.Clean(pattern))
	if pattern == ".." || strings.HasPrefix(pattern, "../") {
		return nil, fmt.Errorf("%w: %s", ErrPathEscape, pattern)
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: bad pattern %s", ErrInvalidPath, pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(r.root), pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %s", ErrInvalidPath, pattern)
	}

	var files []string
	for _, m := range matches {
		abs := filepath.Join(r.root, filepath.FromSlash(m))
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := r.checkReal(abs); err != nil {
			return nil, err
		}
		files = append(files, abs)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: pattern %s", ErrNotFound, pattern)
	}
	sort.Strings(files)
	return files, nil
}

// walkFiles collects every regular file under dir, sorted lexicographically.
func (r *Resolver) walkFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if err := r.checkReal(path); err != nil {
				return err
			}
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// contain joins expr to the root and verifies the result stays inside it,
// both lexically and after symlink resolution.
func (r *Resolver) contain(expr string) (string, error) {
	if expr == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsRune(expr, '\x00') {
		return "", ErrInvalidPath
	}
	if filepath.IsAbs(expr) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, expr)
	}

	joined := filepath.Join(r.root, filepath.FromSlash(expr))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", err
	}
	// "..foo" is a valid filename, not a traversal.
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, expr)
	}

	if err := r.checkReal(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// checkReal verifies that path still resolves inside the root after following
// symlinks.
func (r *Resolver) checkReal(path string) error {
	resolved, err := resolveExisting(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // containment of missing paths is decided lexically
		}
		return err
	}
	rel, err := filepath.Rel(r.root, resolved)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s resolves outside root", ErrPathEscape, path)
	}
	return nil
}

// resolveExisting resolves symlinks for path. For non-existent paths it
// resolves the nearest existing ancestor and re-attaches the missing suffix.
func resolveExisting(path string) (string, error) {
	current := path
	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
