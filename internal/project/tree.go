package project

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Tree renders a nested textual listing of dir (which must already be
// resolved via ResolveDir). Entries are indented two spaces per depth and
// sorted lexicographically; directories carry a trailing slash.
func (r *Resolver) Tree(dir string) (string, error) {
	var b strings.Builder

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		depth := strings.Count(rel, string(filepath.Separator))
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(d.Name())
		if d.IsDir() {
			b.WriteString("/")
		}
		b.WriteString("\n")
		return nil
	})
	if err != nil {
		return "", err
	}

	if b.Len() == 0 {
		return "(empty directory)\n", nil
	}
	return b.String(), nil
}
