// Package confkit holds the small config-loading conventions shared by the
// daemon and the one-shot tools: dotenv bootstrap, project-root discovery and
// section files hydrated relative to the main config.
package confkit

import (
	"os"
	"path/filepath"
)

// ResolvePath expands env placeholders in file and, when the result is
// relative, anchors it to base. Section files in etc/ reference each other
// this way, so a config tree stays relocatable as a unit.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// Section is a config subtree that may live in its own file. File names the
// source relative to the main config; Value is filled by Hydrate and stays
// nil when no file is configured.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads the section through loader, resolving File against base.
// A section with no file configured is left empty without error.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}
