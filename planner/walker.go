package planner

import (
	"path/filepath"
	"regexp"

	"www.velocidex.com/golang/triage/vfs"
)

type walkOptions struct {
	Recursive bool

	// Depth measured from the source root: 0 selects only files
	// directly inside it. Nil means unlimited.
	MaxDepth *int

	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// walk enumerates files under root matching the include pattern and
// not matching the exclude pattern. Patterns are applied to the path
// relative to root, with forward slashes on all families.
func walk(accessor vfs.Accessor, root string,
	opts walkOptions) ([]string, error) {

	var result []string

	var visit func(dir string, depth int) error
	visit = func(dir string, depth int) error {
		entries, err := accessor.ReadDir(dir)
		if err != nil {
			// The root must be readable; deeper errors just prune
			// that subtree.
			if depth == 0 {
				return err
			}
			return nil
		}

		for _, entry := range entries {
			if entry.Info.IsDir {
				if !opts.Recursive {
					continue
				}
				if opts.MaxDepth != nil && depth >= *opts.MaxDepth {
					continue
				}
				err := visit(entry.Path, depth+1)
				if err != nil {
					return err
				}
				continue
			}

			rel, err := filepath.Rel(root, entry.Path)
			if err != nil {
				rel = entry.Info.Name
			}
			rel = filepath.ToSlash(rel)

			if !opts.Include.MatchString(rel) {
				continue
			}
			if opts.Exclude != nil && opts.Exclude.MatchString(rel) {
				continue
			}

			result = append(result, entry.Path)
		}
		return nil
	}

	err := visit(root, 0)
	if err != nil {
		return nil, err
	}

	return result, nil
}
