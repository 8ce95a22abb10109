package engine

import (
	"fmt"
	"os"
)

// DefaultCreateMode is used for files created by output redirections.
const DefaultCreateMode os.FileMode = 0644

// DescriptorMap is the file a stage ends up using for each of its standard
// descriptors 0, 1 and 2. A nil entry leaves the descriptor closed.
type DescriptorMap [3]*os.File

// Files returns the map as stdin, stdout and stderr.
func (m DescriptorMap) Files() (stdin, stdout, stderr *os.File) {
	return m[0], m[1], m[2]
}

func openFlags(d Direction) int {
	switch d {
	case RedirOutput:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case RedirAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDONLY
	}
}

// Resolve applies redirs to base from left to right and returns the resulting
// map. Anything opened is recorded in t under owner. Resolve runs after pipe
// ends have been placed in base, so an explicit redirection always wins over
// a pipe.
func Resolve(t *Table, owner Owner, base DescriptorMap, redirs []Redirection, perm os.FileMode) (DescriptorMap, error) {
	if perm == 0 {
		perm = DefaultCreateMode
	}

	out := base
	for _, r := range redirs {
		if r.FD < 0 || r.FD >= len(out) {
			return out, &PathError{Op: "redirect", Path: fmt.Sprint(r.FD), Kind: PathBadDescriptor}
		}

		if r.TargetFD != NoTarget {
			if r.TargetFD < 0 || r.TargetFD >= len(out) || out[r.TargetFD] == nil {
				return out, &PathError{Op: "dup", Path: fmt.Sprint(r.TargetFD), Kind: PathBadDescriptor}
			}
			f, err := t.Dup(out[r.TargetFD], owner)
			if err != nil {
				return out, err
			}
			out[r.FD] = f
			continue
		}

		f, err := t.Open(r.Path, openFlags(r.Direction), perm, owner)
		if err != nil {
			return out, err
		}
		out[r.FD] = f
	}

	return out, nil
}
