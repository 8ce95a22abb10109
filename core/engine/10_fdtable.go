package engine

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Owner identifies who is responsible for closing a descriptor: the engine
// itself or one pipeline stage.
type Owner int

// OwnerEngine marks descriptors that belong to no stage.
const OwnerEngine Owner = -1

type tableEntry struct {
	file   *os.File
	owner  Owner
	closed bool
}

// Table records every descriptor opened on behalf of a pipeline so each one is
// closed exactly once.
//
// All descriptors are created close-on-exec. A child only ever receives the
// descriptors placed in its DescriptorMap, the kernel drops the rest when the
// image is replaced.
type Table struct {
	entries []*tableEntry
}

// NewTable creates an empty descriptor table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) add(f *os.File, owner Owner) *os.File {
	t.entries = append(t.entries, &tableEntry{file: f, owner: owner})
	return f
}

// Open opens a redirection target. Failures are returned as *PathError.
func (t *Table) Open(path string, flag int, perm os.FileMode, owner Owner) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if isResourceExhausted(err) {
			return nil, &ResourceError{Op: "open " + path, Err: err}
		}
		return nil, &PathError{Op: "open", Path: path, Kind: pathKind(err), Err: err}
	}
	return t.add(f, owner), nil
}

// Pipe creates an anonymous pipe, the read end owned by readOwner and the
// write end owned by writeOwner.
func (t *Table) Pipe(readOwner, writeOwner Owner) (r, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, &ResourceError{Op: "pipe", Err: err}
	}
	t.add(r, readOwner)
	t.add(w, writeOwner)
	return r, w, nil
}

// Dup duplicates f onto a new close-on-exec descriptor owned by owner.
func (t *Table) Dup(f *os.File, owner Owner) (*os.File, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		if isResourceExhausted(err) {
			return nil, &ResourceError{Op: "dup", Err: err}
		}
		return nil, &PathError{Op: "dup", Path: f.Name(), Kind: pathKind(err), Err: err}
	}
	return t.add(os.NewFile(uintptr(fd), f.Name()), owner), nil
}

// Owned returns the open descriptors belonging to owner.
func (t *Table) Owned(owner Owner) []*os.File {
	var out []*os.File
	for _, e := range t.entries {
		if !e.closed && e.owner == owner {
			out = append(out, e.file)
		}
	}
	return out
}

// CloseOwnedBy closes the engine's copies of every descriptor owned by owner.
func (t *Table) CloseOwnedBy(owner Owner) error {
	var lastErr error
	for _, e := range t.entries {
		if e.owner != owner || e.closed {
			continue
		}
		if err := t.close(e); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CloseAllExcept closes every open descriptor in the table not listed in keep.
func (t *Table) CloseAllExcept(keep ...*os.File) error {
	keepSet := make(map[*os.File]bool, len(keep))
	for _, f := range keep {
		keepSet[f] = true
	}

	var lastErr error
	for _, e := range t.entries {
		if e.closed || keepSet[e.file] {
			continue
		}
		if err := t.close(e); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes everything still open.
func (t *Table) Close() error {
	return t.CloseAllExcept()
}

// OpenCount is the number of descriptors in the table not yet closed.
func (t *Table) OpenCount() int {
	n := 0
	for _, e := range t.entries {
		if !e.closed {
			n++
		}
	}
	return n
}

func (t *Table) close(e *tableEntry) error {
	e.closed = true
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", e.file.Name(), err)
	}
	return nil
}

// MarkInheritedCloseOnExec sets close-on-exec on every descriptor from 3 up.
// Descriptors the shell inherited would otherwise leak into every child.
// Files passed through ExtraFiles are unaffected since they're duplicated
// into the child explicitly.
func MarkInheritedCloseOnExec() {
	fds, err := openDescriptors()
	if err != nil {
		fds = nil
		for fd := 3; fd < descriptorLimit(); fd++ {
			fds = append(fds, fd)
		}
	}
	for _, fd := range fds {
		if fd >= 3 {
			unix.CloseOnExec(fd)
		}
	}
}

// openDescriptors lists the descriptors of this process.
func openDescriptors() ([]int, error) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return nil, err
	}
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		if fd, err := strconv.Atoi(e.Name()); err == nil {
			fds = append(fds, fd)
		}
	}
	return fds, nil
}

// descriptorLimit bounds the scan when /proc isn't mounted.
func descriptorLimit() int {
	const maxScan = 1 << 20
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 1024
	}
	if rlimit.Cur > maxScan {
		return maxScan
	}
	return int(rlimit.Cur)
}
