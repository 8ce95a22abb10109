package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// PathKind classifies why a redirection target could not be opened.
type PathKind int

const (
	PathOther PathKind = iota
	PathNotExist
	PathPermission
	PathNotDir
	PathIsDir
	PathBadDescriptor
)

func (k PathKind) String() string {
	switch k {
	case PathNotExist:
		return "No such file or directory"
	case PathPermission:
		return "Permission denied"
	case PathNotDir:
		return "Not a directory"
	case PathIsDir:
		return "Is a directory"
	case PathBadDescriptor:
		return "Bad file descriptor"
	default:
		return "cannot open"
	}
}

// PathError is returned when a redirection target is inaccessible. The
// pipeline it belongs to is never started.
type PathError struct {
	Op   string
	Path string
	Kind PathKind
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

func (e *PathError) Unwrap() error { return e.Err }

func pathKind(err error) PathKind {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return PathOther
	}
	switch errno {
	case syscall.ENOENT:
		return PathNotExist
	case syscall.EACCES, syscall.EPERM:
		return PathPermission
	case syscall.ENOTDIR:
		return PathNotDir
	case syscall.EISDIR:
		return PathIsDir
	case syscall.EBADF:
		return PathBadDescriptor
	default:
		return PathOther
	}
}

// ExecKind classifies why an executable couldn't replace a child's image.
type ExecKind int

const (
	ExecOther ExecKind = iota
	ExecNotFound
	ExecPermissionDenied
	ExecBadFormat
)

// ExecError reports a stage whose executable could not be started.
type ExecError struct {
	Name string
	Kind ExecKind
	Err  error
}

func (e *ExecError) Error() string {
	switch e.Kind {
	case ExecNotFound:
		return fmt.Sprintf("%s: command not found", e.Name)
	case ExecPermissionDenied:
		return fmt.Sprintf("%s: Permission denied", e.Name)
	case ExecBadFormat:
		return fmt.Sprintf("%s: cannot execute binary file: Exec format error", e.Name)
	default:
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
}

func (e *ExecError) Unwrap() error { return e.Err }

// Status is the conventional shell status for the failure: 127 when the
// executable is missing and 126 when it exists but can't run.
func (e *ExecError) Status() int {
	if e.Kind == ExecNotFound {
		return 127
	}
	return 126
}

// ResourceError signals that the OS ran out of descriptors or processes.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: resource exhausted: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func isResourceExhausted(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EMFILE, syscall.ENFILE, syscall.EAGAIN, syscall.ENOMEM:
		return true
	}
	return false
}

// classifyStartError maps an exec.Cmd.Start failure onto the error taxonomy.
func classifyStartError(name string, err error) error {
	if isResourceExhausted(err) {
		return &ResourceError{Op: "fork/exec " + name, Err: err}
	}

	kind := ExecOther
	var errno syscall.Errno
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		kind = ExecNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = ExecPermissionDenied
	case errors.As(err, &errno) && errno == syscall.ENOEXEC:
		kind = ExecBadFormat
	case errors.As(err, &errno) && errno == syscall.EISDIR:
		kind = ExecPermissionDenied
	}
	return &ExecError{Name: name, Kind: kind, Err: err}
}

// TargetKind classifies a bad job control target.
type TargetKind int

const (
	InvalidTarget TargetKind = iota
	NoSuchProcess
)

// TargetError is returned by job control when a pid or job reference can't be
// used. No signal is sent when it's returned.
type TargetError struct {
	Arg  string
	Kind TargetKind
}

func (e *TargetError) Error() string {
	if e.Kind == InvalidTarget {
		return fmt.Sprintf("%s: arguments must be process or job IDs", e.Arg)
	}
	return fmt.Sprintf("%s: no such process", e.Arg)
}

// StatusOf picks the shell status for an engine error.
func StatusOf(err error) int {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Status()
	}
	if err != nil {
		return 1
	}
	return 0
}
