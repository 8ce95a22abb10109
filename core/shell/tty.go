package shell

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// pollInterval is how often a paused terminal reader checks for input, in
// milliseconds.
const pollInterval = 100

// terminalReader reads from a terminal only while it's resumed. A blocked
// read on the terminal would steal input meant for the foreground job, so
// the reader polls and leaves pending bytes alone while paused.
type terminalReader struct {
	fd int

	mu     sync.Mutex
	active bool
	closed bool
}

func newTerminalReader(f *os.File) *terminalReader {
	return &terminalReader{fd: int(f.Fd())}
}

func (r *terminalReader) setActive(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
}

func (r *terminalReader) state() (active, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.closed
}

// Resume allows reads to reach the terminal.
func (r *terminalReader) Resume() { r.setActive(true) }

// Pause stops reading from the terminal.
func (r *terminalReader) Pause() { r.setActive(false) }

func (r *terminalReader) Read(b []byte) (int, error) {
	for {
		active, closed := r.state()
		if closed {
			return 0, io.EOF
		}

		fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollInterval)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, err
		case n == 0 || !active:
			continue
		}

		// Re-check, the reader may have been paused while polling.
		if active, _ := r.state(); !active {
			continue
		}
		read, err := unix.Read(r.fd, b)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if read == 0 {
			return 0, io.EOF
		}
		return read, nil
	}
}

func (r *terminalReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// lineReader reads lines one byte at a time so commands started by the shell
// see the rest of a non-terminal input exactly where the shell stopped.
type lineReader struct {
	r io.Reader
}

// ReadLine returns the next line without its newline. A final line without a
// newline is returned together with io.EOF.
func (l *lineReader) ReadLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := l.r.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				return string(line), nil
			}
			line = append(line, buf[0])
			continue
		}
		if err == io.EOF {
			return string(line), io.EOF
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if err != nil {
			return string(line), err
		}
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// takeTerminal returns a hook that makes the shell's process group the
// foreground group of the terminal on f again.
func takeTerminal(f *os.File, log func(format string, v ...interface{})) func() {
	fd := int(f.Fd())
	shellPgrp := unix.Getpgrp()

	// Taking the terminal back from a job happens while the shell is in the
	// background, which raises SIGTTOU unless ignored.
	signal.Ignore(syscall.SIGTTOU)

	return func() {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, shellPgrp); err != nil {
			log("taking back the terminal for process group %d: %v", shellPgrp, err)
		}
	}
}
