package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

const terminalHelperEnv = "JOBSH_TERMINAL_HELPER"

// openPTY returns the master and slave ends of a new pseudo-terminal, neither
// of which becomes the caller's controlling terminal.
func openPTY() (master, slave *os.File, err error) {
	master, err = os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, nil, err
	}
	if err := unix.IoctlSetPointerInt(int(master.Fd()), unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, nil, err
	}
	n, err := unix.IoctlGetUint32(int(master.Fd()), unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err = os.OpenFile(fmt.Sprintf("/dev/pts/%d", n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	return master, slave, nil
}

// runTerminalPipeline runs cat | cat | cat on the controlling terminal the
// way an interactive shell would.
func runTerminalPipeline() int {
	signal.Ignore(syscall.SIGTTOU)

	std := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}
	plan, err := Build(std, pipeline(cmd("cat"), cmd("cat"), cmd("cat")), 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}

	m := NewManager()
	job, err := m.Launch(&Launcher{Terminal: os.Stdin}, plan)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}
	status := m.Wait(job)

	if err := unix.IoctlSetPointerInt(0, unix.TIOCSPGRP, unix.Getpgrp()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 3
	}
	return status
}

func TestLauncher_TerminalHandoff(t *testing.T) {
	if os.Getenv(terminalHelperEnv) != "" {
		os.Exit(runTerminalPipeline())
	}

	master, slave, err := openPTY()
	if err != nil {
		t.Skipf("no pseudo-terminal: %v", err)
	}
	defer master.Close()

	// The helper is a session leader owning the terminal, like a login shell.
	helper := exec.Command(os.Args[0], "-test.run=^TestLauncher_TerminalHandoff$")
	helper.Env = append(os.Environ(), terminalHelperEnv+"=1")
	helper.Stdin, helper.Stdout, helper.Stderr = slave, slave, slave
	helper.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	err = helper.Start()
	slave.Close()
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	copied := make(chan struct{})
	go func() {
		// Ends with EIO once every process let go of the terminal.
		_, _ = io.Copy(&out, master)
		close(copied)
	}()

	// Typed right away, so the first stage reads as soon as it starts.
	if _, err := master.Write([]byte("ping\n\x04")); err != nil {
		t.Fatal(err)
	}

	exited := make(chan error, 1)
	go func() { exited <- helper.Wait() }()
	select {
	case err := <-exited:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		_ = helper.Process.Kill()
		t.Fatal("pipeline reading the terminal never finished")
	}

	select {
	case <-copied:
	case <-time.After(5 * time.Second):
		t.Fatal("terminal output never ended")
	}
	// Once echoed by the terminal and once by the pipeline.
	assert.GreaterOrEqual(t, strings.Count(out.String(), "ping"), 2, out.String())
}
