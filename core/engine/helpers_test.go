package engine

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func currentUmask() os.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return os.FileMode(old)
}

// testStd returns a descriptor map writing to files in a temporary directory
// and a function that returns what was written to each.
func testStd(t *testing.T) (DescriptorMap, func() (stdout, stderr string)) {
	t.Helper()

	dir := t.TempDir()
	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := ioutil.TempFile(dir, "stdout")
	if err != nil {
		t.Fatal(err)
	}
	stderr, err := ioutil.TempFile(dir, "stderr")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		stdin.Close()
		stdout.Close()
		stderr.Close()
	})

	read := func() (string, string) {
		out, err := ioutil.ReadFile(stdout.Name())
		if err != nil {
			t.Fatal(err)
		}
		errOut, err := ioutil.ReadFile(stderr.Name())
		if err != nil {
			t.Fatal(err)
		}
		return string(out), string(errOut)
	}
	return DescriptorMap{stdin, stdout, stderr}, read
}

func cmd(args ...string) Command {
	return Command{Args: args}
}

func pipeline(cmds ...Command) Pipeline {
	return Pipeline{Commands: cmds}
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
