package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestBuild(t *testing.T) {
	std := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}

	plan, err := Build(std, pipeline(cmd("a"), cmd("b"), cmd("c")), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer plan.Close()

	assert.Len(t, plan.Stages, 3)
	assert.Equal(t, 4, plan.Table.OpenCount())

	// Ends of the pipeline use the shell's descriptors.
	assert.Equal(t, os.Stdin, plan.Stages[0].Map[0])
	assert.Equal(t, os.Stdout, plan.Stages[2].Map[1])
	for _, stage := range plan.Stages {
		assert.Equal(t, os.Stderr, stage.Map[2])
	}

	// Each stage's stdin is owned by it, the write end by its predecessor.
	for i := 1; i < len(plan.Stages); i++ {
		assert.Contains(t, plan.Table.Owned(Owner(i)), plan.Stages[i].Map[0])
		assert.Contains(t, plan.Table.Owned(Owner(i-1)), plan.Stages[i-1].Map[1])
	}

	assert.NoError(t, plan.Close())
	assert.Equal(t, 0, plan.Table.OpenCount())
}

func TestBuild_ExplicitRedirectionWins(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	std := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}

	first := Command{
		Args:   []string{"echo", "hi"},
		Redirs: []Redirection{{FD: 1, Direction: RedirOutput, Path: out, TargetFD: NoTarget}},
	}
	plan, err := Build(std, pipeline(first, cmd("cat")), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer plan.Close()

	assert.Equal(t, out, plan.Stages[0].Map[1].Name())
}

func TestBuild_Errors(t *testing.T) {
	dir := t.TempDir()
	created := filepath.Join(dir, "created")
	std := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}

	cases := map[string]struct {
		pipeline Pipeline
		check    func(t *testing.T, err error)
	}{
		"empty": {
			pipeline: Pipeline{},
			check: func(t *testing.T, err error) {
				assert.Equal(t, ErrEmptyPipeline, err)
			},
		},
		"empty stage": {
			pipeline: pipeline(cmd("true"), Command{}),
			check: func(t *testing.T, err error) {
				assert.Equal(t, ErrEmptyPipeline, err)
			},
		},
		"bad redirection": {
			pipeline: pipeline(
				Command{
					Args:   []string{"true"},
					Redirs: []Redirection{{FD: 1, Direction: RedirOutput, Path: created, TargetFD: NoTarget}},
				},
				Command{
					Args:   []string{"cat"},
					Redirs: []Redirection{{FD: 0, Direction: RedirInput, Path: "/dev/null/file", TargetFD: NoTarget}},
				},
			),
			check: func(t *testing.T, err error) {
				var pathErr *PathError
				assert.True(t, errors.As(err, &pathErr))
				assert.EqualError(t, err, "/dev/null/file: Not a directory")
			},
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			plan, err := Build(std, tc.pipeline, 0)
			assert.Nil(t, plan)
			tc.check(t, err)
		})
	}
}

// openFDs lists the descriptors open in the test process.
func openFDs(t *testing.T) []int {
	t.Helper()

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("can't list descriptors: %v", err)
	}
	var fds []int
	for _, e := range entries {
		if fd, err := strconv.Atoi(e.Name()); err == nil {
			fds = append(fds, fd)
		}
	}
	return fds
}

func TestBuild_ResourceExhausted(t *testing.T) {
	before := openFDs(t)
	highest := 0
	for _, fd := range before {
		if fd > highest {
			highest = fd
		}
	}

	var saved unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &saved); err != nil {
		t.Fatal(err)
	}
	limited := saved
	limited.Cur = uint64(highest + 10)
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limited); err != nil {
		t.Skipf("can't lower the descriptor limit: %v", err)
	}

	var cmds []Command
	for i := 0; i < 40; i++ {
		cmds = append(cmds, cmd("cat"))
	}
	std := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}
	plan, err := Build(std, pipeline(cmds...), 0)

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &saved); err != nil {
		t.Fatal(err)
	}

	assert.Nil(t, plan)
	var resErr *ResourceError
	if assert.True(t, errors.As(err, &resErr), "got %v", err) {
		assert.Equal(t, "pipe", resErr.Op)
	}
	// Every pipe created before running out was closed again.
	assert.Len(t, openFDs(t), len(before))
}
