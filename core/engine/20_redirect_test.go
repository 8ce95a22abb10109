package engine

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	table := NewTable()
	defer table.Close()

	base := DescriptorMap{os.Stdin, os.Stdout, os.Stderr}
	out, err := Resolve(table, Owner(0), base, []Redirection{
		{FD: 1, Direction: RedirOutput, Path: first, TargetFD: NoTarget},
		{FD: 1, Direction: RedirOutput, Path: second, TargetFD: NoTarget},
		{FD: 2, Direction: RedirOutput, TargetFD: 1},
	}, 0)
	assert.NoError(t, err)

	// Both files are created, the last redirection of a descriptor wins.
	assert.FileExists(t, first)
	assert.Equal(t, second, out[1].Name())
	assert.Equal(t, os.Stdin, out[0])
	assert.NotEqual(t, os.Stderr, out[2])
	assert.Equal(t, 3, table.OpenCount())

	_, err = out[2].Write([]byte("to stderr\n"))
	assert.NoError(t, err)
	assert.NoError(t, table.Close())

	contents, err := ioutil.ReadFile(second)
	assert.NoError(t, err)
	assert.Equal(t, "to stderr\n", string(contents))

	info, err := os.Stat(first)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0644)&^currentUmask(), info.Mode().Perm())

	// The base map is left untouched.
	assert.Equal(t, os.Stdout, base[1])
}

func TestResolve_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	if err := ioutil.WriteFile(path, []byte("one\n"), 0644); err != nil {
		t.Fatal(err)
	}

	table := NewTable()
	out, err := Resolve(table, Owner(0), DescriptorMap{}, []Redirection{
		{FD: 1, Direction: RedirAppend, Path: path, TargetFD: NoTarget},
	}, 0)
	assert.NoError(t, err)
	_, err = out[1].Write([]byte("two\n"))
	assert.NoError(t, err)
	assert.NoError(t, table.Close())

	contents, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(contents))
}

func TestResolve_Errors(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]struct {
		redirs   []Redirection
		wantKind PathKind
	}{
		"missing input": {
			redirs: []Redirection{
				{FD: 0, Direction: RedirInput, Path: filepath.Join(dir, "missing"), TargetFD: NoTarget},
			},
			wantKind: PathNotExist,
		},
		"input below a file": {
			redirs: []Redirection{
				{FD: 0, Direction: RedirInput, Path: "/dev/null/file", TargetFD: NoTarget},
			},
			wantKind: PathNotDir,
		},
		"dup of a closed descriptor": {
			redirs: []Redirection{
				{FD: 1, Direction: RedirOutput, TargetFD: 0},
			},
			wantKind: PathBadDescriptor,
		},
		"dup out of range": {
			redirs: []Redirection{
				{FD: 1, Direction: RedirOutput, TargetFD: 7},
			},
			wantKind: PathBadDescriptor,
		},
		"later failure": {
			redirs: []Redirection{
				{FD: 1, Direction: RedirOutput, Path: filepath.Join(dir, "created"), TargetFD: NoTarget},
				{FD: 0, Direction: RedirInput, Path: filepath.Join(dir, "nope"), TargetFD: NoTarget},
			},
			wantKind: PathNotExist,
		},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			table := NewTable()
			defer table.Close()

			_, err := Resolve(table, Owner(0), DescriptorMap{nil, os.Stdout, os.Stderr}, tc.redirs, 0)

			var pathErr *PathError
			if assert.True(t, errors.As(err, &pathErr), "got %v", err) {
				assert.Equal(t, tc.wantKind, pathErr.Kind)
			}
		})
	}
}
