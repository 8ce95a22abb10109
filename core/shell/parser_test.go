package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/josephlewis42/jobsh/core/engine"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func renderLine(w io.Writer, line engine.Line) {
	for _, item := range line.Items {
		fmt.Fprintf(w, "%s %q", item.Op, item.Pipeline.Text)
		if item.Pipeline.Background {
			fmt.Fprint(w, " &")
		}
		fmt.Fprintln(w)

		for i, cmd := range item.Pipeline.Commands {
			fmt.Fprintf(w, "  %d: %q", i, cmd.Args)
			for _, r := range cmd.Redirs {
				fmt.Fprintf(w, " %s", r)
			}
			fmt.Fprintln(w)
		}
	}
}

func TestParse(t *testing.T) {
	lines := []string{
		`echo hello world`,
		`ls -l | grep go | wc -l`,
		`cat < in.txt > out.txt 2>> err.log`,
		`make 2>&1 | tee build.log`,
		`sleep 10 &`,
		`false && echo no || echo yes; echo done`,
		`echo 'single quoted' "double \"quoted\"" back\ slash`,
		`cmd &> all.log`,
		`cmd |& cat`,
		`> empty.txt`,
		`echo hi >&2`,
		`wc -l <&0`,
		`echo x >| clobber`,
		`# just a comment`,
	}

	var out bytes.Buffer
	for _, line := range lines {
		parsed, err := Parse(line)
		if err != nil {
			t.Fatalf("parsing %q: %v", line, err)
		}
		fmt.Fprintf(&out, "$ %s\n", line)
		renderLine(&out, parsed)
	}

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
		goldie.WithTestNameForDir(true),
	)
	g.Assert(t, "parse", out.Bytes())
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]struct {
		line            string
		wantSyntax      bool
		wantUnsupported string
	}{
		"unterminated quote":   {line: `echo "oops`, wantSyntax: true},
		"dangling pipe":        {line: `echo |`, wantSyntax: true},
		"variable":             {line: `echo $HOME`, wantUnsupported: "expansion"},
		"variable in quotes":   {line: `echo "$HOME"`, wantUnsupported: "expansion"},
		"command substitution": {line: `echo $(date)`, wantUnsupported: "expansion"},
		"assignment":           {line: `FOO=bar env`, wantUnsupported: "variable assignment"},
		"compound":             {line: `if true; then echo; fi`, wantUnsupported: "compound command"},
		"negation":             {line: `! true`, wantUnsupported: "negation"},
		"high descriptor":      {line: `echo hi 3>out`, wantUnsupported: `descriptor "3"`},
		"background list":      {line: `sleep 1 && sleep 2 &`, wantUnsupported: "background list"},
		"ansi quote":           {line: `echo $'x'`, wantUnsupported: "$'' quoting"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			_, err := Parse(tc.line)

			if tc.wantSyntax {
				var syntaxErr *SyntaxError
				assert.True(t, errors.As(err, &syntaxErr), "got %v", err)
				return
			}

			var unsupportedErr *UnsupportedError
			if assert.True(t, errors.As(err, &unsupportedErr), "got %v", err) {
				assert.Equal(t, tc.wantUnsupported, unsupportedErr.What)
			}
		})
	}
}

func TestUnescapeLit(t *testing.T) {
	cases := map[string]struct {
		in     string
		quoted bool
		want   string
	}{
		"plain":               {in: "abc", want: "abc"},
		"escaped space":       {in: `a\ b`, want: "a b"},
		"trailing backslash":  {in: `a\`, want: `a\`},
		"continuation":        {in: "a\\\nb", want: "ab"},
		"quoted keeps others": {in: `a\nb`, quoted: true, want: `a\nb`},
		"quoted quote":        {in: `a\"b`, quoted: true, want: `a"b`},
		"quoted backslash":    {in: `a\\b`, quoted: true, want: `a\b`},
		"unquoted letter":     {in: `a\nb`, want: "anb"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.want, unescapeLit(tc.in, tc.quoted))
		})
	}
}
