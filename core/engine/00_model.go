package engine

import (
	"fmt"
	"strings"
)

// Direction is the kind of a redirection.
type Direction int

const (
	// RedirInput opens the target for reading.
	RedirInput Direction = iota
	// RedirOutput creates or truncates the target for writing.
	RedirOutput
	// RedirAppend creates the target or opens it for appending.
	RedirAppend
)

func (d Direction) String() string {
	switch d {
	case RedirInput:
		return "<"
	case RedirOutput:
		return ">"
	case RedirAppend:
		return ">>"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// NoTarget marks a Redirection whose target is a path.
const NoTarget = -1

// Redirection overrides one standard descriptor of a stage.
type Redirection struct {
	// FD is the descriptor being redirected, one of 0, 1 or 2.
	FD int
	// Direction of the redirection.
	Direction Direction
	// Path to open, used when TargetFD is NoTarget.
	Path string
	// TargetFD is an already open descriptor to duplicate onto FD.
	TargetFD int
}

// String renders the redirection in shell syntax.
func (r Redirection) String() string {
	op := r.Direction.String()
	if r.TargetFD != NoTarget {
		if r.Direction == RedirInput {
			return fmt.Sprintf("%d<&%d", r.FD, r.TargetFD)
		}
		return fmt.Sprintf("%d>&%d", r.FD, r.TargetFD)
	}
	return fmt.Sprintf("%d%s%q", r.FD, op, r.Path)
}

// Command is a single stage of a pipeline, Args[0] names the executable.
type Command struct {
	Args   []string
	Redirs []Redirection
}

// Name returns the executable name or an empty string.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Pipeline is one or more commands joined by pipes.
type Pipeline struct {
	Commands   []Command
	Background bool

	// Text is the source the pipeline was parsed from, used for job listings.
	Text string
}

// String returns the source text, or a reconstruction when it's missing.
func (p Pipeline) String() string {
	if p.Text != "" {
		return p.Text
	}

	var stages []string
	for _, cmd := range p.Commands {
		parts := append([]string{}, cmd.Args...)
		for _, r := range cmd.Redirs {
			parts = append(parts, r.String())
		}
		stages = append(stages, strings.Join(parts, " "))
	}
	out := strings.Join(stages, " | ")
	if p.Background {
		out += " &"
	}
	return out
}

// ListOp joins a pipeline to the one before it.
type ListOp int

const (
	// OpSeq always runs the pipeline.
	OpSeq ListOp = iota
	// OpAnd runs the pipeline if the previous one succeeded.
	OpAnd
	// OpOr runs the pipeline if the previous one failed.
	OpOr
)

func (o ListOp) String() string {
	switch o {
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return ";"
	}
}

// ListItem is a pipeline and the operator that links it to its predecessor.
type ListItem struct {
	Op       ListOp
	Pipeline Pipeline
}

// Line is a fully parsed command line.
type Line struct {
	Items []ListItem
}
