package shell

// Defined by
// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html
//
// Only the parts that matter to the execution engine are supported: simple
// commands, pipelines, redirections, lists and background execution.
// Expansions and compound commands are rejected with an UnsupportedError.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/engine"
	"mvdan.cc/sh/v3/syntax"
)

// SyntaxError is returned when a line can't be parsed.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// UnsupportedError is returned for valid shell syntax the engine can't run.
type UnsupportedError struct {
	Pos  syntax.Pos
	What string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s not supported near: %d", e.What, e.Pos.Col())
}

func unsupported(node syntax.Node, what string) error {
	return &UnsupportedError{Pos: node.Pos(), What: what}
}

// Parse turns a command line into the engine's data model.
func Parse(line string) (engine.Line, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return engine.Line{}, &SyntaxError{Err: err}
	}

	p := &lineParser{src: line}
	var out engine.Line
	for _, stmt := range prog.Stmts {
		items, err := p.list(stmt, engine.OpSeq)
		if err != nil {
			return engine.Line{}, err
		}
		out.Items = append(out.Items, items...)
	}
	return out, nil
}

type lineParser struct {
	src string
}

// text returns the source of a statement without its terminator.
func (p *lineParser) text(stmt *syntax.Stmt) string {
	end := stmt.End()
	if stmt.Semicolon.IsValid() {
		end = stmt.Semicolon
	}

	start, stop := int(stmt.Pos().Offset()), int(end.Offset())
	if start > stop || stop > len(p.src) {
		return ""
	}
	return strings.TrimSpace(p.src[start:stop])
}

// list flattens an and-or list into pipelines evaluated left to right.
func (p *lineParser) list(stmt *syntax.Stmt, op engine.ListOp) ([]engine.ListItem, error) {
	if err := checkStmt(stmt); err != nil {
		return nil, err
	}

	if bin, ok := stmt.Cmd.(*syntax.BinaryCmd); ok && (bin.Op == syntax.AndStmt || bin.Op == syntax.OrStmt) {
		if stmt.Background {
			return nil, unsupported(stmt, "background list")
		}
		if len(stmt.Redirs) > 0 {
			return nil, unsupported(stmt, "list redirection")
		}

		left, err := p.list(bin.X, op)
		if err != nil {
			return nil, err
		}
		rightOp := engine.OpAnd
		if bin.Op == syntax.OrStmt {
			rightOp = engine.OpOr
		}
		right, err := p.list(bin.Y, rightOp)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}

	pipeline := engine.Pipeline{
		Background: stmt.Background,
		Text:       p.text(stmt),
	}
	if err := p.stages(&pipeline, stmt); err != nil {
		return nil, err
	}
	return []engine.ListItem{{Op: op, Pipeline: pipeline}}, nil
}

func checkStmt(stmt *syntax.Stmt) error {
	switch {
	case stmt.Negated:
		return unsupported(stmt, "negation")
	case stmt.Coprocess:
		return unsupported(stmt, "coprocess")
	}
	return nil
}

// stages appends the commands of a pipeline statement in order.
func (p *lineParser) stages(pipeline *engine.Pipeline, stmt *syntax.Stmt) error {
	if err := checkStmt(stmt); err != nil {
		return err
	}

	switch cmd := stmt.Cmd.(type) {
	case *syntax.BinaryCmd:
		if cmd.Op != syntax.Pipe && cmd.Op != syntax.PipeAll {
			return unsupported(cmd, "list inside a pipeline")
		}
		if len(stmt.Redirs) > 0 {
			return unsupported(stmt, "pipeline redirection")
		}
		if err := p.stages(pipeline, cmd.X); err != nil {
			return err
		}
		if cmd.Op == syntax.PipeAll {
			// |& is 2>&1 applied after the pipe.
			last := &pipeline.Commands[len(pipeline.Commands)-1]
			last.Redirs = append(last.Redirs, engine.Redirection{FD: 2, Direction: engine.RedirOutput, TargetFD: 1})
		}
		return p.stages(pipeline, cmd.Y)

	case *syntax.CallExpr:
		if len(cmd.Assigns) > 0 {
			return unsupported(cmd, "variable assignment")
		}
		command := engine.Command{}
		for _, word := range cmd.Args {
			arg, err := evalWord(word)
			if err != nil {
				return err
			}
			command.Args = append(command.Args, arg)
		}
		redirs, err := evalRedirects(stmt.Redirs)
		if err != nil {
			return err
		}
		command.Redirs = redirs
		pipeline.Commands = append(pipeline.Commands, command)
		return nil

	case nil:
		// Redirections only, e.g. "> file".
		redirs, err := evalRedirects(stmt.Redirs)
		if err != nil {
			return err
		}
		pipeline.Commands = append(pipeline.Commands, engine.Command{Redirs: redirs})
		return nil

	default:
		return unsupported(stmt, "compound command")
	}
}

func evalRedirects(redirs []*syntax.Redirect) ([]engine.Redirection, error) {
	var out []engine.Redirection
	for _, redirect := range redirs {
		converted, err := evalRedirect(redirect)
		if err != nil {
			return nil, err
		}
		out = append(out, converted...)
	}
	return out, nil
}

func evalRedirect(redirect *syntax.Redirect) ([]engine.Redirection, error) {
	fd := 1
	switch redirect.Op {
	case syntax.RdrIn, syntax.DplIn:
		fd = 0
	}
	if redirect.N != nil {
		n, err := strconv.Atoi(redirect.N.Value)
		if err != nil || n < 0 || n > 2 {
			return nil, unsupported(redirect, fmt.Sprintf("descriptor %q", redirect.N.Value))
		}
		fd = n
	}

	if redirect.Word == nil {
		return nil, unsupported(redirect, "redirection without a target")
	}
	to, err := evalWord(redirect.Word)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return nil, unsupported(redirect, "empty redirection target")
	}

	toFile := func(dir engine.Direction) engine.Redirection {
		return engine.Redirection{FD: fd, Direction: dir, Path: to, TargetFD: engine.NoTarget}
	}
	bothTo := func(dir engine.Direction) []engine.Redirection {
		return []engine.Redirection{
			{FD: 1, Direction: dir, Path: to, TargetFD: engine.NoTarget},
			{FD: 2, Direction: engine.RedirOutput, TargetFD: 1},
		}
	}

	switch redirect.Op {
	case syntax.RdrIn:
		return []engine.Redirection{toFile(engine.RedirInput)}, nil
	case syntax.RdrOut, syntax.ClbOut:
		return []engine.Redirection{toFile(engine.RedirOutput)}, nil
	case syntax.AppOut:
		return []engine.Redirection{toFile(engine.RedirAppend)}, nil
	case syntax.RdrAll:
		return bothTo(engine.RedirOutput), nil
	case syntax.AppAll:
		return bothTo(engine.RedirAppend), nil
	case syntax.DplIn, syntax.DplOut:
		target, err := strconv.Atoi(to)
		switch {
		case err == nil && target >= 0:
			dir := engine.RedirOutput
			if redirect.Op == syntax.DplIn {
				dir = engine.RedirInput
			}
			return []engine.Redirection{{FD: fd, Direction: dir, TargetFD: target}}, nil
		case redirect.Op == syntax.DplOut && redirect.N == nil && to != "-":
			// ">&file" is "&>file".
			return bothTo(engine.RedirOutput), nil
		default:
			return nil, unsupported(redirect, fmt.Sprintf("duplication target %q", to))
		}
	default:
		return nil, unsupported(redirect, fmt.Sprintf("redirection %q", redirect.Op.String()))
	}
}

func evalWord(word *syntax.Word) (string, error) {
	var out strings.Builder
	for _, part := range word.Parts {
		switch part := part.(type) {
		case *syntax.Lit:
			out.WriteString(unescapeLit(part.Value, false))
		case *syntax.SglQuoted:
			if part.Dollar {
				return "", unsupported(part, "$'' quoting")
			}
			out.WriteString(part.Value)
		case *syntax.DblQuoted:
			if part.Dollar {
				return "", unsupported(part, "$\"\" quoting")
			}
			for _, inner := range part.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", unsupported(inner, "expansion")
				}
				out.WriteString(unescapeLit(lit.Value, true))
			}
		default:
			return "", unsupported(part, "expansion")
		}
	}
	return out.String(), nil
}

// unescapeLit removes the backslashes the shell would consume. Inside double
// quotes a backslash only escapes $, `, ", \ and newline.
func unescapeLit(value string, quoted bool) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var out strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i+1 >= len(value) {
			out.WriteByte(c)
			continue
		}

		next := value[i+1]
		switch {
		case next == '\n':
			// Line continuation.
			i++
		case !quoted || strings.IndexByte("$`\"\\", next) >= 0:
			out.WriteByte(next)
			i++
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}
