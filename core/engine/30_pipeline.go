package engine

import (
	"errors"
	"os"
)

// ErrEmptyPipeline is returned when a pipeline or one of its stages has no
// command to run.
var ErrEmptyPipeline = errors.New("syntax error: empty command")

// StagePlan is what one stage needs to start.
type StagePlan struct {
	Args []string
	Map  DescriptorMap
}

// Plan is a pipeline with every descriptor allocated. It must be launched or
// closed, never both.
type Plan struct {
	Pipeline Pipeline
	Stages   []StagePlan
	Table    *Table
}

// Close releases every descriptor the plan still holds.
func (p *Plan) Close() error {
	return p.Table.Close()
}

// Build allocates the pipes between the stages of p and resolves each stage's
// redirections. std supplies the first stage's input, the last stage's output
// and every stage's error stream.
//
// On failure nothing is left open and no process has been created.
func Build(std DescriptorMap, p Pipeline, perm os.FileMode) (*Plan, error) {
	n := len(p.Commands)
	if n == 0 {
		return nil, ErrEmptyPipeline
	}
	for _, cmd := range p.Commands {
		if len(cmd.Args) == 0 && len(cmd.Redirs) == 0 {
			return nil, ErrEmptyPipeline
		}
	}

	plan := &Plan{
		Pipeline: p,
		Stages:   make([]StagePlan, n),
		Table:    NewTable(),
	}

	for i := range plan.Stages {
		plan.Stages[i].Args = p.Commands[i].Args
		plan.Stages[i].Map = DescriptorMap{std[0], std[1], std[2]}
	}

	// Pipe i connects stage i's stdout to stage i+1's stdin.
	for i := 0; i < n-1; i++ {
		r, w, err := plan.Table.Pipe(Owner(i+1), Owner(i))
		if err != nil {
			plan.Close()
			return nil, err
		}
		plan.Stages[i].Map[1] = w
		plan.Stages[i+1].Map[0] = r
	}

	for i, cmd := range p.Commands {
		m, err := Resolve(plan.Table, Owner(i), plan.Stages[i].Map, cmd.Redirs, perm)
		if err != nil {
			plan.Close()
			return nil, err
		}
		plan.Stages[i].Map = m
	}

	return plan, nil
}
