package engine

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/josephlewis42/jobsh/core/logger"
)

// Stdio are the streams a builtin runs with.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Builtin is a command run inside the shell process.
type Builtin interface {
	Main(d *Dispatcher, stdio Stdio, args []string) int
}

// BuiltinFunc adapts a function to Builtin.
type BuiltinFunc func(d *Dispatcher, stdio Stdio, args []string) int

// Main implements Builtin.
func (f BuiltinFunc) Main(d *Dispatcher, stdio Stdio, args []string) int {
	return f(d, stdio, args)
}

var _ Builtin = (BuiltinFunc)(nil)

// BuiltinResolver finds the builtin for a command name.
type BuiltinResolver func(name string) (Builtin, bool)

// Dispatcher is the entry point of the engine: it receives parsed lines,
// routes each pipeline to a builtin or to the launcher and reports the
// resulting status.
type Dispatcher struct {
	Jobs     *Manager
	Launcher *Launcher
	Builtins BuiltinResolver

	// Std are the shell's own standard descriptors.
	Std DescriptorMap
	// CreateMode is used for files created by output redirections.
	CreateMode os.FileMode

	Log    *log.Logger
	Events *logger.SessionLogger

	// OnError reports a failure to the user, defaults to printing on Std[2].
	OnError func(err error)
	// TakeTerminal makes the shell the terminal's foreground process group
	// again once a foreground job is over. The job itself receives the
	// terminal from Launcher.Terminal. Nil when the shell isn't interactive.
	TakeTerminal func()
	// Halted stops the rest of a line from running once it returns true.
	Halted func() bool

	// LastStatus is the status of the most recent pipeline.
	LastStatus int
}

// NewDispatcher creates a dispatcher using the process's standard streams.
func NewDispatcher(builtins BuiltinResolver) *Dispatcher {
	return &Dispatcher{
		Jobs:       NewManager(),
		Launcher:   &Launcher{},
		Builtins:   builtins,
		Std:        DescriptorMap{os.Stdin, os.Stdout, os.Stderr},
		CreateMode: DefaultCreateMode,
	}
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Log == nil {
		return log.New(ioutil.Discard, "", 0)
	}
	return d.Log
}

// Errorf reports a formatted failure to the user.
func (d *Dispatcher) Errorf(format string, args ...interface{}) {
	d.report(fmt.Errorf(format, args...))
}

func (d *Dispatcher) report(err error) {
	if d.OnError != nil {
		d.OnError(err)
		return
	}
	if d.Std[2] != nil {
		fmt.Fprintf(d.Std[2], "jobsh: %v\n", err)
	}
}

func (d *Dispatcher) record(eventType string, fields map[string]interface{}) {
	if err := d.Events.Record(eventType, fields); err != nil {
		d.logger().Printf("recording %s: %v", eventType, err)
	}
}

// Run executes every pipeline of line honoring ;, && and || and returns the
// status of the last pipeline that ran.
func (d *Dispatcher) Run(line Line) int {
	status := d.LastStatus
	for i, item := range line.Items {
		if d.Halted != nil && d.Halted() {
			break
		}
		if i > 0 {
			switch item.Op {
			case OpAnd:
				if status != 0 {
					continue
				}
			case OpOr:
				if status == 0 {
					continue
				}
			}
		}
		status = d.RunPipeline(item.Pipeline)
	}
	return status
}

// RunPipeline executes one pipeline and returns its status. A redirection
// that can't be resolved fails the pipeline before anything is started.
func (d *Dispatcher) RunPipeline(p Pipeline) int {
	d.LastStatus = d.runPipeline(p)
	return d.LastStatus
}

func (d *Dispatcher) runPipeline(p Pipeline) int {
	plan, err := Build(d.Std, p, d.CreateMode)
	if err != nil {
		d.report(err)
		d.record(logger.EventPathError, map[string]interface{}{
			"argv":  logger.Strings(firstArgs(p)),
			"error": err.Error(),
		})
		return StatusOf(err)
	}

	if len(p.Commands) == 1 {
		name := p.Commands[0].Name()
		if name == "" {
			return d.closePlan(plan, 0)
		}
		if d.Builtins != nil {
			if builtin, ok := d.Builtins(name); ok {
				return d.runBuiltin(plan, builtin)
			}
		}
	}

	if d.TakeTerminal != nil && !p.Background {
		// A leader that failed to exec may already have taken the terminal.
		defer d.TakeTerminal()
	}
	job, err := d.Jobs.Launch(d.Launcher, plan)
	if err != nil {
		d.report(err)
		return 1
	}

	for _, proc := range job.Procs {
		if proc.Err == nil {
			continue
		}
		d.report(proc.Err)
		d.record(logger.EventStageFailed, map[string]interface{}{
			"argv":  logger.Strings(proc.Args),
			"stage": proc.Stage,
			"error": proc.Err.Error(),
		})
	}
	if job.Started() == 0 {
		return job.ExitStatus()
	}

	d.record(logger.EventJobStarted, map[string]interface{}{
		"job":        job.ID,
		"pgid":       job.Pgid,
		"pids":       logger.Ints(job.Pids()),
		"argv":       logger.Strings(firstArgs(p)),
		"stages":     len(p.Commands),
		"background": p.Background,
		"command":    p.String(),
	})

	if p.Background {
		d.Jobs.Background(job)
		if d.Std[2] != nil {
			fmt.Fprintf(d.Std[2], "[%d] %d\n", job.ID, job.Pgid)
		}
		return 0
	}

	return d.Wait(job)
}

// Wait reaps job and records its completion.
func (d *Dispatcher) Wait(job *Job) int {
	status := d.Jobs.Wait(job)

	var statuses []string
	for _, s := range job.Statuses() {
		statuses = append(statuses, s.String())
	}
	d.record(logger.EventJobReaped, map[string]interface{}{
		"job":      job.ID,
		"pgid":     job.Pgid,
		"status":   status,
		"statuses": logger.Strings(statuses),
	})
	return status
}

func (d *Dispatcher) runBuiltin(plan *Plan, builtin Builtin) int {
	m := plan.Stages[0].Map
	stdio := Stdio{In: eofReader{}, Out: ioutil.Discard, Err: ioutil.Discard}
	if m[0] != nil {
		stdio.In = m[0]
	}
	if m[1] != nil {
		stdio.Out = m[1]
	}
	if m[2] != nil {
		stdio.Err = m[2]
	}

	status := builtin.Main(d, stdio, plan.Stages[0].Args)
	return d.closePlan(plan, status)
}

func (d *Dispatcher) closePlan(plan *Plan, status int) int {
	if err := plan.Close(); err != nil {
		d.logger().Printf("closing descriptors: %v", err)
	}
	return status
}

// Signal sends sig to the job or process arg names and records the attempt.
func (d *Dispatcher) Signal(arg string, sig Signal) error {
	job, err := d.Jobs.Signal(arg, sig.Number)
	fields := map[string]interface{}{
		"target":  arg,
		"signal":  sig.Name,
		"tracked": job != nil,
	}
	if job != nil {
		fields["job"] = job.ID
		fields["pgid"] = job.Pgid
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["argv"] = logger.Strings([]string{"kill", arg})
		d.record(logger.EventBuiltinError, fields)
		return err
	}
	d.record(logger.EventSignalSent, fields)
	return nil
}

func firstArgs(p Pipeline) []string {
	var out []string
	for _, cmd := range p.Commands {
		out = append(out, cmd.Name())
	}
	return out
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Describe renders the jobs in the same form as the jobs builtin.
func Describe(w io.Writer, jobs []*Job, long bool) {
	for _, j := range jobs {
		if long {
			fmt.Fprintf(w, "[%d]  %d %-12s %s\n", j.ID, j.Pgid, j.State(), j.Pipeline.String())
			continue
		}
		fmt.Fprintf(w, "[%d]  %-12s %s\n", j.ID, j.State(), strings.TrimSpace(j.Pipeline.String()))
	}
}
