package shell

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/josephlewis42/jobsh/core/engine"
)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]ShellBuiltin)

// ShellBuiltin is a command that runs inside the shell process.
type ShellBuiltin interface {
	Main(s *Shell, stdio engine.Stdio, args []string) int
}

type ShellBuiltinFunc func(s *Shell, stdio engine.Stdio, args []string) int

func (f ShellBuiltinFunc) Main(s *Shell, stdio engine.Stdio, args []string) int {
	return f(s, stdio, args)
}

var _ ShellBuiltin = (ShellBuiltinFunc)(nil)

// Short descriptions shown by help.
var builtinDescriptions = map[string]string{
	"exit": "Exit the shell.",
	"help": "Display information about builtin commands.",
	"jobs": "Display status of jobs.",
	"kill": "Send a signal to a job.",
	"wait": "Wait for job completion and return exit status.",
}

// BuiltinNames returns the registered builtin names in order.
func BuiltinNames() []string {
	var names []string
	for name := range AllBuiltins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one line description of a builtin.
func Describe(name string) string {
	return builtinDescriptions[name]
}

// signalOperand rewrites the "-SIGSPEC" form of kill into "-s SIGSPEC" so
// getopt can parse it.
func signalOperand(args []string) []string {
	if len(args) < 2 {
		return args
	}
	arg := args[1]
	if len(arg) < 2 || arg[0] != '-' {
		return args
	}
	first := rune(arg[1])
	if !unicode.IsDigit(first) && !unicode.IsUpper(first) {
		return args
	}

	out := []string{args[0], "-s", arg[1:]}
	return append(out, args[2:]...)
}

// Kill sends a signal to jobs and processes.
func Kill(s *Shell, stdio engine.Stdio, args []string) int {
	cmd := &SimpleCommand{
		Use:   "kill [-s sigspec | -sigspec] pid | jobspec ... or kill -l",
		Short: "Send a signal to a job.",
	}
	sigSpec := cmd.Flags().StringLong("signal", 's', "", "name or number of the signal to send", "sigspec")
	list := cmd.Flags().BoolLong("list", 'l', "list the signal names")

	return cmd.Run(stdio, signalOperand(args), func(targets []string) int {
		if *list {
			for _, sig := range engine.Signals() {
				fmt.Fprintf(stdio.Out, "%2d) SIG%s\n", int(sig.Number), sig.Name)
			}
			return 0
		}

		sig := s.TermSignal
		if *sigSpec != "" {
			parsed, err := engine.ParseSignal(*sigSpec)
			if err != nil {
				fmt.Fprintf(stdio.Err, "kill: %v\n", err)
				return 1
			}
			sig = parsed
		}

		if len(targets) == 0 {
			fmt.Fprintf(stdio.Err, "usage: %s\n", cmd.Use)
			return 2
		}

		status := 0
		for _, target := range targets {
			if err := s.Dispatcher.Signal(target, sig); err != nil {
				fmt.Fprintf(stdio.Err, "kill: %v\n", err)
				status = 1
			}
		}
		return status
	})
}

// Wait waits for the given jobs, or every active job.
func Wait(s *Shell, stdio engine.Stdio, args []string) int {
	cmd := &SimpleCommand{
		Use:   "wait [pid | jobspec ...]",
		Short: "Wait for job completion and return exit status.",
	}

	return cmd.Run(stdio, args, func(targets []string) int {
		d := s.Dispatcher
		if len(targets) == 0 {
			status := 0
			for _, job := range d.Jobs.Waitable() {
				status = d.Wait(job)
			}
			return status
		}

		status := 0
		for _, target := range targets {
			job, err := d.Jobs.Lookup(target)
			if err != nil {
				fmt.Fprintf(stdio.Err, "wait: %v\n", err)
				var targetErr *engine.TargetError
				if errors.As(err, &targetErr) && targetErr.Kind == engine.NoSuchProcess {
					status = 127
				} else {
					status = 2
				}
				continue
			}
			status = d.Wait(job)
		}
		return status
	})
}

// Jobs lists active jobs and those that finished since the last notice.
func Jobs(s *Shell, stdio engine.Stdio, args []string) int {
	cmd := &SimpleCommand{
		Use:   "jobs [-l]",
		Short: "Display status of jobs.",
	}
	long := cmd.Flags().Bool('l', "list process IDs in addition to the normal information")

	return cmd.Run(stdio, args, func(_ []string) int {
		jobs := append(s.Dispatcher.Jobs.TakeFinished(), s.Dispatcher.Jobs.List()...)
		sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
		engine.Describe(stdio.Out, jobs, *long)
		return 0
	})
}

// Exit quits the shell with the given status or the last one.
func Exit(s *Shell, stdio engine.Stdio, args []string) int {
	s.Quit = true

	status := s.Dispatcher.LastStatus
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(stdio.Err, "exit: %s: numeric argument required\n", args[1])
			n = 2
		}
		status = n & 0xff
	}
	s.ExitStatus = status
	return status
}

// Help lists the builtins.
func Help(s *Shell, stdio engine.Stdio, args []string) int {
	if len(args) > 1 {
		status := 0
		for _, name := range args[1:] {
			if _, ok := AllBuiltins[name]; !ok {
				fmt.Fprintf(stdio.Err, "help: no help topics match %q\n", name)
				status = 1
				continue
			}
			fmt.Fprintf(stdio.Out, "%s: %s\n", name, Describe(name))
		}
		return status
	}

	fmt.Fprintln(stdio.Out, "These shell commands are defined internally.")
	fmt.Fprintln(stdio.Out, "Everything else is run as a program found in PATH.")
	fmt.Fprintln(stdio.Out)
	for _, name := range BuiltinNames() {
		fmt.Fprintf(stdio.Out, "  %-6s %s\n", name, strings.TrimSpace(Describe(name)))
	}
	return 0
}

func init() {
	AllBuiltins["exit"] = ShellBuiltinFunc(Exit)
	AllBuiltins["help"] = ShellBuiltinFunc(Help)
	AllBuiltins["jobs"] = ShellBuiltinFunc(Jobs)
	AllBuiltins["kill"] = ShellBuiltinFunc(Kill)
	AllBuiltins["wait"] = ShellBuiltinFunc(Wait)
}
