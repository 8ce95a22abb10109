package shell

import (
	"fmt"
	"io"

	"github.com/josephlewis42/jobsh/core/engine"
	getopt "github.com/pborman/getopt/v2"
)

// SimpleCommand holds the flag handling shared by builtins.
type SimpleCommand struct {
	// Use holds a one line usage string
	Use string
	// Short holds a one line description of the command.
	Short string
	// ShowHelp sets whether help is displayed or not.
	// If this is non-nil when Run() is called, then the default help flag isn't
	// added.
	ShowHelp *bool

	flags *getopt.Set
}

// Flags gets the command's flag set.
func (s *SimpleCommand) Flags() *getopt.Set {
	if s.flags == nil {
		s.flags = getopt.New()
	}

	return s.flags
}

// PrintHelp writes help for the command to the given writer.
func (s *SimpleCommand) PrintHelp(w io.Writer) {
	fmt.Fprint(w, "usage: ")
	fmt.Fprintln(w, s.Use)
	fmt.Fprintln(w, s.Short)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	s.Flags().PrintOptions(w)
}

// Run parses args and calls the callback with the remaining operands.
// Usage errors exit with status 2.
func (s *SimpleCommand) Run(stdio engine.Stdio, args []string, callback func(operands []string) int) int {
	opts := s.Flags()

	// Add help flag if not overridden.
	if s.ShowHelp == nil {
		s.ShowHelp = opts.BoolLong("help", 'h', "show this help and exit")
	}

	if err := opts.Getopt(args, nil); err != nil {
		fmt.Fprintf(stdio.Err, "%s: %s\n", args[0], err)
		fmt.Fprintf(stdio.Err, "usage: %s\n", s.Use)
		return 2
	}

	if *s.ShowHelp {
		s.PrintHelp(stdio.Out)
		return 0
	}

	return callback(opts.Args())
}
