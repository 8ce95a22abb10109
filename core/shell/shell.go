package shell

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/engine"
	"github.com/josephlewis42/jobsh/core/logger"
	"golang.org/x/sys/unix"
)

// Options configure a new Shell.
type Options struct {
	Config *config.Configuration

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Log receives diagnostics, it defaults to discarding them.
	Log *log.Logger
	// Events receives job lifecycle events, it defaults to dropping them.
	Events *logger.Logger
}

// Shell reads command lines and hands them to the engine.
type Shell struct {
	Dispatcher *engine.Dispatcher
	Readline   *readline.Instance

	// TermSignal is sent by kill when no signal is named.
	TermSignal engine.Signal

	// Quit is set by the exit builtin.
	Quit bool
	// ExitStatus is the status the shell exits with once Quit is set.
	ExitStatus int

	config      *config.Configuration
	log         *log.Logger
	events      *logger.SessionLogger
	stderr      io.Writer
	interactive bool
	tty         *terminalReader
	lines       *lineReader
	errColor    *color.Color
	promptColor *color.Color
	toClose     listCloser
}

// New creates a shell, it's interactive when standard input is a terminal.
func New(opts Options) (*Shell, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Log == nil {
		opts.Log = log.New(ioutil.Discard, "", 0)
	}
	if opts.Events == nil {
		opts.Events = logger.NewNopLogger()
	}

	termSignal, err := engine.ParseSignal(opts.Config.TermSignal)
	if err != nil {
		return nil, fmt.Errorf("term_signal: %w", err)
	}

	s := &Shell{
		TermSignal:  termSignal,
		config:      opts.Config,
		log:         opts.Log,
		events:      opts.Events.NewSession(),
		stderr:      opts.Stderr,
		interactive: isTerminal(opts.Stdin),
		errColor:    color.New(color.FgRed),
		promptColor: color.New(color.FgGreen, color.Bold),
	}

	if !opts.Config.Color || !isTerminal(opts.Stderr) {
		s.errColor.DisableColor()
	}
	if !opts.Config.Color || !isTerminal(opts.Stdout) {
		s.promptColor.DisableColor()
	}

	engine.MarkInheritedCloseOnExec()

	d := engine.NewDispatcher(s.resolveBuiltin)
	d.Std = engine.DescriptorMap{opts.Stdin, opts.Stdout, opts.Stderr}
	d.CreateMode = opts.Config.FileMode()
	d.Log = opts.Log
	d.Events = s.events
	d.OnError = s.reportError
	d.Halted = func() bool { return s.Quit }
	d.Jobs.Log = opts.Log
	d.Launcher.Log = opts.Log
	d.Launcher.ExtraFiles = passthroughFiles(opts.Config.PassthroughFDs, opts.Log)
	s.Dispatcher = d

	if s.interactive {
		if err := s.initReadline(opts); err != nil {
			return nil, err
		}
		d.Launcher.Terminal = opts.Stdin
		d.TakeTerminal = takeTerminal(opts.Stdin, opts.Log.Printf)
	} else {
		s.lines = &lineReader{r: opts.Stdin}
	}

	if err := s.events.Record(logger.EventSessionStart, map[string]interface{}{
		"pid":         os.Getpid(),
		"interactive": s.interactive,
	}); err != nil {
		s.log.Printf("recording session start: %v", err)
	}

	return s, nil
}

func (s *Shell) initReadline(opts Options) error {
	s.tty = newTerminalReader(opts.Stdin)
	s.toClose = append(s.toClose, s.tty)

	cfg := &readline.Config{
		Prompt:      s.Prompt(),
		HistoryFile: opts.Config.HistoryPath(),
		Stdin:       s.tty,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,

		FuncIsTerminal: func() bool {
			return true
		},
	}

	if err := cfg.Init(); err != nil {
		return err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return err
	}
	s.Readline = rl
	s.toClose = append(s.toClose, rl)
	return nil
}

// passthroughFiles maps the configured descriptors into the ExtraFiles slots
// of children, descriptor n lands at index n-3. Closed descriptors are
// skipped.
func passthroughFiles(fds []int, l *log.Logger) []*os.File {
	var out []*os.File
	for _, fd := range fds {
		if fd < 3 {
			continue
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			l.Printf("not passing descriptor %d: %v", fd, err)
			continue
		}
		for len(out) <= fd-3 {
			out = append(out, nil)
		}
		out[fd-3] = os.NewFile(uintptr(fd), fmt.Sprintf("fd%d", fd))
	}
	return out
}

func (s *Shell) resolveBuiltin(name string) (engine.Builtin, bool) {
	builtin, ok := AllBuiltins[name]
	if !ok {
		return nil, false
	}
	return engine.BuiltinFunc(func(_ *engine.Dispatcher, stdio engine.Stdio, args []string) int {
		return builtin.Main(s, stdio, args)
	}), true
}

func (s *Shell) reportError(err error) {
	s.errColor.Fprintf(s.stderr, "jobsh: %v\n", err)
}

// Interactive reports whether the shell reads from a terminal.
func (s *Shell) Interactive() bool {
	return s.interactive
}

// Prompt returns the prompt shown before each interactive line.
func (s *Shell) Prompt() string {
	return s.promptColor.Sprint(s.config.Prompt)
}

// RunCommand parses and runs one line, returning its status.
func (s *Shell) RunCommand(line string) int {
	if strings.TrimSpace(line) == "" {
		return s.Dispatcher.LastStatus
	}

	parsed, err := Parse(line)
	if err != nil {
		s.reportError(err)
		s.Dispatcher.LastStatus = 2
		return 2
	}
	return s.Dispatcher.Run(parsed)
}

// Run reads and runs lines until exit or end of input and returns the shell's
// exit status.
func (s *Shell) Run() int {
	for !s.Quit {
		if s.interactive {
			s.notifyFinished()
		}

		line, err := s.readLine()
		switch {
		case err == io.EOF:
			s.RunCommand(line)
			s.exit()
			return s.ExitStatus

		case err == readline.ErrInterrupt:
			continue

		case err != nil:
			s.log.Printf("reading input: %v", err)
			s.reportError(err)
			s.Quit = true
			s.ExitStatus = 1
			return s.ExitStatus

		default:
			s.RunCommand(line)
		}
	}
	return s.ExitStatus
}

func (s *Shell) exit() {
	if !s.Quit {
		s.Quit = true
		s.ExitStatus = s.Dispatcher.LastStatus
	}
}

func (s *Shell) readLine() (string, error) {
	if s.Readline == nil {
		return s.lines.ReadLine()
	}

	s.Readline.SetPrompt(s.Prompt())
	s.tty.Resume()
	defer s.tty.Pause()
	return s.Readline.Readline()
}

func (s *Shell) notifyFinished() {
	finished := s.Dispatcher.Jobs.TakeFinished()
	engine.Describe(s.stderr, finished, false)
}

// Close releases the terminal and logs.
func (s *Shell) Close() error {
	return s.toClose.Close()
}

type listCloser []io.Closer

func (lc listCloser) Close() error {
	var lastErr error
	for i := len(lc) - 1; i >= 0; i-- {
		if err := lc[i].Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			lastErr = err
		}
	}

	return lastErr
}
