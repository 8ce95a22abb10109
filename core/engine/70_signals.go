package engine

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Signal is a signal number with its name without the SIG prefix.
type Signal struct {
	Name   string
	Number syscall.Signal
}

func (s Signal) String() string {
	return s.Name
}

// SigTerm is what kill sends by default.
var SigTerm = Signal{Name: "TERM", Number: unix.SIGTERM}

// ParseSignal accepts a signal name with or without the SIG prefix in any
// case, or a signal number.
func ParseSignal(spec string) (Signal, error) {
	if n, err := strconv.Atoi(spec); err == nil {
		name := unix.SignalName(syscall.Signal(n))
		if n <= 0 || name == "" {
			return Signal{}, fmt.Errorf("%s: invalid signal specification", spec)
		}
		return Signal{Name: strings.TrimPrefix(name, "SIG"), Number: syscall.Signal(n)}, nil
	}

	name := strings.ToUpper(spec)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	num := unix.SignalNum(name)
	if num == 0 {
		return Signal{}, fmt.Errorf("%s: invalid signal specification", spec)
	}
	return Signal{Name: strings.TrimPrefix(name, "SIG"), Number: num}, nil
}

// Signals lists the standard signals in numeric order.
func Signals() []Signal {
	var out []Signal
	for n := 1; n < 32; n++ {
		name := unix.SignalName(syscall.Signal(n))
		if name == "" {
			continue
		}
		out = append(out, Signal{Name: strings.TrimPrefix(name, "SIG"), Number: syscall.Signal(n)})
	}
	return out
}
