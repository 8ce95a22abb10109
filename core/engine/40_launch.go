package engine

import (
	"errors"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Launcher starts the stages of a Plan as processes sharing one new process
// group.
type Launcher struct {
	// Env of the children, nil inherits the shell's environment.
	Env []string
	// Dir is the working directory of the children, empty inherits the shell's.
	Dir string
	// ExtraFiles are handed to every child as descriptors 3 and up. A nil
	// entry leaves that descriptor closed.
	ExtraFiles []*os.File
	// Terminal, when set, is handed to the process group of every foreground
	// job. The first member to start does it before exec, so no stage can
	// touch the terminal while its group is still in the background.
	Terminal *os.File

	Log *log.Logger
}

func (l *Launcher) logger() *log.Logger {
	if l.Log == nil {
		return log.New(ioutil.Discard, "", 0)
	}
	return l.Log
}

// Launch starts every stage of plan and returns the resulting job. The plan's
// descriptors are closed in the shell once the children hold their copies.
//
// A stage whose executable can't be started is recorded on its Proc and the
// remaining stages are still launched. Only exhaustion of OS resources aborts
// the attempt: already started members are killed, reaped and a
// *ResourceError is returned.
func (l *Launcher) Launch(plan *Plan) (*Job, error) {
	defer plan.Close()

	job := newJob(plan.Pipeline)
	foreground := l.Terminal != nil && !plan.Pipeline.Background
	for i, stage := range plan.Stages {
		proc := &Proc{Stage: i, Args: stage.Args}
		job.Procs = append(job.Procs, proc)

		if len(stage.Args) == 0 {
			// Redirection only, the files were created when the plan was built.
			proc.status = Status{State: StateExited}
			plan.Table.CloseOwnedBy(Owner(i))
			continue
		}

		cmd := l.command(stage, job.Pgid, foreground && job.Pgid == 0)
		err := cmd.Start()
		plan.Table.CloseOwnedBy(Owner(i))

		if err != nil {
			err = classifyStartError(stage.Args[0], err)

			var resErr *ResourceError
			if errors.As(err, &resErr) {
				l.logger().Printf("aborting %q: %v", plan.Pipeline.String(), err)
				job.abort()
				return nil, err
			}

			proc.Err = err
			proc.status = Status{State: StateExited, Code: StatusOf(err)}
			l.logger().Printf("stage %d of %q: %v", i, plan.Pipeline.String(), err)
			continue
		}

		proc.Cmd = cmd
		proc.Pid = cmd.Process.Pid
		proc.status = Status{State: StateRunning}
		if job.Pgid == 0 {
			job.Pgid = proc.Pid
		}
		l.logger().Printf("started %q pid=%d pgid=%d", stage.Args[0], proc.Pid, job.Pgid)
	}

	return job, nil
}

func (l *Launcher) command(stage StagePlan, pgid int, leader bool) *exec.Cmd {
	cmd := exec.Command(stage.Args[0], stage.Args[1:]...)
	if errors.Is(cmd.Err, exec.ErrDot) {
		// An empty PATH element means the current directory, as in sh.
		cmd.Err = nil
	}
	cmd.Env = l.Env
	cmd.Dir = l.Dir
	cmd.ExtraFiles = l.ExtraFiles

	// Assigning a nil *os.File would give exec a non-nil interface.
	if stage.Map[0] != nil {
		cmd.Stdin = stage.Map[0]
	}
	if stage.Map[1] != nil {
		cmd.Stdout = stage.Map[1]
	}
	if stage.Map[2] != nil {
		cmd.Stderr = stage.Map[2]
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    pgid,
	}
	if leader {
		// Ctty is a descriptor of this process when Foreground is set.
		cmd.SysProcAttr.Foreground = true
		cmd.SysProcAttr.Ctty = int(l.Terminal.Fd())
	}
	return cmd
}

// abort kills and reaps whatever part of the job already started.
func (j *Job) abort() {
	if j.Pgid != 0 {
		_ = unix.Kill(-j.Pgid, unix.SIGKILL)
	}
	j.reap()
}
