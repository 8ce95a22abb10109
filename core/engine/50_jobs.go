package engine

import (
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// State of a single process in a job.
type State int

const (
	StateUnknown State = iota
	StateRunning
	StateExited
	StateSignaled
)

// Status is the completion status of one process.
type Status struct {
	State  State
	Code   int
	Signal syscall.Signal
}

// ExitCode folds the status into a shell status, 128+N for signal N.
func (s Status) ExitCode() int {
	switch s.State {
	case StateExited:
		return s.Code
	case StateSignaled:
		return 128 + int(s.Signal)
	default:
		return 0
	}
}

func (s Status) String() string {
	switch s.State {
	case StateRunning:
		return "Running"
	case StateExited:
		if s.Code == 0 {
			return "Done"
		}
		return fmt.Sprintf("Exit %d", s.Code)
	case StateSignaled:
		name := s.Signal.String()
		if name == "" {
			return "Signaled"
		}
		return strings.ToUpper(name[:1]) + name[1:]
	default:
		return "Unknown"
	}
}

func statusFromProcessState(ps *os.ProcessState) Status {
	if ps == nil {
		return Status{State: StateUnknown}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Status{State: StateSignaled, Signal: ws.Signal()}
	}
	return Status{State: StateExited, Code: ps.ExitCode()}
}

// Proc is one stage of a job.
type Proc struct {
	Stage int
	Args  []string
	// Pid is zero if the stage never started.
	Pid int
	Cmd *exec.Cmd
	// Err is why the stage never started.
	Err error

	status Status
}

// Job is the runtime record of a launched pipeline.
type Job struct {
	ID       int
	Pgid     int
	Pipeline Pipeline
	Procs    []*Proc

	mu       sync.Mutex
	reapOnce sync.Once
	done     chan struct{}
	waited   bool
}

func newJob(p Pipeline) *Job {
	return &Job{Pipeline: p, done: make(chan struct{})}
}

// Started is the number of members that were actually spawned.
func (j *Job) Started() int {
	n := 0
	for _, p := range j.Procs {
		if p.Cmd != nil {
			n++
		}
	}
	return n
}

// Pids of the members that were spawned.
func (j *Job) Pids() []int {
	var out []int
	for _, p := range j.Procs {
		if p.Pid != 0 {
			out = append(out, p.Pid)
		}
	}
	return out
}

// Statuses returns a snapshot of each member's status in stage order.
func (j *Job) Statuses() []Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Status, len(j.Procs))
	for i, p := range j.Procs {
		out[i] = p.status
	}
	return out
}

// Done is closed once every member has been reaped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finished reports whether every member has been reaped.
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// State summarizes the job for listings.
func (j *Job) State() string {
	if !j.Finished() {
		return Status{State: StateRunning}.String()
	}
	statuses := j.Statuses()
	return statuses[len(statuses)-1].String()
}

// ExitStatus is the shell status of the pipeline. It's the last stage's
// status unless that is zero and an earlier stage failed to start or was
// killed by something other than SIGPIPE.
func (j *Job) ExitStatus() int {
	statuses := j.Statuses()
	if len(statuses) == 0 {
		return 0
	}
	if code := statuses[len(statuses)-1].ExitCode(); code != 0 {
		return code
	}

	for i, p := range j.Procs {
		if p.Err != nil {
			return StatusOf(p.Err)
		}
		if s := statuses[i]; s.State == StateSignaled && s.Signal != syscall.SIGPIPE {
			return s.ExitCode()
		}
	}
	return 0
}

// Signal delivers sig to the job's process group.
func (j *Job) Signal(sig syscall.Signal) error {
	if j.Pgid == 0 {
		return &TargetError{Arg: fmt.Sprintf("%%%d", j.ID), Kind: NoSuchProcess}
	}
	if err := unix.Kill(-j.Pgid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return &TargetError{Arg: fmt.Sprintf("%%%d", j.ID), Kind: NoSuchProcess}
		}
		return err
	}
	return nil
}

// reap waits for every started member exactly once, whichever stage was
// signaled. Later callers block until the first one finishes.
func (j *Job) reap() {
	j.reapOnce.Do(func() {
		for _, p := range j.Procs {
			if p.Cmd == nil {
				continue
			}
			// A non-zero exit is an *exec.ExitError; the status is read from
			// ProcessState either way.
			_ = p.Cmd.Wait()

			j.mu.Lock()
			p.status = statusFromProcessState(p.Cmd.ProcessState)
			j.mu.Unlock()
		}
		close(j.done)
	})
	<-j.done
}

// Manager owns every job between launch and reaping.
//
// Launch registers a job before releasing the lock, so Signal never sees a
// job that's only partially recorded.
type Manager struct {
	Log *log.Logger

	mu       sync.Mutex
	jobs     map[int]*Job
	finished []*Job
	nextID   int
}

// NewManager creates an empty job registry.
func NewManager() *Manager {
	return &Manager{
		jobs:   make(map[int]*Job),
		nextID: 1,
	}
}

func (m *Manager) logger() *log.Logger {
	if m.Log == nil {
		return log.New(ioutil.Discard, "", 0)
	}
	return m.Log
}

// Launch starts plan with l and registers the job if any member started.
func (m *Manager) Launch(l *Launcher, plan *Plan) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := l.Launch(plan)
	if err != nil {
		return nil, err
	}
	if job.Started() == 0 {
		// Nothing to wait for, reap only marks it done.
		job.reap()
		return job, nil
	}
	m.registerLocked(job)
	return job, nil
}

// Register adds a job launched elsewhere and returns its id.
func (m *Manager) Register(job *Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(job)
}

func (m *Manager) registerLocked(job *Job) int {
	job.ID = m.nextID
	m.nextID++
	m.jobs[job.ID] = job
	m.logger().Printf("registered job %d pgid=%d pids=%v", job.ID, job.Pgid, job.Pids())
	return job.ID
}

type jobRef struct {
	arg string
	job int
	pid int
}

// parseRef accepts a positive pid, %N, %% or %+.
func parseRef(arg string) (jobRef, error) {
	ref := jobRef{arg: arg}
	if strings.HasPrefix(arg, "%") {
		spec := arg[1:]
		if spec == "%" || spec == "+" || spec == "" {
			ref.job = -1
			return ref, nil
		}
		id, err := strconv.Atoi(spec)
		if err != nil || id <= 0 || strings.HasPrefix(spec, "+") {
			return ref, &TargetError{Arg: arg, Kind: InvalidTarget}
		}
		ref.job = id
		return ref, nil
	}

	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 || strings.HasPrefix(arg, "+") {
		return ref, &TargetError{Arg: arg, Kind: InvalidTarget}
	}
	ref.pid = pid
	return ref, nil
}

func findJob(jobs []*Job, ref jobRef) *Job {
	switch {
	case ref.job == -1:
		var latest *Job
		for _, j := range jobs {
			if latest == nil || j.ID > latest.ID {
				latest = j
			}
		}
		return latest
	case ref.job > 0:
		for _, j := range jobs {
			if j.ID == ref.job {
				return j
			}
		}
		return nil
	}

	for _, j := range jobs {
		if j.Pgid == ref.pid {
			return j
		}
		for _, pid := range j.Pids() {
			if pid == ref.pid {
				return j
			}
		}
	}
	return nil
}

func (m *Manager) activeLocked() []*Job {
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// waitableLocked is the active jobs plus background jobs that finished but
// were neither waited for nor announced yet.
func (m *Manager) waitableLocked() []*Job {
	out := m.activeLocked()
	for _, j := range m.finished {
		if !j.waited {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Lookup finds the job a pid or job reference belongs to. Background jobs
// that finished stay reachable until TakeFinished announces them.
func (m *Manager) Lookup(arg string) (*Job, error) {
	ref, err := parseRef(arg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if j := findJob(m.waitableLocked(), ref); j != nil {
		return j, nil
	}
	return nil, &TargetError{Arg: arg, Kind: NoSuchProcess}
}

// Signal delivers sig to the process group of the job arg refers to, so
// signaling any member stops the whole pipeline. A pid the shell didn't
// launch gets the signal directly. The returned job is nil in that case.
// Jobs that already finished are never signaled, their group may be reused.
func (m *Manager) Signal(arg string, sig syscall.Signal) (*Job, error) {
	ref, err := parseRef(arg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if j := findJob(m.activeLocked(), ref); j != nil {
		m.logger().Printf("signal %v to job %d pgid=%d", sig, j.ID, j.Pgid)
		return j, j.Signal(sig)
	}
	if ref.pid == 0 {
		return nil, &TargetError{Arg: arg, Kind: NoSuchProcess}
	}

	m.logger().Printf("signal %v to untracked pid %d", sig, ref.pid)
	if err := unix.Kill(ref.pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil, &TargetError{Arg: arg, Kind: NoSuchProcess}
		}
		return nil, fmt.Errorf("%s: %w", arg, err)
	}
	return nil, nil
}

// Wait blocks until every member of job has terminated, removes it from the
// active set and returns the pipeline status.
func (m *Manager) Wait(job *Job) int {
	m.mu.Lock()
	job.waited = true
	m.mu.Unlock()

	return m.reap(job)
}

func (m *Manager) reap(job *Job) int {
	job.reap()

	m.mu.Lock()
	if m.jobs[job.ID] == job {
		delete(m.jobs, job.ID)
		m.logger().Printf("reaped job %d: %v", job.ID, job.Statuses())
	}
	for i, j := range m.finished {
		if j == job {
			m.finished = append(m.finished[:i], m.finished[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	return job.ExitStatus()
}

// Background reaps job without blocking the caller. Once every member is
// reaped the job leaves the active set and is kept for TakeFinished, unless
// someone waited for it explicitly.
func (m *Manager) Background(job *Job) {
	go func() {
		job.reap()

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.jobs[job.ID] == job {
			delete(m.jobs, job.ID)
			m.logger().Printf("reaped background job %d: %v", job.ID, job.Statuses())
		}
		if !job.waited {
			m.finished = append(m.finished, job)
		}
	}()
}

// WaitAll waits for every job that can still be waited for and returns the
// status of the last one.
func (m *Manager) WaitAll() int {
	status := 0
	for _, j := range m.Waitable() {
		status = m.Wait(j)
	}
	return status
}

// Waitable returns the active jobs and the finished background jobs nobody
// waited for yet, ordered by id.
func (m *Manager) Waitable() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitableLocked()
}

// List returns the jobs that still have running members, ordered by id.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// TakeFinished returns background jobs that completed since the last call.
// After that they can no longer be looked up.
func (m *Manager) TakeFinished() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, j := range m.finished {
		if !j.waited {
			out = append(out, j)
		}
	}
	m.finished = nil
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}
