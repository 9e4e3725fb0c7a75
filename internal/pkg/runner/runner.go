package runner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

const (
	defaultTimeout     = 2 * time.Hour
	defaultGracePeriod = 10 * time.Second

	// maxLineSize bounds a single decoded output line. Long-running tools
	// can emit unbounded log volume, so streams are read incrementally and
	// never buffered whole.
	maxLineSize = 1 << 20

	// tailSize is the number of recent lines kept for outcome
	// classification and the failure summary.
	tailSize = 50
)

// Command describes one external tool invocation: a discrete argument
// list, environment and working directory. Arguments are never joined into
// a shell string, which keeps untrusted input out of shell interpretation.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// OnLine is invoked for every decoded output line of the process. It may
// be called concurrently from the stdout and stderr readers.
type OnLine func(stream jobsmodel.LogStream, line string)

// Outcome is the terminal classification of one supervised execution.
type Outcome struct {
	Status   jobsmodel.JobStatus
	ExitInfo jobsmodel.ExitInfo
}

// Config represents the runner constants configuration.
type Config struct {
	// Timeout is the maximum wall-clock duration of one execution.
	Timeout time.Duration
	// GracePeriod is how long a terminated process gets between SIGTERM
	// and SIGKILL.
	GracePeriod time.Duration
}

// Runner spawns and supervises external tool processes.
type Runner struct {
	cfg *Config
}

// New creates a new Runner.
func New(cfg *Config) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}

	return &Runner{cfg: cfg}
}

// endReason records why the process was killed, set before the signal is
// sent so Wait can classify the exit.
type endReason int

const (
	endReasonExit endReason = iota
	endReasonCanceled
	endReasonTimeout
)

// Process is one running supervised execution.
type Process struct {
	cfg *Config

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	reason endReason
	exited bool
	tail   []string

	readers sync.WaitGroup
	done    chan struct{}
	outcome *Outcome
}

// Start spawns the command and begins streaming its output. Each decoded
// line is passed to onLine. The process is terminated when ctx is
// canceled or the configured timeout elapses; in both cases it receives
// SIGTERM first and SIGKILL after the grace period.
func (r *Runner) Start(ctx context.Context, command *Command, onLine OnLine) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.Error(codes.Canceled, "context canceled before spawn")
	}

	//nolint:gosec // The argument list is constructed from validated input.
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir
	// Run the tool in its own process group so termination reaches any
	// children it spawns (decryptors, muxers).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to open stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to open stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to open stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "failed to spawn %s: %v", command.Path, err)
	}

	p := &Process{
		cfg:   r.cfg,
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	p.readers.Add(2)
	go p.readLines(stdout, jobsmodel.LogStreamStdout, onLine)
	go p.readLines(stderr, jobsmodel.LogStreamStderr, onLine)

	go p.supervise(ctx)
	go p.wait()

	return p, nil
}

// readLines forwards decoded lines from one stream.
func (p *Process) readLines(rc io.Reader, stream jobsmodel.LogStream, onLine OnLine) {
	defer p.readers.Done()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		p.appendTail(line)
		onLine(stream, line)
	}
}

// appendTail keeps the most recent output lines for classification.
func (p *Process) appendTail(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tail = append(p.tail, line)
	if len(p.tail) > tailSize {
		p.tail = p.tail[1:]
	}
}

// supervise terminates the process on cancellation or timeout.
func (p *Process) supervise(ctx context.Context) {
	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.terminate(endReasonCanceled)
	case <-timer.C:
		p.terminate(endReasonTimeout)
	}
}

// terminate records the reason, sends SIGTERM to the process group, waits
// out the grace period and force-kills whatever is left.
func (p *Process) terminate(reason endReason) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.reason = reason
	p.mu.Unlock()

	pgid := -p.cmd.Process.Pid
	//nolint:errcheck // The process may already be gone.
	syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(p.cfg.GracePeriod):
	}

	//nolint:errcheck // The process may already be gone.
	syscall.Kill(pgid, syscall.SIGKILL)
}

// wait collects the exit status once the output streams are drained.
func (p *Process) wait() {
	p.readers.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	reason := p.reason
	tail := strings.Join(p.tail, "\n")
	p.mu.Unlock()

	p.outcome = classify(reason, err, tail)
	close(p.done)
}

// Wait blocks until the process has fully exited and returns the terminal
// outcome. The process is guaranteed to be gone when Wait returns.
func (p *Process) Wait() *Outcome {
	<-p.done
	return p.outcome
}

// Input forwards one raw line to the tool's stdin, for tools that prompt
// interactively.
func (p *Process) Input(line string) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return status.Error(codes.FailedPrecondition, "process has already exited")
	}

	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return status.Errorf(codes.FailedPrecondition, "failed to write to stdin: %v", err)
	}
	return nil
}

// classify maps an exit into the terminal outcome taxonomy.
func classify(reason endReason, waitErr error, tail string) *Outcome {
	exitCode := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		exitCode = -1
	}

	switch reason {
	case endReasonCanceled:
		return &Outcome{
			Status: jobsmodel.JobStatusCanceled,
			ExitInfo: jobsmodel.ExitInfo{
				ExitCode:   exitCode,
				ErrorClass: jobsmodel.ErrorClassCanceled,
				Summary:    "canceled by request",
			},
		}
	case endReasonTimeout:
		return &Outcome{
			Status: jobsmodel.JobStatusFailed,
			ExitInfo: jobsmodel.ExitInfo{
				ExitCode:   exitCode,
				ErrorClass: jobsmodel.ErrorClassTimeout,
				Summary:    "execution exceeded the configured timeout",
			},
		}
	case endReasonExit:
	}

	if waitErr == nil {
		return &Outcome{
			Status:   jobsmodel.JobStatusCompleted,
			ExitInfo: jobsmodel.ExitInfo{ExitCode: 0},
		}
	}

	return &Outcome{
		Status: jobsmodel.JobStatusFailed,
		ExitInfo: jobsmodel.ExitInfo{
			ExitCode:   exitCode,
			ErrorClass: classifyOutput(tail),
			Summary:    summarize(tail),
		},
	}
}

// classifyOutput inspects the tool's recent output for a best-effort
// failure class. The classification is advisory.
func classifyOutput(tail string) jobsmodel.ErrorClass {
	lowered := strings.ToLower(tail)

	switch {
	case containsAny(lowered, "unauthorized", "forbidden", "login required", "cookies", "authentication", "401", "403"):
		return jobsmodel.ErrorClassAuth
	case containsAny(lowered, "not available", "unavailable", "not found", "404", "no longer", "removed"):
		return jobsmodel.ErrorClassContentUnavailable
	case containsAny(lowered, "network", "connection", "timed out", "temporary failure", "dns", "tls", "reset by peer"):
		return jobsmodel.ErrorClassNetwork
	default:
		return jobsmodel.ErrorClassUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// summarize returns the last non-empty output line, the most likely error
// message of a CLI tool.
func summarize(tail string) string {
	lines := strings.Split(tail, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "tool exited with a non-zero status"
}
