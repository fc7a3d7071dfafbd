// internal/executor/executor.go
//
// The wrapper owns the subprocess lifecycle for one agent invocation: spawn
// through a shell, feed the prompt on stdin, collect output, enforce the
// per-invocation timeout, and classify how it ended. It keeps a registry of
// in-flight runs so an interactive client can cancel the current or all
// executions. The wrapper never retries; retry policy lives in the session
// coordinator.
package executor

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/logging"
)

// Kind classifies how an execution ended.
type Kind int

const (
	// KindSuccess: exit 0 with non-whitespace stdout.
	KindSuccess Kind = iota
	// KindEmptyOutput: exit 0 but stdout was whitespace-only.
	KindEmptyOutput
	// KindNonZeroExit: the process exited with a non-zero code on its own.
	KindNonZeroExit
	// KindTimeout: the per-invocation timeout fired and the process group
	// was terminated.
	KindTimeout
	// KindCancelled: the caller requested cancellation.
	KindCancelled
	// KindSpawnError: the OS could not start the process.
	KindSpawnError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindEmptyOutput:
		return "empty-output"
	case KindNonZeroExit:
		return "non-zero-exit"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindSpawnError:
		return "spawn-error"
	}
	return "unknown"
}

// Outcome is the normalized result of one agent invocation.
type Outcome struct {
	ID       uuid.UUID
	Kind     Kind
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Err      string
}

// Failed reports whether the outcome counts as an agent failure. Cancelled
// aborts the turn instead of consuming a retry, so it is not a failure.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case KindSuccess, KindCancelled:
		return false
	}
	return true
}

type run struct {
	id       uuid.UUID
	cmd      *exec.Cmd
	cancelCh chan struct{}
	once     sync.Once
}

func (r *run) cancel() {
	r.once.Do(func() { close(r.cancelCh) })
}

// Option customizes a Wrapper.
type Option func(*Wrapper)

// WithLogger attaches a diagnostics logger.
func WithLogger(log *logging.Logger) Option {
	return func(w *Wrapper) { w.log = log }
}

// WithShell overrides the shell used to expand agent command strings.
func WithShell(shell string) Option {
	return func(w *Wrapper) {
		if shell != "" {
			w.shell = shell
		}
	}
}

// Wrapper executes agent subprocesses.
type Wrapper struct {
	log   *logging.Logger
	shell string

	mu       sync.Mutex
	inflight []*run
}

// New creates a wrapper.
func New(opts ...Option) *Wrapper {
	w := &Wrapper{shell: "sh"}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs the agent's command with prompt on stdin and returns the
// classified outcome. A timeout of 0 disables the timer. The process runs in
// its own process group so a timeout or cancellation kills the whole tree.
func (w *Wrapper) Execute(agent config.Agent, prompt string, timeout time.Duration) Outcome {
	cmd := exec.Command(w.shell, "-c", agent.Command)
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Outcome{ID: uuid.New(), Kind: KindSpawnError, Err: err.Error()}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		w.log.Printf("executor: spawn %q: %v", agent.Name, err)
		return Outcome{ID: uuid.New(), Kind: KindSpawnError, Err: err.Error()}
	}

	// The agent may exit before consuming all of its input; a broken pipe
	// here is expected and ignored.
	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	r := &run{id: uuid.New(), cmd: cmd, cancelCh: make(chan struct{})}
	w.track(r)
	defer w.untrack(r)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case waitErr := <-done:
		return w.classify(r, waitErr, stdout.String(), stderr.String(), time.Since(start))
	case <-timer:
		killProcessGroup(cmd)
		<-done
		w.log.Printf("executor: %q timed out after %v", agent.Name, timeout)
		return Outcome{ID: r.id, Kind: KindTimeout, Stderr: stderr.String(), Elapsed: time.Since(start)}
	case <-r.cancelCh:
		killProcessGroup(cmd)
		<-done
		w.log.Printf("executor: %q cancelled", agent.Name)
		return Outcome{ID: r.id, Kind: KindCancelled, Elapsed: time.Since(start)}
	}
}

func (w *Wrapper) classify(r *run, waitErr error, stdout, stderr string, elapsed time.Duration) Outcome {
	out := Outcome{ID: r.id, Stdout: stdout, Stderr: stderr, Elapsed: elapsed}
	if waitErr == nil {
		if isBlank(stdout) {
			out.Kind = KindEmptyOutput
		} else {
			out.Kind = KindSuccess
		}
		return out
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		out.Kind = KindNonZeroExit
		out.ExitCode = exitErr.ExitCode()
		return out
	}
	out.Kind = KindSpawnError
	out.Err = waitErr.Error()
	return out
}

func (w *Wrapper) track(r *run) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight = append(w.inflight, r)
}

func (w *Wrapper) untrack(r *run) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, candidate := range w.inflight {
		if candidate.id == r.id {
			w.inflight = append(w.inflight[:i], w.inflight[i+1:]...)
			return
		}
	}
}

// InFlight returns the number of executions currently running.
func (w *Wrapper) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// CancelCurrent terminates the most recently started execution. Its Execute
// call resolves with a Cancelled outcome. Returns false when nothing is
// running.
func (w *Wrapper) CancelCurrent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.inflight) == 0 {
		return false
	}
	w.inflight[len(w.inflight)-1].cancel()
	return true
}

// CancelAll terminates every in-flight execution and returns how many were
// cancelled.
func (w *Wrapper) CancelAll() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.inflight {
		r.cancel()
	}
	return len(w.inflight)
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
		default:
			return false
		}
	}
	return true
}
